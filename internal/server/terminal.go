package server

import (
	"errors"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/term"

	"github.com/Tyrowin/lounge/internal/authstore"
	"github.com/Tyrowin/lounge/internal/chat"
)

// keyCtrlR triggers an authfile reload for admins.
const keyCtrlR = 0x12

type ptyRequest struct {
	Term    string
	Columns uint32
	Rows    uint32
	Width   uint32
	Height  uint32
	Modes   string
}

type windowChange struct {
	Columns uint32
	Rows    uint32
	Width   uint32
	Height  uint32
}

func prompt(sess *chat.Session) string {
	return "[" + sess.Username() + "] "
}

// serveTerminal runs the line editor for one session channel.
func (s *Server) serveTerminal(id authstore.Identity, remote string, ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer ch.Close()
	t := term.NewTerminal(ch, "")

	shell := make(chan struct{})
	reqsDone := make(chan struct{})
	go func() {
		defer close(reqsDone)
		serveChannelRequests(reqs, t, shell)
	}()
	select {
	case <-shell:
	case <-reqsDone:
		select {
		case <-shell:
		default:
			return
		}
	case <-time.After(s.opts.HandshakeTimeout):
		s.log.Debug("no shell requested", zap.String("remote", remote))
		return
	}

	sess, err := s.join(id, remote)
	if err != nil {
		_, _ = t.Write([]byte("lounge is shutting down\n"))
		return
	}
	defer s.proc.Exit(sess)

	t.SetPrompt(prompt(sess))
	t.AutoCompleteCallback = func(line string, pos int, key rune) (string, int, bool) {
		if key != keyCtrlR {
			return "", 0, false
		}
		// Failures reach the session as notices.
		_ = s.proc.Reload(sess)
		return line, pos, true
	}
	go pumpTerminal(sess, t, ch)

	limiter := newRateLimiter(s.opts.RateLimit)
	idle := newIdleTimer(s.opts.IdleTimeout, func() {
		s.log.Info("closing idle session", zap.String("user", sess.Username()))
		_ = ch.Close()
	})
	defer idle.stop()

	for {
		line, err := t.ReadLine()
		if err != nil && !errors.Is(err, term.ErrPasteIndicator) {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("terminal read", zap.String("user", sess.Username()), zap.Error(err))
			}
			return
		}
		idle.reset()
		s.handleLine(sess, limiter, line)
	}
}

// pumpTerminal renders the session's outbound queue until the hub closes it,
// then closes the channel so the reader stops too.
func pumpTerminal(sess *chat.Session, t *term.Terminal, ch ssh.Channel) {
	defer ch.Close()
	for m := range sess.Outbound() {
		t.SetPrompt(prompt(sess))
		if _, err := t.Write([]byte(m.Render() + "\n")); err != nil {
			return
		}
	}
}

func serveChannelRequests(reqs <-chan *ssh.Request, t *term.Terminal, shell chan<- struct{}) {
	started := false
	for req := range reqs {
		ok := false
		switch req.Type {
		case "pty-req":
			var p ptyRequest
			if err := ssh.Unmarshal(req.Payload, &p); err == nil {
				_ = t.SetSize(int(p.Columns), int(p.Rows))
				ok = true
			}
		case "window-change":
			var w windowChange
			if err := ssh.Unmarshal(req.Payload, &w); err == nil {
				_ = t.SetSize(int(w.Columns), int(w.Rows))
				ok = true
			}
		case "env":
			ok = true
		case "shell":
			if !started {
				started = true
				ok = true
				close(shell)
			}
		}
		if req.WantReply {
			_ = req.Reply(ok, nil)
		}
	}
}
