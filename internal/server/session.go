package server

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/lounge/internal/authstore"
	"github.com/Tyrowin/lounge/internal/chat"
)

// join registers an authenticated identity in the room and announces it.
func (s *Server) join(id authstore.Identity, remote string) (*chat.Session, error) {
	sess, err := s.hub.Join(id, remote)
	if err != nil {
		return nil, err
	}
	s.proc.Enter(sess)
	return sess, nil
}

// handleLine applies the per-session limits before handing line to the
// command processor. Rejected lines are reported to the sender only.
func (s *Server) handleLine(sess *chat.Session, limiter *rateLimiter, line string) {
	if len(line) > s.opts.MaxLineLength {
		s.hub.Notify(sess, fmt.Sprintf("line too long (%d bytes, max %d); discarded", len(line), s.opts.MaxLineLength))
		return
	}
	if !limiter.allow() {
		s.log.Debug("rate limit exceeded; discarding line",
			zap.String("user", sess.Username()),
			zap.Int("burst", s.opts.RateLimit.Burst),
			zap.Duration("interval", s.opts.RateLimit.RefillInterval),
		)
		s.hub.Notify(sess, "slow down; line discarded")
		return
	}
	// Failures are already reported to sess as notices.
	_ = s.proc.Handle(sess, line)
}

// idleTimer fires onIdle when reset has not been called for d. A zero d
// disables it.
type idleTimer struct {
	mu sync.Mutex
	d  time.Duration
	t  *time.Timer
}

func newIdleTimer(d time.Duration, onIdle func()) *idleTimer {
	it := &idleTimer{d: d}
	if d > 0 {
		it.t = time.AfterFunc(d, onIdle)
	}
	return it
}

func (it *idleTimer) reset() {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.t != nil {
		it.t.Reset(it.d)
	}
}

func (it *idleTimer) stop() {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.t != nil {
		it.t.Stop()
	}
}
