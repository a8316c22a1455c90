// Package command interprets lines typed by a session: slash commands are
// privilege-checked and applied to the authorization store and the room,
// everything else is broadcast as chat.
package command

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/Tyrowin/lounge/internal/authstore"
	"github.com/Tyrowin/lounge/internal/chat"
	"github.com/Tyrowin/lounge/internal/errs"
)

// Keyring is the mutable side of the authorization store.
type Keyring interface {
	AddEntry(e authstore.Entry) (authstore.Identity, error)
	Rename(fingerprint, raw string) (string, error)
	Remove(fingerprint string) (authstore.Identity, error)
	Lookup(q authstore.Query) []authstore.Identity
	Reload() error
	Commit() error
	Dirty() bool
	Len() int
}

type handlerFunc func(p *Processor, s *chat.Session, args string) error

type command struct {
	name  string
	usage string
	help  string
	admin bool
	run   handlerFunc
}

// Processor dispatches lines from sessions. It holds no state of its own
// besides its collaborators and is safe for concurrent use.
type Processor struct {
	store    Keyring
	hub      *chat.Hub
	log      *zap.Logger
	commands map[string]command
}

// New wires a Processor to the store and the room.
func New(store Keyring, hub *chat.Hub, log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Processor{store: store, hub: hub, log: log, commands: make(map[string]command)}
	for _, c := range builtinCommands() {
		p.commands[c.name] = c
	}
	return p
}

// Enter announces a freshly joined session to the room.
func (p *Processor) Enter(s *chat.Session) {
	p.hub.Announce(fmt.Sprintf("%s has joined the chat with %s privileges", s.Username(), s.Role()))
	p.hub.Notify(s, "welcome to the lounge; type /help for commands")
}

// Exit removes s from the room and announces it once, whether the session
// closed its connection or was dropped by the hub.
func (p *Processor) Exit(s *chat.Session) {
	p.hub.Leave(s.ID)
	if s.MarkExited() {
		p.hub.Announce(fmt.Sprintf("%s with %s privileges has left the chat", s.Username(), s.Role()))
	}
}

// Handle processes one complete line from s. Command failures are reported
// to s as a notice and also returned; they never reach other sessions.
func (p *Processor) Handle(s *chat.Session, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if strings.HasPrefix(line, "/") {
		name, args, _ := strings.Cut(line[1:], " ")
		if c, ok := p.commands[strings.ToLower(name)]; ok {
			return p.run(c, s, strings.TrimSpace(args))
		}
	}
	p.hub.Say(s, line)
	return nil
}

// Reload is the out-of-band admin trigger: it replaces the in-memory store
// with the authfile on disk and announces it to the room.
func (p *Processor) Reload(s *chat.Session) error {
	return p.run(command{name: "reload", admin: true, run: (*Processor).reload}, s, "")
}

func (p *Processor) run(c command, s *chat.Session, args string) error {
	var err error
	if c.admin && !s.IsAdmin() {
		err = fmt.Errorf("%w: %s requires admin privileges", errs.ErrUnauthorized, c.name)
	} else {
		err = c.run(p, s, args)
	}
	if err != nil {
		p.log.Debug("command failed",
			zap.String("command", c.name),
			zap.String("user", s.Username()),
			zap.Error(err),
		)
		p.hub.Notify(s, describe(c, err))
	}
	return err
}

func describe(c command, err error) string {
	switch {
	case errors.Is(err, errs.ErrUnauthorized):
		return fmt.Sprintf("unauthorized: %s requires admin privileges", c.name)
	case errors.Is(err, errs.ErrUsernameTaken):
		return c.name + " failed: that name is used by a connected session"
	case errors.Is(err, errs.ErrEmptyUsername):
		return c.name + " failed: names may only contain letters, digits and @ . _ -"
	}
	return fmt.Sprintf("%s failed: %v", c.name, err)
}

func (p *Processor) sortedCommands() []command {
	out := make([]command, 0, len(p.commands))
	for _, c := range p.commands {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}
