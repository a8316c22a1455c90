package command

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Tyrowin/lounge/internal/authstore"
	"github.com/Tyrowin/lounge/internal/chat"
	"github.com/Tyrowin/lounge/internal/errs"
)

func builtinCommands() []command {
	return []command{
		{name: "add", usage: "/add <key-type> <base64-key> <name>[:admin]", help: "authorize a new key", admin: true, run: (*Processor).add},
		{name: "rename", usage: "/rename <new-name>", help: "change your display name", run: (*Processor).rename},
		{name: "commit", usage: "/commit", help: "write the authfile to disk", admin: true, run: (*Processor).commit},
		{name: "ban", usage: "/ban <name|SHA256:fingerprint>", help: "revoke a key and disconnect it", admin: true, run: (*Processor).ban},
		{name: "whois", usage: "/whois <name|SHA256:fingerprint>", help: "show who is behind a name or key", run: (*Processor).whois},
		{name: "who", usage: "/who", help: "list connected users", run: (*Processor).who},
		{name: "help", usage: "/help", help: "show this help", run: (*Processor).help},
	}
}

func (p *Processor) add(s *chat.Session, args string) error {
	e, err := authstore.ParseLine(args)
	if err != nil {
		return fmt.Errorf("usage %s: %w", p.commands["add"].usage, err)
	}
	if p.hub.UsernameInUse(e.Identity.Username, e.Identity.Fingerprint) {
		return errs.ErrUsernameTaken
	}
	id, err := p.store.AddEntry(e)
	if err != nil {
		return err
	}
	p.log.Info("key added",
		zap.String("by", s.Username()),
		zap.String("user", id.Username),
		zap.Stringer("role", id.Role),
		zap.String("fingerprint", id.Fingerprint),
	)
	p.hub.Notify(s, fmt.Sprintf("added %s %s (%s); /commit to persist", id.Title(), id.Fingerprint, e.Key.Type()))
	return nil
}

func (p *Processor) rename(s *chat.Session, args string) error {
	old, applied, err := p.hub.Rename(s, args)
	if err != nil {
		return err
	}
	if old == applied {
		p.hub.Notify(s, "you are already known as "+applied)
		return nil
	}
	if _, err := p.store.Rename(s.Fingerprint(), applied); err != nil {
		p.log.Warn("rename not recorded in authfile",
			zap.String("fingerprint", s.Fingerprint()),
			zap.Error(err),
		)
		if errors.Is(err, errs.ErrNotFound) {
			p.hub.Notify(s, "your key is no longer in the authfile; the new name lasts for this session only")
		}
	}
	p.hub.Announce(fmt.Sprintf("%s is now known as %s", old, applied))
	return nil
}

func (p *Processor) commit(s *chat.Session, _ string) error {
	wasDirty := p.store.Dirty()
	if err := p.store.Commit(); err != nil {
		p.log.Error("commit failed", zap.String("by", s.Username()), zap.Error(err))
		return err
	}
	p.log.Info("authfile committed", zap.String("by", s.Username()), zap.Int("keys", p.store.Len()))
	if !wasDirty {
		p.hub.Notify(s, fmt.Sprintf("no pending changes; authfile rewritten (%d keys)", p.store.Len()))
		return nil
	}
	p.hub.Notify(s, fmt.Sprintf("authfile committed (%d keys)", p.store.Len()))
	return nil
}

func (p *Processor) reload(s *chat.Session, _ string) error {
	if err := p.store.Reload(); err != nil {
		p.log.Error("reload failed", zap.String("by", s.Username()), zap.Error(err))
		return err
	}
	p.log.Info("authfile reloaded", zap.String("by", s.Username()), zap.Int("keys", p.store.Len()))
	p.hub.Announce(fmt.Sprintf("authfile reloaded by %s (%d keys)", s.Username(), p.store.Len()))
	return nil
}

func (p *Processor) ban(s *chat.Session, args string) error {
	q, err := authstore.ParseQuery(args)
	if err != nil {
		return err
	}
	ids := p.store.Lookup(q)
	switch {
	case len(ids) == 0:
		return fmt.Errorf("%w: %s", errs.ErrNotFound, q)
	case len(ids) > 1:
		return fmt.Errorf("%w: %s, use the SHA256 fingerprint", errs.ErrAmbiguous, q)
	}
	target := ids[0]
	if target.Fingerprint == s.Fingerprint() {
		return errs.ErrBanSelf
	}
	if _, err := p.store.Remove(target.Fingerprint); err != nil {
		return err
	}
	// Banned sessions leave silently; the ban announcement replaces it.
	for _, c := range p.hub.Find(authstore.Query{Fingerprint: target.Fingerprint}) {
		c.MarkExited()
		p.hub.Notify(c, "your key was removed by "+s.Username())
	}
	kicked := p.hub.Kick(target.Fingerprint)
	p.log.Info("key banned",
		zap.String("by", s.Username()),
		zap.String("user", target.Username),
		zap.String("fingerprint", target.Fingerprint),
		zap.Int("disconnected", len(kicked)),
	)
	p.hub.Announce(fmt.Sprintf("%s was banned by %s", target.Username, s.Username()))
	p.hub.Notify(s, "key removed; /commit to persist")
	return nil
}

func (p *Processor) whois(s *chat.Session, args string) error {
	q, err := authstore.ParseQuery(args)
	if err != nil {
		return err
	}
	sessions := p.hub.Find(q)
	ids := p.store.Lookup(q)
	if len(sessions) == 0 && len(ids) == 0 {
		return fmt.Errorf("%w: %s", errs.ErrNotFound, q)
	}
	for _, id := range ids {
		p.hub.Notify(s, fmt.Sprintf("%s %s authorized", id.Title(), id.Fingerprint))
	}
	for _, c := range sessions {
		p.hub.Notify(s, fmt.Sprintf("%s %s connected since %s from %s",
			c.Identity().Title(), c.Fingerprint(), c.JoinedAt().Format("2006-01-02 15:04"), c.Remote()))
	}
	return nil
}

func (p *Processor) who(s *chat.Session, _ string) error {
	sessions := p.hub.Sessions()
	names := make([]string, 0, len(sessions))
	for _, c := range sessions {
		name := c.Username()
		if c.IsAdmin() {
			name += " (admin)"
		}
		names = append(names, name)
	}
	p.hub.Notify(s, fmt.Sprintf("%d connected: %s", len(names), strings.Join(names, ", ")))
	return nil
}

func (p *Processor) help(s *chat.Session, _ string) error {
	for _, c := range p.sortedCommands() {
		if c.admin && !s.IsAdmin() {
			continue
		}
		p.hub.Notify(s, fmt.Sprintf("%-36s %s", c.usage, c.help))
	}
	if s.IsAdmin() {
		p.hub.Notify(s, fmt.Sprintf("%-36s %s", "Ctrl-R", "reload the authfile from disk"))
	}
	return nil
}
