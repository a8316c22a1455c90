package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Tyrowin/lounge/internal/authstore"
	"github.com/Tyrowin/lounge/internal/errs"
)

// Options configures a Hub.
type Options struct {
	// HistorySize is the number of broadcast messages replayed on join.
	HistorySize int
	// OutboundBuffer is the per-session queue length on top of the replay.
	OutboundBuffer int
	// SendTimeout bounds how long one delivery round waits on full session
	// queues before those sessions are dropped. All sessions of a round share
	// the same deadline. Zero drops immediately.
	SendTimeout time.Duration
}

// Hub is the single chat room. Every mutation of the registry or the
// history, and every delivery, happens under mu; deliveries are channel
// sends, never network writes, so critical sections stay short and every
// session observes broadcasts in the same order.
type Hub struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	history  *History
	joinSeq  uint64
	msgSeq   uint64
	closed   bool

	outboundBuffer int
	sendTimeout    time.Duration
	log            *zap.Logger
	now            func() time.Time
}

// NewHub creates an empty room.
func NewHub(opt Options, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	if opt.OutboundBuffer <= 0 {
		opt.OutboundBuffer = 256
	}
	if opt.SendTimeout < 0 {
		opt.SendTimeout = 0
	}
	return &Hub{
		sessions:       make(map[uuid.UUID]*Session),
		history:        NewHistory(opt.HistorySize),
		outboundBuffer: opt.OutboundBuffer,
		sendTimeout:    opt.SendTimeout,
		log:            log,
		now:            time.Now,
	}
}

// Join registers a session for id and queues the current history on it. The
// snapshot and the registration happen atomically with respect to
// Broadcast, so the session sees every message exactly once.
func (h *Hub) Join(id authstore.Identity, remote string) (*Session, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, errs.ErrHubClosed
	}
	h.joinSeq++
	s := newSession(h.joinSeq, id, remote, h.history.Cap()+h.outboundBuffer, h.now())
	for _, m := range h.history.Snapshot() {
		s.out <- m
	}
	h.sessions[s.ID] = s
	count := len(h.sessions)
	h.mu.Unlock()

	h.log.Info("session joined",
		zap.String("session", s.ID.String()),
		zap.String("user", id.Username),
		zap.String("remote", remote),
		zap.Int("sessions", count),
	)
	return s, nil
}

// Leave unregisters the session and closes its outbound channel. It returns
// false when the session was already gone.
func (h *Hub) Leave(id uuid.UUID) bool {
	h.mu.Lock()
	s, ok := h.sessions[id]
	if ok {
		delete(h.sessions, id)
		s.close()
	}
	count := len(h.sessions)
	h.mu.Unlock()

	if ok {
		h.log.Info("session left",
			zap.String("session", id.String()),
			zap.String("user", s.Username()),
			zap.Int("sessions", count),
		)
	}
	return ok
}

// Broadcast stamps m with the next sequence number, stores it in history and
// queues it on every registered session. Sessions that cannot accept it
// within the send timeout are dropped. Only chat and system messages are
// broadcast; a notice is refused and returned without a sequence number.
func (h *Hub) Broadcast(m Message) Message {
	if m.Kind == KindNotice {
		h.log.DPanic("notice passed to Broadcast", zap.String("body", m.Body))
		return m
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return m
	}
	h.msgSeq++
	m.Seq = h.msgSeq
	if m.Time.IsZero() {
		m.Time = h.now()
	}
	h.history.Push(m)

	ctx, cancel := h.sendContext()
	var failed []*Session
	for _, s := range h.sessions {
		if !h.safeSend(ctx, s, m) {
			failed = append(failed, s)
		}
	}
	cancel()
	h.removeFailedSessions(failed)
	h.mu.Unlock()

	h.logDropped(failed)
	return m
}

// Say broadcasts body as a chat line from s.
func (h *Hub) Say(s *Session, body string) Message {
	return h.Broadcast(Message{
		Kind:     KindChat,
		Sender:   s.ID,
		Username: s.Username(),
		Body:     body,
	})
}

// Announce broadcasts a system line.
func (h *Hub) Announce(body string) Message {
	return h.Broadcast(Message{Kind: KindSystem, Body: body})
}

// Notify queues a private notice on s only. Notices are not kept in history.
func (h *Hub) Notify(s *Session, body string) {
	h.mu.Lock()
	registered, ok := h.sessions[s.ID]
	var failed []*Session
	if ok {
		ctx, cancel := h.sendContext()
		if !h.safeSend(ctx, registered, h.notice(body)) {
			failed = append(failed, registered)
			h.removeFailedSessions(failed)
		}
		cancel()
	}
	h.mu.Unlock()

	h.logDropped(failed)
}

// NotifyAdmins queues a private notice on every admin session.
func (h *Hub) NotifyAdmins(body string) int {
	h.mu.Lock()
	m := h.notice(body)
	ctx, cancel := h.sendContext()
	var failed []*Session
	sent := 0
	for _, s := range h.sessions {
		if !s.IsAdmin() {
			continue
		}
		if h.safeSend(ctx, s, m) {
			sent++
		} else {
			failed = append(failed, s)
		}
	}
	cancel()
	h.removeFailedSessions(failed)
	h.mu.Unlock()

	h.logDropped(failed)
	return sent
}

func (h *Hub) notice(body string) Message {
	return Message{Kind: KindNotice, Time: h.now(), Body: body}
}

// Rename sanitizes raw and applies it to s unless another connected session
// already presents that name. It returns the previous and the applied name.
func (h *Hub) Rename(s *Session, raw string) (string, string, error) {
	name := authstore.Sanitize(raw)
	if name == "" {
		return "", "", errs.ErrEmptyUsername
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[s.ID]; !ok {
		return "", "", errs.ErrNotFound
	}
	for _, other := range h.sessions {
		if other.ID != s.ID && other.Username() == name {
			return "", "", errs.ErrUsernameTaken
		}
	}
	old := s.Username()
	s.setUsername(name)
	return old, name, nil
}

// UsernameInUse reports whether a connected session other than those
// authenticated with exceptFingerprint presents name.
func (h *Hub) UsernameInUse(name, exceptFingerprint string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.sessions {
		if s.fingerprint != exceptFingerprint && s.Username() == name {
			return true
		}
	}
	return false
}

// Sessions returns the connected sessions in join order.
func (h *Hub) Sessions() []*Session {
	sessions := h.getSessionSnapshot()
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].seq < sessions[j].seq })
	return sessions
}

// Find returns the connected sessions selected by q, in join order.
func (h *Hub) Find(q authstore.Query) []*Session {
	var out []*Session
	for _, s := range h.Sessions() {
		if q.Matches(s.Identity()) {
			out = append(out, s)
		}
	}
	return out
}

// Kick disconnects every session authenticated with fingerprint.
func (h *Hub) Kick(fingerprint string) []*Session {
	h.mu.Lock()
	var kicked []*Session
	for id, s := range h.sessions {
		if s.fingerprint == fingerprint {
			delete(h.sessions, id)
			s.close()
			kicked = append(kicked, s)
		}
	}
	h.mu.Unlock()

	for _, s := range kicked {
		h.log.Info("session kicked", zap.String("session", s.ID.String()), zap.String("user", s.Username()))
	}
	return kicked
}

// History returns a copy of the replay buffer, oldest first.
func (h *Hub) History() []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.history.Snapshot()
}

// Len returns the number of connected sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Close drops every session and refuses further joins.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	count := len(h.sessions)
	for id, s := range h.sessions {
		delete(h.sessions, id)
		s.close()
	}
	h.mu.Unlock()

	h.log.Info("hub closed", zap.Int("sessions", count))
}

// getSessionSnapshot returns a thread-safe snapshot of all current sessions
func (h *Hub) getSessionSnapshot() []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// sendContext returns the deadline shared by one delivery round, so mu is
// held for at most sendTimeout however many queues are full.
func (h *Hub) sendContext() (context.Context, context.CancelFunc) {
	if h.sendTimeout <= 0 {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx, cancel
	}
	return context.WithTimeout(context.Background(), h.sendTimeout)
}

// safeSend must be called with mu held. It tries a non-blocking send and then
// waits for room in the session's queue until ctx is done.
func (h *Hub) safeSend(ctx context.Context, s *Session, m Message) bool {
	if !s.Alive() {
		return false
	}
	select {
	case s.out <- m:
		return true
	default:
	}
	if ctx.Err() != nil {
		return false
	}
	select {
	case s.out <- m:
		return true
	case <-ctx.Done():
		return false
	}
}

// removeFailedSessions must be called with mu held.
func (h *Hub) removeFailedSessions(failed []*Session) {
	for _, s := range failed {
		if _, ok := h.sessions[s.ID]; ok {
			delete(h.sessions, s.ID)
			s.close()
		}
	}
}

func (h *Hub) logDropped(failed []*Session) {
	for _, s := range failed {
		h.log.Warn("session dropped due to full send buffer",
			zap.String("session", s.ID.String()),
			zap.String("user", s.Username()),
			zap.String("remote", s.remote),
		)
	}
}
