package chat

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/lounge/internal/authstore"
)

// Session is the room-side state of one authenticated connection. Its
// outbound channel is written only by the hub and closed when the session
// leaves or is dropped; the transport drains it.
type Session struct {
	ID uuid.UUID

	seq         uint64
	fingerprint string
	role        authstore.Role
	remote      string
	joinedAt    time.Time

	mu       sync.RWMutex
	username string

	out    chan Message
	closed atomic.Bool
	exited atomic.Bool
}

func newSession(seq uint64, id authstore.Identity, remote string, buffer int, now time.Time) *Session {
	return &Session{
		ID:          uuid.New(),
		seq:         seq,
		fingerprint: id.Fingerprint,
		role:        id.Role,
		remote:      remote,
		joinedAt:    now,
		username:    id.Username,
		out:         make(chan Message, buffer),
	}
}

// Outbound returns the channel the transport drains. It is closed when the
// session is removed from the hub.
func (s *Session) Outbound() <-chan Message {
	return s.out
}

// Identity returns the current identity snapshot.
func (s *Session) Identity() authstore.Identity {
	return authstore.Identity{
		Fingerprint: s.fingerprint,
		Username:    s.Username(),
		Role:        s.role,
	}
}

// Username returns the current display name.
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

func (s *Session) setUsername(name string) {
	s.mu.Lock()
	s.username = name
	s.mu.Unlock()
}

// Fingerprint returns the key fingerprint the session authenticated with.
func (s *Session) Fingerprint() string { return s.fingerprint }

// Role returns the role captured at authentication time.
func (s *Session) Role() authstore.Role { return s.role }

// IsAdmin reports whether the session authenticated as an admin.
func (s *Session) IsAdmin() bool { return s.role == authstore.RoleAdmin }

// Remote returns the peer address reported by the transport.
func (s *Session) Remote() string { return s.remote }

// JoinedAt returns when the session entered the room.
func (s *Session) JoinedAt() time.Time { return s.joinedAt }

// Alive reports whether the session is still registered with the hub.
func (s *Session) Alive() bool { return !s.closed.Load() }

// MarkExited returns true only for the first caller, so teardown work such
// as the leave announcement runs once per session.
func (s *Session) MarkExited() bool {
	return s.exited.CompareAndSwap(false, true)
}

// close must be called with the hub lock held.
func (s *Session) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.out)
	}
}
