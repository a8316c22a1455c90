// Package chat implements the shared room: the registry of live sessions,
// the bounded replay history and the ordered broadcast fan-out.
package chat

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes how a message is produced and rendered.
type Kind int

const (
	// KindChat is a line typed by a participant.
	KindChat Kind = iota
	// KindSystem is a room-wide announcement (joins, renames, reloads).
	KindSystem
	// KindNotice is addressed to a single session and never kept in history.
	KindNotice
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindSystem:
		return "system"
	case KindNotice:
		return "notice"
	default:
		return "message"
	}
}

// Message is one entry of the room's broadcast order. Seq is assigned by the
// hub for broadcast messages and is zero for notices.
type Message struct {
	Seq      uint64
	Kind     Kind
	Sender   uuid.UUID
	Username string
	Time     time.Time
	Body     string
}

// Render formats the message as a single terminal line.
func (m Message) Render() string {
	switch m.Kind {
	case KindSystem:
		return fmt.Sprintf("[%s] * %s", m.Time.Format("15:04"), m.Body)
	case KindNotice:
		return "! " + m.Body
	default:
		return fmt.Sprintf("[%s] %s: %s", m.Time.Format("15:04"), m.Username, m.Body)
	}
}
