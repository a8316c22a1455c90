package server

import (
	"errors"
	"net"
	"strings"
	"time"

	"github.com/Tyrowin/lounge/internal/chat"
)

// Frame types exchanged over the WebSocket transport.
const (
	frameChallenge     = "challenge"
	frameAuth          = "auth"
	frameAuthenticated = "authenticated"
	frameError         = "error"
	frameLine          = "line"
	frameReload        = "reload"
)

// Signature is an SSH signature in JSON form. Blob is base64 encoded on the
// wire.
type Signature struct {
	Format string `json:"format"`
	Blob   []byte `json:"blob"`
}

// ClientFrame is every frame a WebSocket client may send.
type ClientFrame struct {
	Type      string     `json:"type"`
	Body      string     `json:"body,omitempty"`
	Key       string     `json:"key,omitempty"`
	Signature *Signature `json:"signature,omitempty"`
}

// ServerFrame is every frame the server sends. Room traffic uses the message
// kinds as type: "message", "system" and "notice".
type ServerFrame struct {
	Type  string     `json:"type"`
	Seq   uint64     `json:"seq,omitempty"`
	Time  *time.Time `json:"time,omitempty"`
	User  string     `json:"user,omitempty"`
	Role  string     `json:"role,omitempty"`
	Body  string     `json:"body,omitempty"`
	Nonce []byte     `json:"nonce,omitempty"`
}

func frameFromMessage(m chat.Message) ServerFrame {
	t := m.Time
	return ServerFrame{
		Type: m.Kind.String(),
		Seq:  m.Seq,
		Time: &t,
		User: m.Username,
		Body: m.Body,
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil || errors.Is(err, net.ErrClosed) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
