package server

import (
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/ssh"

	"github.com/Tyrowin/lounge/internal/authstore"
	"github.com/Tyrowin/lounge/internal/errs"
)

const (
	challengeSize = 32
	// challengeContext is prepended to the nonce before signing so the
	// signature cannot be replayed as an SSH userauth signature.
	challengeContext = "lounge-websocket-auth-v1:"
)

func challengePayload(nonce []byte) []byte {
	return append([]byte(challengeContext), nonce...)
}

// SignChallenge produces the signature a WebSocket client returns in its
// auth frame for nonce.
func SignChallenge(signer ssh.Signer, nonce []byte) (*Signature, error) {
	sig, err := signer.Sign(rand.Reader, challengePayload(nonce))
	if err != nil {
		return nil, err
	}
	return &Signature{Format: sig.Format, Blob: sig.Blob}, nil
}

// authenticateWebSocket runs the challenge exchange on a freshly upgraded
// connection and resolves the proven key.
func (s *Server) authenticateWebSocket(conn *websocket.Conn) (authstore.Identity, error) {
	nonce := make([]byte, challengeSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return authstore.Identity{}, fmt.Errorf("generate challenge: %w", err)
	}

	deadline := time.Now().Add(s.opts.AuthTimeout)
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(ServerFrame{Type: frameChallenge, Nonce: nonce}); err != nil {
		return authstore.Identity{}, fmt.Errorf("write challenge: %w", err)
	}

	_ = conn.SetReadDeadline(deadline)
	var f ClientFrame
	if err := conn.ReadJSON(&f); err != nil {
		return authstore.Identity{}, fmt.Errorf("read auth frame: %w", err)
	}
	if f.Type != frameAuth || f.Signature == nil {
		return authstore.Identity{}, fmt.Errorf("%w: expected a signed auth frame", errs.ErrUnauthorized)
	}

	key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(f.Key))
	if err != nil {
		return authstore.Identity{}, fmt.Errorf("%w: unparseable key", errs.ErrUnauthorized)
	}
	sig := &ssh.Signature{Format: f.Signature.Format, Blob: f.Signature.Blob}
	if err := key.Verify(challengePayload(nonce), sig); err != nil {
		return authstore.Identity{}, fmt.Errorf("%w: bad signature", errs.ErrUnauthorized)
	}
	return s.resolver.AuthenticateKey(key)
}
