package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/lounge/internal/errs"
)

// WebSocketHandler upgrades the request, authenticates the peer with a signed
// challenge and serves its session until either side closes.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	s.trackConn(conn)
	defer s.untrackConn(conn)
	defer conn.Close()

	conn.SetReadLimit(s.opts.MaxFrameSize)

	id, err := s.authenticateWebSocket(conn)
	if err != nil {
		s.log.Info("websocket authentication failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		if errors.Is(err, errs.ErrUnauthorized) {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteJSON(ServerFrame{Type: frameError, Body: "authentication failed"})
		}
		return
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(ServerFrame{Type: frameAuthenticated, User: id.Username, Role: id.Role.String()}); err != nil {
		return
	}

	sess, err := s.join(id, r.RemoteAddr)
	if err != nil {
		_ = conn.WriteJSON(ServerFrame{Type: frameError, Body: "lounge is shutting down"})
		return
	}
	s.log.Info("websocket session started", zap.String("remote", r.RemoteAddr), zap.String("user", id.Username))

	client := newClient(conn, s, sess, r.RemoteAddr)
	idle := newIdleTimer(s.opts.IdleTimeout, func() {
		client.log.Info("closing idle session")
		_ = conn.Close()
	})
	defer idle.stop()

	go client.writePump()
	client.readPump(idle)
}

// HealthHandler reports liveness and the number of connected sessions.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "lounge is running (%d connected)\n", s.hub.Len())
}
