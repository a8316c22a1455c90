package server

import "net/http"

// Handler returns the HTTP routes: the health check and the WebSocket
// endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.HealthHandler)
	mux.HandleFunc("/ws", s.WebSocketHandler)
	return mux
}
