package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
)

// healthStatus is the body of the health endpoint.
type healthStatus struct {
	Status      string `json:"status"`
	State       string `json:"state"`
	Connections int    `json:"connections"`
	Users       int    `json:"users"`
}

// WebSocketHandler upgrades GET requests and adopts the connection. Every
// text frame carries one protocol line.
func (s *Server) WebSocketHandler() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.check,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}

		transport := NewWebSocketTransport(conn, r.RemoteAddr, s.cfg.MaxMessageSize, s.cfg.WriteTimeout)
		if _, err := s.Adopt(transport); err != nil {
			s.logger.Warn("connection refused", "remote", r.RemoteAddr, "error", err)
		}
	}
}

// HealthHandler reports lifecycle state and current counts as JSON.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	state := s.State()
	status := healthStatus{
		Status:      "ok",
		State:       state.String(),
		Connections: s.Connections(),
		Users:       s.users.Len(),
	}

	code := http.StatusOK
	if state == StateShuttingDown || state == StateStopped {
		status.Status = "unavailable"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Warn("error writing health response", "error", err)
	}
}
