package server

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The gateway authenticates by API key, not origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStream upgrades the request to a WebSocket and hands it to the
// relay. Authentication and rate limiting happened in middleware before the
// upgrade, so a rejected client gets a proper HTTP error instead of a
// half-open socket.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	rec := keyRecordFromContext(r.Context())
	logger := s.logger.With(
		slog.String("request_id", RequestIDFromContext(r.Context())),
		slog.String("key_id", rec.ID),
	)

	if err := s.relay.Run(r.Context(), conn); err != nil {
		logger.Warn("streaming session ended with error", slog.String("error", err.Error()))
	}
}
