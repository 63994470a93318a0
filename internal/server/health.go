package server

import (
	"context"
	"net/http"
	"time"
)

const healthProbeTimeout = 3 * time.Second

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "voicegate",
		"endpoints": map[string]string{
			"stream":    "/ws/stream",
			"inference": "/v1/inference",
			"health":    "/health",
		},
	})
}

// handleHealth probes backend reachability with a short-lived session.
// A gateway whose backend is down reports degraded but still serves 200,
// so load balancers keep routing admin traffic.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
	defer cancel()

	backendStatus := "ok"
	if handle, err := s.connector.Open(ctx); err != nil {
		backendStatus = "unreachable"
	} else {
		handle.Close()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"backend": backendStatus,
	})
}
