// Package server is the gateway front: it accepts inbound connections,
// authenticates them against the key registry, consults the rate limiter,
// and dispatches to the streaming relay or the batch pipeline.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/personaplex/voicegate/internal/backend"
	"github.com/personaplex/voicegate/internal/batch"
	"github.com/personaplex/voicegate/internal/keys"
	"github.com/personaplex/voicegate/internal/ratelimit"
	"github.com/personaplex/voicegate/internal/relay"
)

const adminTimeout = 30 * time.Second

type Server struct {
	Router *chi.Mux
	Port   int

	logger      *slog.Logger
	registry    *keys.Registry
	limiter     *ratelimit.Limiter
	connector   *backend.Connector
	relay       *relay.Relay
	pipeline    *batch.Pipeline
	adminSecret string

	httpServer *http.Server
}

// New assembles the router with the full middleware chain and all routes.
func New(
	port int,
	logger *slog.Logger,
	registry *keys.Registry,
	limiter *ratelimit.Limiter,
	connector *backend.Connector,
	streamRelay *relay.Relay,
	pipeline *batch.Pipeline,
	adminSecret string,
) *Server {
	s := &Server{
		Router:      chi.NewRouter(),
		Port:        port,
		logger:      logger,
		registry:    registry,
		limiter:     limiter,
		connector:   connector,
		relay:       streamRelay,
		pipeline:    pipeline,
		adminSecret: adminSecret,
	}

	r := s.Router

	// Apply middleware in order
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)

	// Wrap with OpenTelemetry HTTP instrumentation
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "voicegate")
	})

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)

	r.Route("/admin", func(r chi.Router) {
		r.Use(TimeoutMiddleware(adminTimeout))
		r.Use(s.AdminAuthMiddleware)
		r.Post("/keys/generate", s.handleGenerateKey)
		r.Get("/keys", s.handleListKeys)
		r.Post("/keys/{id}/revoke", s.handleRevokeKey)
	})

	// Authenticated, rate-limited data plane. No request timeout here: a
	// streaming session lives as long as the conversation, and the batch
	// pipeline enforces its own bound.
	r.Group(func(r chi.Router) {
		r.Use(s.AuthMiddleware)
		r.Use(s.RateLimitMiddleware)
		r.Get("/ws/stream", s.handleStream)
		r.Post("/v1/inference", s.handleInference)
	})

	return s
}

// Start serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.Port),
		Handler: s.Router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", slog.Int("port", s.Port))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
