package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/personaplex/voicegate/internal/backend"
	"github.com/personaplex/voicegate/internal/batch"
	"github.com/personaplex/voicegate/internal/config"
	"github.com/personaplex/voicegate/internal/keys"
	"github.com/personaplex/voicegate/internal/ratelimit"
	"github.com/personaplex/voicegate/internal/relay"
	"github.com/personaplex/voicegate/internal/server"
	"github.com/personaplex/voicegate/internal/telemetry"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	shutdown, err := telemetry.InitTracer("voicegate", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
		log.Fatalf("Failed to create storage directory: %v", err)
	}
	store, err := keys.OpenStore(cfg.Storage.Path)
	if err != nil {
		log.Fatalf("Failed to open key store: %v", err)
	}
	defer store.Close()

	registry := keys.NewRegistry(store, logger)
	limiter := ratelimit.New(cfg.RateLimit.DefaultRPM)
	connector := backend.NewConnector(cfg.Backend.URL, cfg.Backend.ConnectTimeoutDuration(), logger)
	streamRelay := relay.New(connector, 0, logger)
	pipeline := batch.New(connector, cfg.Backend.SampleRate, cfg.Batch.TimeoutDuration(), logger)

	adminSecret := cfg.Admin.Secret
	if adminSecret == "" {
		adminSecret = generateAdminSecret()
		logger.Warn("no admin secret configured, generated one for this run",
			slog.String("admin_secret", adminSecret))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Guarantee at least one usable key on a fresh database.
	if err := registry.Bootstrap(ctx); err != nil {
		log.Fatalf("Failed to bootstrap key registry: %v", err)
	}

	srv := server.New(
		cfg.Server.Port,
		logger,
		registry,
		limiter,
		connector,
		streamRelay,
		pipeline,
		adminSecret,
	)

	logger.Info("voicegate starting",
		slog.Int("port", cfg.Server.Port),
		slog.String("backend_url", cfg.Backend.URL),
		slog.Int("sample_rate", cfg.Backend.SampleRate),
		slog.Int("default_rpm", cfg.RateLimit.DefaultRPM),
	)

	if err := srv.Start(ctx); err != nil {
		log.Fatalf("Server failed: %v", err)
	}

	logger.Info("voicegate shutdown complete")
}

func generateAdminSecret() string {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		log.Fatalf("Failed to generate admin secret: %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}
