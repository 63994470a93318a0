package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	// Save original env vars
	origPort := os.Getenv("VGW_SERVER__PORT")
	defer func() {
		if origPort != "" {
			os.Setenv("VGW_SERVER__PORT", origPort)
		} else {
			os.Unsetenv("VGW_SERVER__PORT")
		}
	}()

	t.Run("defaults", func(t *testing.T) {
		os.Unsetenv("VGW_SERVER__PORT")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.Server.Port != 8000 {
			t.Errorf("Load() port = %v, want 8000", cfg.Server.Port)
		}
		if cfg.Backend.URL != "ws://localhost:8998/ws" {
			t.Errorf("Load() backend url = %v", cfg.Backend.URL)
		}
		if cfg.Backend.SampleRate != 24000 {
			t.Errorf("Load() sample rate = %v, want 24000", cfg.Backend.SampleRate)
		}
		if cfg.RateLimit.DefaultRPM != 60 {
			t.Errorf("Load() default rpm = %v, want 60", cfg.RateLimit.DefaultRPM)
		}
	})

	t.Run("env var port override", func(t *testing.T) {
		os.Setenv("VGW_SERVER__PORT", "9000")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.Server.Port != 9000 {
			t.Errorf("Load() port = %v, want 9000", cfg.Server.Port)
		}
	})

	t.Run("invalid default rpm rejected", func(t *testing.T) {
		os.Setenv("VGW_RATE_LIMIT__DEFAULT_RPM", "-1")
		defer os.Unsetenv("VGW_RATE_LIMIT__DEFAULT_RPM")

		if _, err := Load(); err == nil {
			t.Error("Load() expected error for negative default_rpm")
		}
	})
}

func TestDurationAccessors(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{name: "parsed", value: "30s", want: 30 * time.Second},
		{name: "empty falls back", value: "", want: 5 * time.Second},
		{name: "garbage falls back", value: "not-a-duration", want: 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := BackendConfig{ConnectTimeout: tt.value}
			if got := c.ConnectTimeoutDuration(); got != tt.want {
				t.Errorf("ConnectTimeoutDuration() = %v, want %v", got, tt.want)
			}
		})
	}

	b := BatchConfig{Timeout: "90s"}
	if got := b.TimeoutDuration(); got != 90*time.Second {
		t.Errorf("TimeoutDuration() = %v, want 90s", got)
	}
	if got := (BatchConfig{}).TimeoutDuration(); got != 5*time.Minute {
		t.Errorf("TimeoutDuration() default = %v, want 5m", got)
	}
}
