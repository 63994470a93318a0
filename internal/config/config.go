// Package config loads gateway configuration from config.yaml and the
// environment. Environment variables use the VGW_ prefix with double
// underscores as section separators, e.g. VGW_SERVER__PORT=8000.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Backend   BackendConfig   `koanf:"backend"`
	Storage   StorageConfig   `koanf:"storage"`
	Admin     AdminConfig     `koanf:"admin"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Batch     BatchConfig     `koanf:"batch"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type BackendConfig struct {
	// URL is the WebSocket address of the speech-to-speech backend.
	URL string `koanf:"url"`

	// ConnectTimeout bounds backend dialing. Duration string like "5s".
	ConnectTimeout string `koanf:"connect_timeout"`

	// SampleRate is the PCM sample rate the backend requires.
	SampleRate int `koanf:"sample_rate"`
}

type StorageConfig struct {
	// Path is the SQLite database file holding the key store.
	Path string `koanf:"path"`
}

type AdminConfig struct {
	// Secret guards the /admin endpoints. When empty, a secret is generated
	// at startup and reported once in the log.
	Secret string `koanf:"secret"`
}

type RateLimitConfig struct {
	// DefaultRPM is the per-key requests-per-minute ceiling used when a key
	// has no override.
	DefaultRPM int `koanf:"default_rpm"`
}

type BatchConfig struct {
	// Timeout bounds one whole offline inference call. Duration string.
	Timeout string `koanf:"timeout"`
}

// ConnectTimeoutDuration returns the parsed backend connect timeout.
func (c BackendConfig) ConnectTimeoutDuration() time.Duration {
	return parseDuration(c.ConnectTimeout, 5*time.Second)
}

// TimeoutDuration returns the parsed batch call bound.
func (c BatchConfig) TimeoutDuration() time.Duration {
	return parseDuration(c.Timeout, 5*time.Minute)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Try to load from config.yaml file first
	if err := k.Load(file.Provider("config.yaml"), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider("VGW_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "VGW_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	// Default values
	defaults := map[string]interface{}{
		"server.port":             8000,
		"backend.url":             "ws://localhost:8998/ws",
		"backend.connect_timeout": "5s",
		"backend.sample_rate":     24000,
		"storage.path":            "./data/voicegate.db",
		"rate_limit.default_rpm":  60,
		"batch.timeout":           "5m",
	}
	for key, val := range defaults {
		if !k.Exists(key) {
			k.Set(key, val)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if cfg.RateLimit.DefaultRPM <= 0 {
		return nil, fmt.Errorf("rate_limit.default_rpm must be positive, got %d", cfg.RateLimit.DefaultRPM)
	}
	if cfg.Backend.SampleRate <= 0 {
		return nil, fmt.Errorf("backend.sample_rate must be positive, got %d", cfg.Backend.SampleRate)
	}

	return &cfg, nil
}
