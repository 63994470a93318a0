package keys

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/personaplex/voicegate/internal/domain"
)

// KeyPrefix is prepended to every issued plaintext credential so keys are
// recognizable in logs and configs without revealing anything.
const KeyPrefix = "vgk-"

// Registry verifies, issues, and revokes API keys against the durable store.
type Registry struct {
	store  *Store
	logger *slog.Logger

	// mu serializes mutations; reads go straight to the store.
	mu sync.Mutex
}

// NewRegistry creates a registry backed by store.
func NewRegistry(store *Store, logger *slog.Logger) *Registry {
	return &Registry{store: store, logger: logger}
}

// HashKey creates the SHA-256 hash of a plaintext key for storage and lookup.
func HashKey(plaintext string) string {
	hash := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(hash[:])
}

// Verify checks a presented credential against the store. Unknown keys and
// revoked keys both return domain.ErrUnauthorized without distinguishing
// the reason. On success the key's usage is recorded best-effort.
func (r *Registry) Verify(ctx context.Context, presented string) (*Record, error) {
	hash := HashKey(presented)

	rec, err := r.store.GetByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, domain.ErrUnauthorized()
		}
		return nil, fmt.Errorf("verifying key: %w", err)
	}

	// The store lookup already matched the full hash; compare again in
	// constant time so the code path stays uniform regardless of how the
	// record was found.
	if subtle.ConstantTimeCompare([]byte(hash), []byte(rec.SecretHash)) != 1 || rec.Revoked {
		return nil, domain.ErrUnauthorized()
	}

	if err := r.store.RecordUsage(ctx, rec.ID, time.Now().UTC()); err != nil {
		r.logger.Warn("failed to record key usage",
			slog.String("key_id", rec.ID),
			slog.String("error", err.Error()))
	}

	return rec, nil
}

// Issue generates a new credential, stores its hash, and returns the
// plaintext exactly once. rpm, when positive, becomes a per-key rate limit
// override. The write is durable before Issue returns.
func (r *Registry) Issue(ctx context.Context, name, description string, rpm int) (string, *Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("generating key material: %w", err)
	}
	plaintext := KeyPrefix + base64.RawURLEncoding.EncodeToString(raw)

	rec := &Record{
		ID:          uuid.New().String(),
		SecretHash:  HashKey(plaintext),
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	if rpm > 0 {
		rec.RateLimitRPM = &rpm
	}

	if err := r.store.Insert(ctx, rec); err != nil {
		return "", nil, fmt.Errorf("issuing key: %w", err)
	}

	r.logger.Info("issued API key",
		slog.String("key_id", rec.ID),
		slog.String("name", rec.Name))

	return plaintext, rec, nil
}

// Revoke permanently disables the key with the given id. Idempotent for
// already-revoked keys; domain.ErrNotFound for unknown ids.
func (r *Registry) Revoke(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.MarkRevoked(ctx, id); err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return domain.ErrNotFound("no such key")
		}
		return fmt.Errorf("revoking key: %w", err)
	}

	r.logger.Info("revoked API key", slog.String("key_id", id))
	return nil
}

// List returns the public fields of every record.
func (r *Registry) List(ctx context.Context) ([]Record, error) {
	recs, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}
	public := make([]Record, len(recs))
	for i := range recs {
		public[i] = recs[i].Public()
	}
	return public, nil
}

// Bootstrap issues a default key when the store is empty so a fresh install
// is usable. The plaintext is reported once via the log; the key is an
// ordinary record and can be revoked like any other.
func (r *Registry) Bootstrap(ctx context.Context) error {
	n, err := r.store.Count(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	if n > 0 {
		return nil
	}

	plaintext, rec, err := r.Issue(ctx, "default", "auto-generated on first run", 0)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	r.logger.Warn("no API keys found, generated default key; store it now, it will not be shown again",
		slog.String("key_id", rec.ID),
		slog.String("api_key", plaintext))
	return nil
}
