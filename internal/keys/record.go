// Package keys manages API key records: issuance, verification, revocation,
// and their durable SQLite store.
package keys

import (
	"time"
)

// Record is one API key entry. The plaintext credential is never stored;
// only its SHA-256 hash. Revocation is terminal and records are never
// physically deleted, preserving audit history.
type Record struct {
	ID           string     `db:"id" json:"id"`
	SecretHash   string     `db:"secret_hash" json:"-"`
	Name         string     `db:"name" json:"name"`
	Description  string     `db:"description" json:"description,omitempty"`
	RateLimitRPM *int       `db:"rate_limit_rpm" json:"rate_limit_rpm,omitempty"`
	Revoked      bool       `db:"revoked" json:"revoked"`
	UsageCount   int64      `db:"usage_count" json:"usage_count"`
	LastUsedAt   *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// Public returns a copy safe for API responses (no hash).
func (r *Record) Public() Record {
	pub := *r
	pub.SecretHash = ""
	return pub
}
