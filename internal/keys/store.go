package keys

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// ErrRecordNotFound is returned when no record matches a lookup.
var ErrRecordNotFound = errors.New("key record not found")

// Store persists key records in SQLite. Every mutation is committed before
// the call returns, so a crash immediately afterwards never loses the write.
type Store struct {
	db *sqlx.DB
}

// OpenStore opens (or creates) the key store at path.
func OpenStore(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open key store: %w", err)
	}

	// Serialize writers; SQLite allows only one anyway and this avoids
	// SQLITE_BUSY under concurrent issuance/revocation.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA synchronous=FULL`,
		`PRAGMA foreign_keys=ON`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	schema := `CREATE TABLE IF NOT EXISTS api_keys (
id TEXT PRIMARY KEY,
secret_hash TEXT NOT NULL UNIQUE,
name TEXT NOT NULL,
description TEXT NOT NULL DEFAULT '',
rate_limit_rpm INTEGER,
revoked INTEGER NOT NULL DEFAULT 0,
usage_count INTEGER NOT NULL DEFAULT 0,
last_used_at TIMESTAMP,
created_at TIMESTAMP NOT NULL
)`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_api_keys_hash ON api_keys(secret_hash)`)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert persists a new record.
func (s *Store) Insert(ctx context.Context, rec *Record) error {
	_, err := s.db.NamedExecContext(ctx, `
INSERT INTO api_keys (id, secret_hash, name, description, rate_limit_rpm, revoked, usage_count, last_used_at, created_at)
VALUES (:id, :secret_hash, :name, :description, :rate_limit_rpm, :revoked, :usage_count, :last_used_at, :created_at)`, rec)
	if err != nil {
		return fmt.Errorf("failed to insert key record: %w", err)
	}
	return nil
}

// GetByHash looks up a record by its secret hash, revoked or not.
func (s *Store) GetByHash(ctx context.Context, hash string) (*Record, error) {
	var rec Record
	err := s.db.GetContext(ctx, &rec, `SELECT * FROM api_keys WHERE secret_hash = ?`, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query key record: %w", err)
	}
	return &rec, nil
}

// GetByID looks up a record by id.
func (s *Store) GetByID(ctx context.Context, id string) (*Record, error) {
	var rec Record
	err := s.db.GetContext(ctx, &rec, `SELECT * FROM api_keys WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query key record: %w", err)
	}
	return &rec, nil
}

// MarkRevoked sets revoked on the record with the given id.
// Returns ErrRecordNotFound if no such id exists. Already-revoked records
// are left as-is, keeping the operation idempotent.
func (s *Store) MarkRevoked(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE api_keys SET revoked = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to revoke key record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to revoke key record: %w", err)
	}
	if affected == 0 {
		// Distinguish missing id from already-revoked id.
		if _, lookupErr := s.GetByID(ctx, id); lookupErr != nil {
			return lookupErr
		}
	}
	return nil
}

// RecordUsage bumps the usage counter and last-used timestamp.
func (s *Store) RecordUsage(ctx context.Context, id string, when time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET usage_count = usage_count + 1, last_used_at = ? WHERE id = ?`, when, id)
	if err != nil {
		return fmt.Errorf("failed to record key usage: %w", err)
	}
	return nil
}

// List returns all records ordered by creation time.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	var recs []Record
	if err := s.db.SelectContext(ctx, &recs, `SELECT * FROM api_keys ORDER BY created_at`); err != nil {
		return nil, fmt.Errorf("failed to list key records: %w", err)
	}
	return recs, nil
}

// Count returns the total number of records, revoked included.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM api_keys`); err != nil {
		return 0, fmt.Errorf("failed to count key records: %w", err)
	}
	return n, nil
}
