package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// PostgresStore persists snapshots in an append-only table, one row
// per version. The insert predicate enforces version = max + 1 inside
// the database, so concurrent writers race on the same guard.
type PostgresStore struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPostgresStore builds a store over an open connection pool.
func NewPostgresStore(db *sqlx.DB, timeout time.Duration) *PostgresStore {
	return &PostgresStore{db: db, timeout: timeout}
}

// Schema returns the DDL for the snapshot table.
func Schema() string {
	return `
		CREATE TABLE IF NOT EXISTS state_snapshots (
			version    BIGINT PRIMARY KEY,
			saved_at   TIMESTAMPTZ NOT NULL,
			payload    JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`
}

// Load returns the highest-version snapshot, or the version-0 snapshot
// when the table is empty.
func (s *PostgresStore) Load(ctx context.Context) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var row struct {
		Version int    `db:"version"`
		Payload []byte `db:"payload"`
	}
	query := `
		SELECT version, payload
		FROM state_snapshots
		ORDER BY version DESC
		LIMIT 1`

	if err := s.db.GetContext(ctx, &row, query); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Empty(), nil
		}
		return Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(row.Payload, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("%w: decode version %d: %v", ErrCorrupt, row.Version, err)
	}
	if snap.Version != row.Version {
		return Snapshot{}, fmt.Errorf("%w: payload version %d under row %d", ErrCorrupt, snap.Version, row.Version)
	}
	return snap, nil
}

// Save appends a snapshot row iff its version is exactly one above the
// current maximum. Zero rows inserted means another writer advanced
// the version first.
func (s *PostgresStore) Save(ctx context.Context, snap Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	query := `
		INSERT INTO state_snapshots (version, saved_at, payload)
		SELECT $1, $2, $3
		WHERE $1 = COALESCE((SELECT MAX(version) FROM state_snapshots), 0) + 1`

	res, err := s.db.ExecContext(ctx, query, snap.Version, snap.SavedAt, payload)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: version %d not current + 1", ErrVersionMismatch, snap.Version)
	}
	return nil
}
