// ABOUTME: SQLite implementation of the ledger using modernc.org/sqlite.
// ABOUTME: Creates the schema on open; parent directories are created as needed.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the ledger database at path.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL keeps readers unblocked while the monitor writes snapshots.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("ledger initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS transitions (
			id TEXT PRIMARY KEY,
			variant TEXT NOT NULL,
			from_status TEXT NOT NULL,
			to_status TEXT NOT NULL,
			operation TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_transitions_variant_created
			ON transitions(variant, created_at);

		CREATE TABLE IF NOT EXISTS health_snapshots (
			id TEXT PRIMARY KEY,
			overall TEXT NOT NULL,
			api TEXT NOT NULL,
			agent TEXT NOT NULL,
			self TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_health_snapshots_created
			ON health_snapshots(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordTransition appends one lifecycle transition.
func (s *SQLiteStore) RecordTransition(ctx context.Context, variant, from, to, operation string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transitions (id, variant, from_status, to_status, operation, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), variant, from, to, operation, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("inserting transition: %w", err)
	}
	return nil
}

// RecentTransitions returns the newest transitions, most recent first.
func (s *SQLiteStore) RecentTransitions(ctx context.Context, limit int) ([]Transition, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, variant, from_status, to_status, operation, created_at
		 FROM transitions ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying transitions: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var tr Transition
		if err := rows.Scan(&tr.ID, &tr.Variant, &tr.From, &tr.To, &tr.Operation, &tr.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning transition: %w", err)
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// RecordSnapshot appends one health snapshot.
func (s *SQLiteStore) RecordSnapshot(ctx context.Context, overall, api, agent, self string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO health_snapshots (id, overall, api, agent, self, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), overall, api, agent, self, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("inserting health snapshot: %w", err)
	}
	return nil
}

// RecentSnapshots returns the newest health snapshots, most recent first.
func (s *SQLiteStore) RecentSnapshots(ctx context.Context, limit int) ([]HealthSnapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, overall, api, agent, self, created_at
		 FROM health_snapshots ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying health snapshots: %w", err)
	}
	defer rows.Close()

	var out []HealthSnapshot
	for rows.Next() {
		var hs HealthSnapshot
		if err := rows.Scan(&hs.ID, &hs.Overall, &hs.API, &hs.Agent, &hs.Self, &hs.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning health snapshot: %w", err)
		}
		out = append(out, hs)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
