// Package sqlite persists published outputs to a local SQLite database for
// history queries and warm starts.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"coinarius-analytics/internal/model"
)

const defaultKeep = 500

// Config configures the SQLite store.
type Config struct {
	Path string // database file, e.g. "data/analytics.db"
	Keep int    // outputs retained; older rows are pruned on save
}

// Store is an OutputStore backed by SQLite. A single connection serialises
// writers.
type Store struct {
	db   *sql.DB
	keep int
}

// Open opens (or creates) the database in WAL mode and applies the schema.
func Open(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	keep := cfg.Keep
	if keep <= 0 {
		keep = defaultKeep
	}
	return &Store{db: db, keep: keep}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS outputs (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			version    INTEGER NOT NULL,
			cycle_id   TEXT    NOT NULL,
			mode       TEXT    NOT NULL,
			updated_at INTEGER NOT NULL,
			data       TEXT    NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_outputs_updated ON outputs (updated_at);
	`)
	return err
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// SaveOutput inserts out and prunes rows beyond the retention limit.
func (s *Store) SaveOutput(ctx context.Context, out *model.Output) error {
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO outputs (version, cycle_id, mode, updated_at, data)
		VALUES (?, ?, ?, ?, ?)
	`, out.Version, out.CycleID, string(out.Mode), out.UpdatedAt.UnixMilli(), string(data)); err != nil {
		return fmt.Errorf("sqlite insert output: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM outputs
		WHERE id NOT IN (SELECT id FROM outputs ORDER BY id DESC LIMIT ?)
	`, s.keep); err != nil {
		return fmt.Errorf("sqlite prune outputs: %w", err)
	}

	return tx.Commit()
}

// LatestOutputs returns up to limit outputs, newest first.
func (s *Store) LatestOutputs(ctx context.Context, limit int) ([]*model.Output, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM outputs
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query outputs: %w", err)
	}
	defer rows.Close()

	var outs []*model.Output
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("sqlite scan output: %w", err)
		}
		var out model.Output
		if err := json.Unmarshal([]byte(data), &out); err != nil {
			return nil, fmt.Errorf("decode output: %w", err)
		}
		outs = append(outs, &out)
	}
	return outs, rows.Err()
}

// Latest returns the newest saved output, or nil when the table is empty.
func (s *Store) Latest(ctx context.Context) (*model.Output, error) {
	outs, err := s.LatestOutputs(ctx, 1)
	if err != nil || len(outs) == 0 {
		return nil, err
	}
	return outs[0], nil
}

// Count returns the number of stored outputs.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outputs`).Scan(&n)
	return n, err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
