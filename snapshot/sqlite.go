package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a single-file, embeddable Store, used by daerctl's
// zero-config default alongside eventlog.SQLiteLog.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (creating if necessary) a SQLite-backed snapshot
// store at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open sqlite: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("snapshot: enable WAL: %w", err)
	}
	schema := `
CREATE TABLE IF NOT EXISTS snapshots (
	execution_id TEXT PRIMARY KEY,
	execution_hash TEXT NOT NULL,
	body TEXT NOT NULL
);
`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("snapshot: migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existingHash string
	err := s.db.QueryRowContext(ctx,
		`SELECT execution_hash FROM snapshots WHERE execution_id = ?`, snap.ExecutionID,
	).Scan(&existingHash)
	switch {
	case err == sql.ErrNoRows:
		body, mErr := json.Marshal(snap)
		if mErr != nil {
			return fmt.Errorf("snapshot: marshal: %w", mErr)
		}
		_, iErr := s.db.ExecContext(ctx,
			`INSERT INTO snapshots (execution_id, execution_hash, body) VALUES (?, ?, ?)`,
			snap.ExecutionID, snap.ExecutionHash, string(body))
		if iErr != nil {
			return fmt.Errorf("snapshot: insert: %w", iErr)
		}
		return nil
	case err != nil:
		return fmt.Errorf("snapshot: query: %w", err)
	default:
		if existingHash != snap.ExecutionHash {
			return ErrHashMismatch
		}
		return nil
	}
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, executionID string) (Snapshot, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM snapshots WHERE execution_id = ?`, executionID,
	).Scan(&body)
	if err == sql.ErrNoRows {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: query: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: decode: %w", err)
	}
	return snap, nil
}
