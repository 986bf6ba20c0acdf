package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteLog is a single-file, embeddable Log implementation, intended for
// local development and the daerctl CLI's zero-config default.
//
// It uses WAL mode for concurrent readers and serializes appends with an
// in-process mutex (adequate for a single-process embedded store; a
// multi-process deployment should use RedisLog instead).
type SQLiteLog struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteLog opens (creating if necessary) a SQLite-backed event log at
// path. Use ":memory:" for an ephemeral database.
func NewSQLiteLog(path string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open sqlite: %w", err)
	}

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("eventlog: enable WAL: %w", err)
	}

	schema := `
CREATE TABLE IF NOT EXISTS events (
	execution_id TEXT NOT NULL,
	sequence     INTEGER NOT NULL,
	event_id     TEXT NOT NULL,
	event_type   TEXT NOT NULL,
	step_number  INTEGER,
	timestamp    DATETIME NOT NULL,
	payload      TEXT,
	arg_hash     TEXT,
	PRIMARY KEY (execution_id, sequence)
);
CREATE INDEX IF NOT EXISTS idx_events_arghash ON events (execution_id, arg_hash);
CREATE TABLE IF NOT EXISTS terminal_executions (
	execution_id TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS retention (
	execution_id TEXT PRIMARY KEY,
	expires_at   DATETIME NOT NULL
);
`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("eventlog: migrate: %w", err)
	}

	return &SQLiteLog{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteLog) Close() error { return s.db.Close() }

// Append implements Log.
func (s *SQLiteLog) Append(ctx context.Context, draft Draft) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Event{}, fmt.Errorf("eventlog: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var terminalExists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM terminal_executions WHERE execution_id = ?`,
		draft.ExecutionID).Scan(&terminalExists); err != nil {
		return Event{}, fmt.Errorf("eventlog: check terminal: %w", err)
	}
	if terminalExists > 0 {
		return Event{}, ErrTerminalAlreadyRecorded
	}

	var count int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM events WHERE execution_id = ?`,
		draft.ExecutionID).Scan(&count); err != nil {
		return Event{}, fmt.Errorf("eventlog: count events: %w", err)
	}

	var seq uint64
	if draft.HasExplicitSequence() {
		seq = draft.Sequence
		if int64(seq) != count {
			return Event{}, ErrSequenceGap
		}
	} else {
		seq = uint64(count)
	}

	ts := draft.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	payloadJSON, err := json.Marshal(draft.Payload)
	if err != nil {
		return Event{}, fmt.Errorf("eventlog: marshal payload: %w", err)
	}

	argHash, _ := draft.Payload["arg_hash"].(string)

	ev := Event{
		EventID:      uuid.NewString(),
		ExecutionID:  draft.ExecutionID,
		Sequence:     seq,
		StepNumber:   draft.StepNumber,
		Type:         draft.Type,
		Timestamp:    ts,
		Payload:      draft.Payload,
		TraceContext: draft.TraceContext,
	}

	var stepNum interface{}
	if draft.StepNumber != nil {
		stepNum = *draft.StepNumber
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO events (execution_id, sequence, event_id, event_type, step_number, timestamp, payload, arg_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		draft.ExecutionID, seq, ev.EventID, string(draft.Type), stepNum, ts, string(payloadJSON), argHash,
	); err != nil {
		return Event{}, fmt.Errorf("eventlog: insert event: %w", err)
	}

	if draft.Type.IsTerminal() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO terminal_executions (execution_id) VALUES (?)`, draft.ExecutionID,
		); err != nil {
			return Event{}, fmt.Errorf("eventlog: mark terminal: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Event{}, fmt.Errorf("eventlog: commit: %w", err)
	}

	return ev, nil
}

// Read implements Log.
func (s *SQLiteLog) Read(ctx context.Context, executionID string, fromSequence uint64) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sequence, event_id, event_type, step_number, timestamp, payload
		 FROM events WHERE execution_id = ? AND sequence >= ? ORDER BY sequence ASC`,
		executionID, fromSequence)
	if err != nil {
		return nil, fmt.Errorf("eventlog: query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			seq        uint64
			eventID    string
			eventType  string
			stepNumber sql.NullInt64
			ts         time.Time
			payloadStr string
		)
		if err := rows.Scan(&seq, &eventID, &eventType, &stepNumber, &ts, &payloadStr); err != nil {
			return nil, fmt.Errorf("eventlog: scan event: %w", err)
		}
		var payload map[string]interface{}
		if payloadStr != "" {
			if err := json.Unmarshal([]byte(payloadStr), &payload); err != nil {
				return nil, fmt.Errorf("eventlog: decode payload: %w", err)
			}
		}
		ev := Event{
			EventID:     eventID,
			ExecutionID: executionID,
			Sequence:    seq,
			Type:        EventType(eventType),
			Timestamp:   ts,
			Payload:     payload,
		}
		if stepNumber.Valid {
			n := int(stepNumber.Int64)
			ev.StepNumber = &n
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ExistsToolSuccess implements Log.
func (s *SQLiteLog) ExistsToolSuccess(ctx context.Context, executionID, argHash string) (map[string]interface{}, bool, error) {
	var payloadStr string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM events WHERE execution_id = ? AND arg_hash = ? AND event_type = ? LIMIT 1`,
		executionID, argHash, string(EventToolCallSuccess),
	).Scan(&payloadStr)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("eventlog: query tool success: %w", err)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(payloadStr), &payload); err != nil {
		return nil, false, fmt.Errorf("eventlog: decode tool payload: %w", err)
	}
	return payload, true, nil
}

// Retention implements Log.
func (s *SQLiteLog) Retention(ctx context.Context, executionID string, ttl time.Duration) error {
	expires := time.Now().Add(ttl)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO retention (execution_id, expires_at) VALUES (?, ?)
		 ON CONFLICT(execution_id) DO UPDATE SET expires_at = excluded.expires_at`,
		executionID, expires)
	if err != nil {
		return fmt.Errorf("eventlog: set retention: %w", err)
	}
	return nil
}
