package eventlog

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicateSequence is returned when a concurrent append raced and
// produced a sequence collision for the same execution_id.
var ErrDuplicateSequence = errors.New("eventlog: duplicate sequence")

// ErrSequenceGap is returned when an import-style append (one using
// Draft.WithSequence) would leave a hole in the dense 0..N sequence space.
var ErrSequenceGap = errors.New("eventlog: sequence gap")

// ErrTerminalAlreadyRecorded is returned when appending a second terminal
// event (EXECUTION_COMPLETED/EXECUTION_FAILED) for an execution_id.
var ErrTerminalAlreadyRecorded = errors.New("eventlog: terminal event already recorded")

// ErrNotFound is returned by lookups that find no matching record.
var ErrNotFound = errors.New("eventlog: not found")

// Log is the append-only, totally-ordered event substrate. Implementations
// must serialize appends per execution_id (readers never observe a torn
// prefix) and must never allow an Event to change once appended.
type Log interface {
	// Append assigns the next dense sequence number (or validates a
	// caller-supplied one on import) and durably records the event.
	Append(ctx context.Context, draft Draft) (Event, error)

	// Read streams events for one execution_id, in sequence order,
	// starting at fromSequence (inclusive).
	Read(ctx context.Context, executionID string, fromSequence uint64) ([]Event, error)

	// ExistsToolSuccess scans for a prior TOOL_CALL_SUCCESS event with a
	// matching arg_hash, returning its recorded payload if found.
	ExistsToolSuccess(ctx context.Context, executionID, argHash string) (payload map[string]interface{}, found bool, err error)

	// Retention sets (or refreshes) an expiry for one execution's event
	// history. RedisLog also refreshes the TTL on every Append when it was
	// built with a non-zero default retention; MemLog and SQLiteLog only
	// record the expiry when Retention itself is called, and never evict.
	Retention(ctx context.Context, executionID string, ttl time.Duration) error
}
