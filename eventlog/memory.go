package eventlog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemLog is an in-memory Log implementation.
//
// It is designed for tests, single-process hosts, and short-lived
// executions where durability across process restarts is not required.
// MemLog is safe for concurrent use; appends for a given execution_id are
// serialized under a per-log mutex (adequate for single-process hosts —
// the teacher's MemStore uses the same coarse-lock approach).
type MemLog struct {
	mu       sync.Mutex
	events   map[string][]Event // executionID -> dense, ordered events
	retainTo map[string]time.Time
}

// NewMemLog creates an empty in-memory event log.
func NewMemLog() *MemLog {
	return &MemLog{
		events:   make(map[string][]Event),
		retainTo: make(map[string]time.Time),
	}
}

// Append implements Log.
func (m *MemLog) Append(_ context.Context, draft Draft) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.events[draft.ExecutionID]

	for _, e := range existing {
		if e.Type.IsTerminal() {
			return Event{}, ErrTerminalAlreadyRecorded
		}
	}

	var seq uint64
	if draft.HasExplicitSequence() {
		seq = draft.Sequence
		if seq != uint64(len(existing)) {
			return Event{}, ErrSequenceGap
		}
		for _, e := range existing {
			if e.Sequence == seq {
				return Event{}, ErrDuplicateSequence
			}
		}
	} else {
		seq = uint64(len(existing))
	}

	ts := draft.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

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

	m.events[draft.ExecutionID] = append(existing, ev)
	return ev, nil
}

// Read implements Log.
func (m *MemLog) Read(_ context.Context, executionID string, fromSequence uint64) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.events[executionID]
	out := make([]Event, 0, len(all))
	for _, e := range all {
		if e.Sequence >= fromSequence {
			out = append(out, e)
		}
	}
	return out, nil
}

// ExistsToolSuccess implements Log.
func (m *MemLog) ExistsToolSuccess(_ context.Context, executionID, argHash string) (map[string]interface{}, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.events[executionID] {
		if e.Type != EventToolCallSuccess {
			continue
		}
		if h, _ := e.Payload["arg_hash"].(string); h == argHash {
			return e.Payload, true, nil
		}
	}
	return nil, false, nil
}

// Retention implements Log. MemLog does not evict on TTL expiry (the
// process exiting is the only eviction that matters for an in-memory
// backend); it only records the watermark, and Append does not refresh
// it.
func (m *MemLog) Retention(_ context.Context, executionID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retainTo[executionID] = time.Now().Add(ttl)
	return nil
}
