// Package eventlog provides the durable, append-only event substrate that
// every other DAER component derives its state from.
package eventlog

import "time"

// EventType enumerates the append-only event kinds an execution can emit.
type EventType string

// Recognized event types, in the order they typically occur within one
// execution's lifecycle.
const (
	EventExecutionStarted EventType = "EXECUTION_STARTED"
	EventStateEnter       EventType = "STATE_ENTER"
	EventStepStarted      EventType = "STEP_STARTED"
	EventStepCompleted    EventType = "STEP_COMPLETED"
	EventToolCallStarted  EventType = "TOOL_CALL_STARTED"
	EventToolCallSuccess  EventType = "TOOL_CALL_SUCCESS"
	EventToolCallFailed   EventType = "TOOL_CALL_FAILED"
	EventRetryAttempted   EventType = "RETRY_ATTEMPTED"
	EventPolicyViolation  EventType = "POLICY_VIOLATION"
	EventExecutionDone    EventType = "EXECUTION_COMPLETED"
	EventExecutionFailed  EventType = "EXECUTION_FAILED"
)

// TraceContext carries the span/trace identifiers an event was recorded
// under, when the host process has OpenTelemetry tracing configured.
type TraceContext struct {
	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// Event is one immutable, totally-ordered record in an execution's history.
//
// Sequence is assigned by the Log on Append and is dense (0..N) within one
// ExecutionID; nothing outside the Log ever mutates an Event once it has
// been appended.
type Event struct {
	EventID      string                 `json:"event_id"`
	ExecutionID  string                 `json:"execution_id"`
	Sequence     uint64                 `json:"sequence"`
	StepNumber   *int                   `json:"step_number,omitempty"`
	Type         EventType              `json:"event_type"`
	Timestamp    time.Time              `json:"timestamp"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
	TraceContext *TraceContext          `json:"trace_context,omitempty"`
}

// Draft is the caller-supplied shape of an event before the Log assigns it
// an EventID and Sequence.
type Draft struct {
	ExecutionID  string
	StepNumber   *int
	Type         EventType
	Timestamp    time.Time
	Payload      map[string]interface{}
	TraceContext *TraceContext

	// Sequence is only honored on import-style appends (e.g. replaying a
	// log captured elsewhere). Live appends leave this at zero and let the
	// Log assign the next dense sequence number.
	Sequence     uint64
	useSequence  bool
}

// WithSequence returns a copy of the draft pinned to an explicit sequence
// number, used when importing a previously-captured log rather than
// appending live events.
func (d Draft) WithSequence(seq uint64) Draft {
	d.Sequence = seq
	d.useSequence = true
	return d
}

// HasExplicitSequence reports whether WithSequence was used.
func (d Draft) HasExplicitSequence() bool { return d.useSequence }

// IsTerminal reports whether t is one of the two terminal event types.
func (t EventType) IsTerminal() bool {
	return t == EventExecutionDone || t == EventExecutionFailed
}
