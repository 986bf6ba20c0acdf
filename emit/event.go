package emit

// Event represents an observability event emitted during execution —
// distinct from eventlog.Event, which is the durable record of what
// happened. Event is the ambient, best-effort signal a Runtime host
// wires into logs, traces, and metrics; losing one changes nothing
// about execution correctness.
type Event struct {
	// EventID and Sequence mirror the durable eventlog.Event this Event
	// was derived from, when there is one — execution-level or
	// synthetic events that never went through appendEvent leave these
	// zero.
	EventID  string
	Sequence uint64

	// ExecutionID identifies the execution that emitted this event.
	ExecutionID string

	// Step is the sequential step number, or -1 for execution-level
	// events (started, completed, failed) that aren't attributable to
	// one step.
	Step int

	// Component names the subsystem or tool that emitted the event
	// (e.g. a tool name, "policy", "scheduler"). Empty for
	// execution-level events.
	Component string

	// Msg is a short, stable event name (e.g. "step_started",
	// "tool_call_success", "policy_violation").
	Msg string

	// Meta carries additional structured data specific to this event.
	Meta map[string]interface{}
}
