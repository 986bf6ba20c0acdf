// Package daer is a Deterministic AI Execution Runtime: a control plane
// that drives an opaque agent through a fixed lifecycle, persisting
// every transition to an append-only event log and deriving all
// observable state from that log.
package daer

import (
	"context"
	"time"

	"github.com/dshills/daer/policy"
)

// LifecycleState names a point in the Execution Engine's state
// machine. The loop body (EXECUTE/REVIEW) repeats per step without its
// own log entries; only PLAN (entered once, before the first step) and
// TERMINATE (entered once, at the end) produce STATE_ENTER events.
type LifecycleState string

const (
	StateInit      LifecycleState = "INIT"
	StatePlan      LifecycleState = "PLAN"
	StateExecute   LifecycleState = "EXECUTE"
	StateReview    LifecycleState = "REVIEW"
	StateTerminate LifecycleState = "TERMINATE"
)

// Status is the terminal disposition of an execution.
type Status string

const (
	StatusRunning Status = "RUNNING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// FailureKind classifies why an execution ended in StatusFailed.
type FailureKind string

const (
	FailureNone               FailureKind = ""
	FailurePolicyViolation    FailureKind = "PolicyViolation"
	FailureToolFailure        FailureKind = "ToolFailure"
	FailureAdapterError       FailureKind = "AdapterError"
	FailureExecutionHashMismatch FailureKind = "ExecutionHashMismatch"
	FailureDeterminismViolation  FailureKind = "DeterminismViolation"
	FailureInvalidTransition  FailureKind = "InvalidTransition"
	FailureEventLogError      FailureKind = "EventLogError"
	FailureCancelled          FailureKind = "Cancelled"
	FailureTimedOut           FailureKind = "TimedOut"
)

// ExecutionState is the derived, never-stored view of one execution —
// the output of Fold(events). The Engine keeps one as an in-memory
// cache but treats the Event Log as the only source of truth.
type ExecutionState struct {
	ExecutionID   string
	Lifecycle     LifecycleState
	StateHistory  []LifecycleState
	StepNumber    int // next step to run == steps completed so far
	TokenUsage    int
	ToolCalls     int
	LastOutput    interface{}
	Status        Status
	FailureKind   FailureKind
	FailureDetail string
	StartedAt     time.Time
	Elapsed       time.Duration

	// openStep is the step number with a STEP_STARTED but no matching
	// STEP_COMPLETED, or -1 if none is open. Resume continues here.
	openStep int
}

// Observed projects ExecutionState into the primitive counters the
// policy package validates against.
func (s ExecutionState) Observed() policy.ObservedState {
	return policy.ObservedState{
		StepsCompleted:     s.StepNumber,
		TokensUsed:         s.TokenUsage,
		ToolCallsCompleted: s.ToolCalls,
		Elapsed:            s.Elapsed,
	}
}

// eventLogPayload is shorthand for the map shape every Event.Payload
// and Draft.Payload uses.
type eventLogPayload = map[string]interface{}

// StepResult is what an AgentAdapter returns from one step invocation.
type StepResult struct {
	// Output is the step's produced value, carried into STEP_COMPLETED
	// and, on the final step, into the ExecutionReport.
	Output interface{}

	// Tokens is this step's token cost, added to cumulative usage.
	Tokens int

	// Done signals the adapter considers the task complete; the Engine
	// transitions to TERMINATE and reports StatusSuccess.
	Done bool
}

// StepContext is what an AgentAdapter uses to call tools during one
// step invocation. Every call is routed through the interception
// layer, so repeated calls with the same arguments are deduplicated.
type StepContext interface {
	CallTool(ctx context.Context, toolName string, args, kwargs map[string]interface{}) (interface{}, error)
}

// AgentAdapter is the entire capability set the Engine requires of an
// agent: one method, plus identity for hashing and logging. Adapters
// may return an error wrapped with policy.MarkRetryable to declare it
// transient; everything else is treated as fatal.
type AgentAdapter interface {
	Name() string
	Version() string
	Invoke(ctx context.Context, sc StepContext, state ExecutionState) (StepResult, error)
}

// ExecutionReport is the terminal summary returned by Run, Resume, and
// Replay.
type ExecutionReport struct {
	ExecutionID       string
	Status            Status
	AgentName         string
	TotalSteps        int
	TokenUsage        int
	ToolCalls         int
	StateHistory      []LifecycleState
	ExecutionTime     time.Duration
	FinalOutput       interface{}
	FailureKind       FailureKind
	FailureDetail     string
}

