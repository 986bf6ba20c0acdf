package daer

import (
	"github.com/dshills/daer/eventlog"
)

// Fold is the pure function every derived ExecutionState comes from:
// replaying an execution's event history never invokes an adapter or
// tool, and folding the same event slice twice always produces an
// equal ExecutionState.
func Fold(executionID string, events []eventlog.Event) ExecutionState {
	state := ExecutionState{
		ExecutionID: executionID,
		Lifecycle:   StateInit,
		Status:      StatusRunning,
		openStep:    -1,
	}

	var completedSteps = make(map[int]bool)

	for _, e := range events {
		switch e.Type {
		case eventlog.EventExecutionStarted:
			state.StartedAt = e.Timestamp

		case eventlog.EventStateEnter:
			if s, ok := e.Payload["state"].(string); ok {
				state.Lifecycle = LifecycleState(s)
				state.StateHistory = append(state.StateHistory, state.Lifecycle)
			}

		case eventlog.EventStepStarted:
			if e.StepNumber != nil {
				state.openStep = *e.StepNumber
			}

		case eventlog.EventStepCompleted:
			if e.StepNumber != nil {
				completedSteps[*e.StepNumber] = true
				if *e.StepNumber == state.openStep {
					state.openStep = -1
				}
				if *e.StepNumber+1 > state.StepNumber {
					state.StepNumber = *e.StepNumber + 1
				}
			}
			if tokens, ok := asInt(e.Payload["token_delta"]); ok {
				state.TokenUsage += tokens
			}
			if output, ok := e.Payload["output"]; ok {
				state.LastOutput = output
			}

		case eventlog.EventToolCallSuccess:
			state.ToolCalls++

		case eventlog.EventPolicyViolation:
			state.FailureKind = FailurePolicyViolation
			if detail, ok := e.Payload["detail"].(string); ok {
				state.FailureDetail = detail
			}

		case eventlog.EventExecutionDone:
			state.Status = StatusSuccess
			if output, ok := e.Payload["final_output"]; ok {
				state.LastOutput = output
			}

		case eventlog.EventExecutionFailed:
			state.Status = StatusFailed
			if kind, ok := e.Payload["kind"].(string); ok {
				state.FailureKind = FailureKind(kind)
			}
			if detail, ok := e.Payload["detail"].(string); ok {
				state.FailureDetail = detail
			}
		}

		// Elapsed always derives from the last logged event's timestamp,
		// never from time.Now() — otherwise two folds of the same log
		// taken moments apart would disagree.
		if !e.Timestamp.IsZero() {
			state.Elapsed = e.Timestamp.Sub(state.StartedAt)
		}
	}

	return state
}

// asInt normalizes the numeric types a JSON round-trip or direct Go
// literal might leave in an event payload.
func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
