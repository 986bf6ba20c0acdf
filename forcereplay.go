package daer

import (
	"context"
	"fmt"

	"github.com/dshills/daer/eventlog"
	"github.com/dshills/daer/snapshot"
	"github.com/dshills/daer/tool"
)

// ForceReplayOptions configures an audit re-execution.
type ForceReplayOptions struct {
	// AllowNonIdempotentTools permits a forced replay to proceed even
	// when the historical run touched a tool that doesn't declare
	// itself idempotent. Off by default: a tool with an external side
	// effect (sending an email, charging a card) must not be silently
	// re-invoked just to audit determinism.
	AllowNonIdempotentTools bool
}

// Divergence describes one point where a forced re-execution's fresh
// event subsequence disagreed with the historical one.
type Divergence struct {
	Sequence   uint64
	Field      string
	Historical interface{}
	Replayed   interface{}
}

func (d Divergence) String() string {
	return fmt.Sprintf("sequence %d: %s differs (historical=%v, replayed=%v)", d.Sequence, d.Field, d.Historical, d.Replayed)
}

// ForceReplay re-runs executionID from scratch against a fresh,
// scratch event log — even though the historical run already reached a
// terminal state — and compares the newly produced event subsequence
// against the historical one. Any divergence in (event_type,
// step_number, tool arg_hash, token_usage) is reported as
// ErrDeterminismViolation; the historical log and snapshot are never
// mutated.
//
// By default, a historical run that invoked a tool not known to be
// idempotent causes ForceReplay to refuse outright with
// ErrNonIdempotentForcedReplay, since re-running it for real could
// repeat an external side effect. Pass AllowNonIdempotentTools to
// override.
func (e *Engine) ForceReplay(ctx context.Context, executionID string, opts ForceReplayOptions) (ExecutionReport, []Divergence, error) {
	historical, err := e.opts.EventLog.Read(ctx, executionID, 0)
	if err != nil {
		return ExecutionReport{}, nil, fmt.Errorf("daer: read event log: %w", err)
	}

	snap, err := e.opts.SnapshotStore.Get(ctx, executionID)
	if err != nil {
		if err == snapshot.ErrNotFound {
			return ExecutionReport{}, nil, ErrNoSnapshot
		}
		return ExecutionReport{}, nil, fmt.Errorf("daer: get snapshot: %w", err)
	}

	if !opts.AllowNonIdempotentTools && e.opts.Tools != nil {
		if name, found := firstNonIdempotentTool(historical, e.opts.Tools); found {
			return ExecutionReport{}, nil, fmt.Errorf("%w: tool %q", ErrNonIdempotentForcedReplay, name)
		}
	}

	scratchLog := eventlog.NewMemLog()
	shadowOpts := e.opts
	shadowOpts.EventLog = scratchLog
	shadowOpts.SnapshotStore = snapshot.NewMemStore()

	shadow := &Engine{
		adapter: e.adapter,
		opts:    shadowOpts,
		interceptor: &tool.Interceptor{
			Log:      scratchLog,
			Registry: e.opts.Tools,
			Metrics:  e.opts.Metrics,
			Retry:    e.opts.Policy.Retry,
			Rand:     e.opts.Rand,
		},
		cancelled: make(map[string]bool),
	}

	report, runErr := shadow.Run(ctx, executionID, snap.Task)
	if runErr != nil {
		return ExecutionReport{}, nil, fmt.Errorf("daer: forced replay run: %w", runErr)
	}

	fresh, err := scratchLog.Read(ctx, executionID, 0)
	if err != nil {
		return ExecutionReport{}, nil, fmt.Errorf("daer: read shadow event log: %w", err)
	}

	divergences := compareEventSequences(historical, fresh)
	if len(divergences) > 0 {
		return report, divergences, ErrDeterminismViolation
	}
	return report, nil, nil
}

// firstNonIdempotentTool scans a historical event subsequence for the
// first TOOL_CALL_STARTED naming a tool that either isn't registered
// (conservatively treated as unsafe) or doesn't declare itself
// idempotent.
func firstNonIdempotentTool(events []eventlog.Event, tools *tool.Registry) (string, bool) {
	for _, e := range events {
		if e.Type != eventlog.EventToolCallStarted {
			continue
		}
		name, _ := e.Payload["tool_name"].(string)
		if name == "" {
			continue
		}
		t, ok := tools.Lookup(name)
		if !ok || !tool.IsIdempotent(t) {
			return name, true
		}
	}
	return "", false
}

// compareEventSequences walks both subsequences in order and reports
// every field divergence across (event_type, step_number, tool
// arg_hash, token_usage) — the exact comparison set forced replay's
// determinism check covers.
func compareEventSequences(historical, fresh []eventlog.Event) []Divergence {
	n := len(historical)
	if len(fresh) < n {
		n = len(fresh)
	}

	var divergences []Divergence
	for i := 0; i < n; i++ {
		h, f := historical[i], fresh[i]
		if h.Type != f.Type {
			divergences = append(divergences, Divergence{Sequence: h.Sequence, Field: "event_type", Historical: h.Type, Replayed: f.Type})
			continue
		}
		if !equalStepNumber(h.StepNumber, f.StepNumber) {
			divergences = append(divergences, Divergence{Sequence: h.Sequence, Field: "step_number", Historical: h.StepNumber, Replayed: f.StepNumber})
		}
		if hv, fv, ok := bothHave(h, f, "arg_hash"); ok && hv != fv {
			divergences = append(divergences, Divergence{Sequence: h.Sequence, Field: "tool_arg_hash", Historical: hv, Replayed: fv})
		}
		if hv, fv, ok := bothHave(h, f, "token_delta"); ok && hv != fv {
			divergences = append(divergences, Divergence{Sequence: h.Sequence, Field: "token_usage", Historical: hv, Replayed: fv})
		}
	}

	if len(historical) != len(fresh) {
		divergences = append(divergences, Divergence{Field: "event_count", Historical: len(historical), Replayed: len(fresh)})
	}
	return divergences
}

func equalStepNumber(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func bothHave(h, f eventlog.Event, key string) (interface{}, interface{}, bool) {
	hv, hok := h.Payload[key]
	fv, fok := f.Payload[key]
	if !hok || !fok {
		return nil, nil, false
	}
	return hv, fv, true
}
