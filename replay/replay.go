// Package replay provides read-only inspection of an execution's
// history: rehydrating the derived ExecutionState from the Event Log
// alone, without ever invoking an adapter or tool, and locating the
// first incomplete step an execution would resume from.
//
// Forced re-execution — which does invoke the adapter and tools, and
// compares the fresh event subsequence against the historical one —
// lives on Engine.ForceReplay, since it needs the Engine's adapter and
// tool registry; this package covers only the side-effect-free half of
// the replay story, usable without an Engine at all.
package replay

import (
	"context"
	"fmt"

	"github.com/dshills/daer"
	"github.com/dshills/daer/eventlog"
)

// Rehydrate reads the full event stream for executionID and folds it
// into an ExecutionState, matching the teacher's log-fold-only replay
// mode: no adapter or tool is ever invoked, so calling Rehydrate twice
// in a row is always safe and always produces an equal state.
func Rehydrate(ctx context.Context, log eventlog.Log, executionID string) (daer.ExecutionState, error) {
	events, err := log.Read(ctx, executionID, 0)
	if err != nil {
		return daer.ExecutionState{}, fmt.Errorf("replay: read event log: %w", err)
	}
	return daer.Fold(executionID, events), nil
}

// FirstIncompleteStep returns the smallest step number n for which
// STEP_STARTED(n) was appended but STEP_COMPLETED(n) was not, and true
// — the resume point per the Resume contract. If every started step
// also completed, it returns (0, false).
func FirstIncompleteStep(events []eventlog.Event) (int, bool) {
	started := map[int]bool{}
	completed := map[int]bool{}
	for _, e := range events {
		if e.StepNumber == nil {
			continue
		}
		switch e.Type {
		case eventlog.EventStepStarted:
			started[*e.StepNumber] = true
		case eventlog.EventStepCompleted:
			completed[*e.StepNumber] = true
		}
	}
	found := false
	smallest := 0
	for n := range started {
		if completed[n] {
			continue
		}
		if !found || n < smallest {
			smallest = n
			found = true
		}
	}
	return smallest, found
}
