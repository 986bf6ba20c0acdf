package main

import (
	"context"
	"fmt"

	"github.com/dshills/daer"
	"github.com/dshills/daer/adapter"
)

// newDemoAdapter builds the CLI's single built-in agent: one step that
// reports a deterministic output and completes, at a fixed token cost,
// mirroring the shape of the teacher's sqlite_quickstart example nodes
// (small, hardcoded, here to exercise the runtime rather than to
// demonstrate real agent logic). The submitted task itself never
// reaches the adapter — Invoke only ever sees derived ExecutionState,
// matching the runtime's opaque, model-agnostic AgentAdapter contract.
func newDemoAdapter() daer.AgentAdapter {
	return adapter.NewFuncAdapter("daerctl-demo", "v1", func(ctx context.Context, sc daer.StepContext, state daer.ExecutionState) (daer.StepResult, error) {
		return daer.StepResult{
			Output: fmt.Sprintf("demo-output-step-%d", state.StepNumber),
			Tokens: 1,
			Done:   true,
		}, nil
	})
}
