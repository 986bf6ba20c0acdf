package adapter

import (
	"context"

	"github.com/dshills/daer"
)

// MockStep is one scripted step a MockAdapter plays back in order.
type MockStep struct {
	Output interface{}
	Tokens int
	Done   bool

	// ToolCall, if non-empty, is invoked through StepContext before the
	// step reports its result — used to exercise the interception layer
	// from deterministic test fixtures.
	ToolCall   string
	ToolArgs   map[string]interface{}
	ToolKwargs map[string]interface{}
}

// MockAdapter replays a fixed StepResult sequence, one per call to
// Invoke, useful for exercising the Engine's lifecycle and policy
// checks without a real agent.
type MockAdapter struct {
	name, version string
	steps         []MockStep
	calls         int
}

// NewMockAdapter creates a MockAdapter that plays steps back in order.
// Invoking it more times than len(steps) repeats the final step.
func NewMockAdapter(name, version string, steps ...MockStep) *MockAdapter {
	return &MockAdapter{name: name, version: version, steps: steps}
}

func (m *MockAdapter) Name() string    { return m.name }
func (m *MockAdapter) Version() string { return m.version }

// Calls returns how many times Invoke has run.
func (m *MockAdapter) Calls() int { return m.calls }

func (m *MockAdapter) Invoke(ctx context.Context, sc daer.StepContext, _ daer.ExecutionState) (daer.StepResult, error) {
	idx := m.calls
	if idx >= len(m.steps) {
		idx = len(m.steps) - 1
	}
	step := m.steps[idx]
	m.calls++

	if step.ToolCall != "" {
		if _, err := sc.CallTool(ctx, step.ToolCall, step.ToolArgs, step.ToolKwargs); err != nil {
			return daer.StepResult{}, err
		}
	}

	return daer.StepResult{Output: step.Output, Tokens: step.Tokens, Done: step.Done}, nil
}
