// Package adapter provides small, generically useful AgentAdapter
// implementations: a function-backed adapter for programs that already
// have their step logic as a closure, and a deterministic mock for
// tests and examples.
package adapter

import (
	"context"

	"github.com/dshills/daer"
)

// StepFunc is the signature a FuncAdapter wraps.
type StepFunc func(ctx context.Context, sc daer.StepContext, state daer.ExecutionState) (daer.StepResult, error)

// FuncAdapter turns a plain function into an AgentAdapter, the same
// shape the teacher's NodeFunc gives a graph node: no struct needed
// when a closure already captures everything the step needs.
type FuncAdapter struct {
	name    string
	version string
	fn      StepFunc
}

// NewFuncAdapter wraps fn as an AgentAdapter identified by name/version.
func NewFuncAdapter(name, version string, fn StepFunc) *FuncAdapter {
	return &FuncAdapter{name: name, version: version, fn: fn}
}

func (a *FuncAdapter) Name() string    { return a.name }
func (a *FuncAdapter) Version() string { return a.version }

func (a *FuncAdapter) Invoke(ctx context.Context, sc daer.StepContext, state daer.ExecutionState) (daer.StepResult, error) {
	return a.fn(ctx, sc, state)
}
