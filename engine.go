package daer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/daer/emit"
	"github.com/dshills/daer/eventlog"
	"github.com/dshills/daer/policy"
	"github.com/dshills/daer/snapshot"
	"github.com/dshills/daer/tool"
)

// Engine drives one AgentAdapter through the INIT→PLAN→EXECUTE→REVIEW→
// TERMINATE lifecycle. It is safe to reuse across many executions —
// all per-execution state lives in the Event Log, never on the Engine
// itself — but a single execution_id must never be driven by two
// Engine instances concurrently (the Distributed Scheduler enforces
// this via per-worker job affinity).
type Engine struct {
	adapter     AgentAdapter
	opts        Options
	interceptor *tool.Interceptor

	mu        sync.Mutex
	cancelled map[string]bool
}

// Cancel requests cancellation of executionID. The Engine observes the
// flag at the same checkpoints it checks policy: before the next step,
// and before the next tool call. In-flight tool calls are allowed to
// finish.
func (e *Engine) Cancel(executionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelled[executionID] = true
}

func (e *Engine) isCancelled(executionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled[executionID]
}

// Run starts or idempotently continues executionID. If no snapshot
// exists yet, one is created from the Engine's current configuration
// and task; if one already exists, its stored execution_hash must
// match what the current configuration recomputes to, or Run fails
// with ErrExecutionHashMismatch without appending anything. Either
// way, Run then rehydrates whatever events already exist and continues
// the step loop from the first incomplete step — this is simultaneously
// the "fresh start" and "resume after crash" path, since both reduce to
// "continue from what the log says happened."
func (e *Engine) Run(ctx context.Context, executionID string, task interface{}) (ExecutionReport, error) {
	toolsIdentity := ""
	if e.opts.Tools != nil {
		toolsIdentity = e.opts.Tools.Identity()
	}

	policyMap := policyToMap(e.opts.Policy)
	hash := ComputeExecutionHash(task, policyMap, e.adapter.Name(), e.adapter.Version(), toolsIdentity, e.opts.RuntimeVersion)

	snap := snapshot.Snapshot{
		ExecutionID:          executionID,
		ExecutionHash:        hash,
		Task:                 task,
		PolicyConfig:         policyMap,
		AgentIdentity:        e.adapter.Name(),
		ToolRegistryIdentity: toolsIdentity,
		RuntimeVersion:       e.opts.RuntimeVersion,
		CreatedAt:            time.Now().UTC(),
	}

	if err := e.opts.SnapshotStore.Put(ctx, snap); err != nil {
		if err == snapshot.ErrHashMismatch {
			return ExecutionReport{}, ErrExecutionHashMismatch
		}
		return ExecutionReport{}, fmt.Errorf("daer: put snapshot: %w", err)
	}

	return e.runLoop(ctx, executionID)
}

// Resume continues an existing execution. Unlike Run, it requires a
// snapshot to already exist, and always recomputes execution_hash from
// the Engine's current configuration + the snapshot's stored task to
// check continuity before touching the log.
func (e *Engine) Resume(ctx context.Context, executionID string) (ExecutionReport, error) {
	snap, err := e.opts.SnapshotStore.Get(ctx, executionID)
	if err != nil {
		if err == snapshot.ErrNotFound {
			return ExecutionReport{}, ErrNoSnapshot
		}
		return ExecutionReport{}, fmt.Errorf("daer: get snapshot: %w", err)
	}

	toolsIdentity := ""
	if e.opts.Tools != nil {
		toolsIdentity = e.opts.Tools.Identity()
	}
	recomputed := ComputeExecutionHash(snap.Task, policyToMap(e.opts.Policy), e.adapter.Name(), e.adapter.Version(), toolsIdentity, e.opts.RuntimeVersion)
	if recomputed != snap.ExecutionHash {
		return ExecutionReport{}, ErrExecutionHashMismatch
	}

	return e.runLoop(ctx, executionID)
}

// runLoop is the shared core of Run and Resume: rehydrate, then drive
// the step loop until a terminal event is appended.
func (e *Engine) runLoop(ctx context.Context, executionID string) (ExecutionReport, error) {
	events, err := e.opts.EventLog.Read(ctx, executionID, 0)
	if err != nil {
		return ExecutionReport{}, fmt.Errorf("daer: read event log: %w", err)
	}

	state := Fold(executionID, events)
	if state.Status != StatusRunning {
		return e.reportFrom(state), nil
	}

	if len(events) == 0 {
		if _, err := e.appendEvent(ctx, executionID, nil, eventlog.EventExecutionStarted, nil); err != nil {
			return ExecutionReport{}, err
		}
		if _, err := e.appendEvent(ctx, executionID, nil, eventlog.EventStateEnter, eventLogPayload{"state": string(StatePlan)}); err != nil {
			return ExecutionReport{}, err
		}
		state.Lifecycle = StatePlan
		state.StartedAt = time.Now().UTC()
	}

	step := state.StepNumber
	resumingOpenStep := false
	if state.openStep >= 0 {
		step = state.openStep
		resumingOpenStep = true
	}

	for {
		if e.isCancelled(executionID) {
			return e.fail(ctx, executionID, state, FailureCancelled, "cancellation observed at pre-step checkpoint")
		}

		if !state.StartedAt.IsZero() {
			state.Elapsed = time.Since(state.StartedAt)
		}
		if v := policy.ValidateStep(e.opts.Policy, state.Observed()); v.Observed() {
			e.emitPolicyViolation(executionID, step, v)
			return e.failPolicyViolation(ctx, executionID, state, v)
		}

		if !resumingOpenStep {
			stepNum := step
			if _, err := e.appendEvent(ctx, executionID, &stepNum, eventlog.EventStepStarted, nil); err != nil {
				return ExecutionReport{}, err
			}
		}
		resumingOpenStep = false

		sc := &stepContext{engine: e, executionID: executionID, step: step, observed: state.Observed()}
		start := time.Now()
		result, invokeErr := e.adapter.Invoke(ctx, sc, state)
		latencyMS := float64(time.Since(start).Milliseconds())

		if invokeErr != nil {
			if policy.Classify(invokeErr) {
				stepNum := step
				if _, err := e.appendEvent(ctx, executionID, &stepNum, eventlog.EventRetryAttempted, eventLogPayload{"reason": invokeErr.Error()}); err != nil {
					return ExecutionReport{}, err
				}
				e.opts.Metrics.ObserveStepLatencyMS("retry", latencyMS)
				e.opts.Metrics.IncStep("retry")
				resumingOpenStep = true // same step, no duplicate STEP_STARTED
				continue
			}
			e.opts.Metrics.ObserveStepLatencyMS("error", latencyMS)
			e.opts.Metrics.IncStep("error")
			return e.fail(ctx, executionID, state, FailureAdapterError, invokeErr.Error())
		}
		e.opts.Metrics.ObserveStepLatencyMS("success", latencyMS)
		e.opts.Metrics.IncStep("success")

		stepNum := step
		if _, err := e.appendEvent(ctx, executionID, &stepNum, eventlog.EventStepCompleted, eventLogPayload{
			"output":      result.Output,
			"token_delta": result.Tokens,
		}); err != nil {
			return ExecutionReport{}, err
		}

		state.StepNumber = step + 1
		state.TokenUsage += result.Tokens
		state.LastOutput = result.Output

		if result.Done {
			if _, err := e.appendEvent(ctx, executionID, nil, eventlog.EventStateEnter, eventLogPayload{"state": string(StateTerminate)}); err != nil {
				return ExecutionReport{}, err
			}
			state.Lifecycle = StateTerminate
			if _, err := e.appendEvent(ctx, executionID, nil, eventlog.EventExecutionDone, eventLogPayload{"final_output": result.Output}); err != nil {
				return ExecutionReport{}, err
			}
			state.Status = StatusSuccess
			return e.reportFrom(state), nil
		}

		step = state.StepNumber
	}
}

// failPolicyViolation appends POLICY_VIOLATION then EXECUTION_FAILED,
// per the hard-stop contract: policy violations are never retried.
func (e *Engine) failPolicyViolation(ctx context.Context, executionID string, state ExecutionState, v policy.Violation) (ExecutionReport, error) {
	if _, err := e.appendEvent(ctx, executionID, nil, eventlog.EventPolicyViolation, eventLogPayload{
		"kind": string(v.Kind), "detail": v.Detail,
	}); err != nil {
		return ExecutionReport{}, err
	}
	return e.fail(ctx, executionID, state, FailurePolicyViolation, v.Error())
}

// fail appends EXECUTION_FAILED{kind, detail} and returns the terminal
// report. User-visible failure is always this one shape — no error
// kind escapes uncaught.
func (e *Engine) fail(ctx context.Context, executionID string, state ExecutionState, kind FailureKind, detail string) (ExecutionReport, error) {
	if _, err := e.appendEvent(ctx, executionID, nil, eventlog.EventExecutionFailed, eventLogPayload{
		"kind": string(kind), "detail": detail,
	}); err != nil {
		return ExecutionReport{}, err
	}
	state.Status = StatusFailed
	state.FailureKind = kind
	state.FailureDetail = detail
	return e.reportFrom(state), nil
}

func (e *Engine) emitPolicyViolation(executionID string, step int, v policy.Violation) {
	e.opts.Metrics.IncPolicyViolation(string(v.Kind))
	e.opts.Emitter.Emit(emit.Event{
		ExecutionID: executionID,
		Step:        step,
		Component:   "policy",
		Msg:         "policy_violation",
		Meta:        eventLogPayload{"kind": string(v.Kind), "detail": v.Detail},
	})
}

func (e *Engine) appendEvent(ctx context.Context, executionID string, step *int, typ eventlog.EventType, payload eventLogPayload) (eventlog.Event, error) {
	ev, err := e.opts.EventLog.Append(ctx, eventlog.Draft{
		ExecutionID: executionID,
		StepNumber:  step,
		Type:        typ,
		Payload:     payload,
	})
	if err != nil {
		return eventlog.Event{}, &RuntimeError{Message: err.Error(), Code: FailureEventLogError}
	}

	stepN := -1
	if step != nil {
		stepN = *step
	}
	e.opts.Emitter.Emit(emit.Event{EventID: ev.EventID, Sequence: ev.Sequence, ExecutionID: executionID, Step: stepN, Msg: string(typ), Meta: payload})
	return ev, nil
}

func (e *Engine) reportFrom(state ExecutionState) ExecutionReport {
	return ExecutionReport{
		ExecutionID:   state.ExecutionID,
		Status:        state.Status,
		AgentName:     e.adapter.Name(),
		TotalSteps:    state.StepNumber,
		TokenUsage:    state.TokenUsage,
		ToolCalls:     state.ToolCalls,
		StateHistory:  state.StateHistory,
		ExecutionTime: state.Elapsed,
		FinalOutput:   state.LastOutput,
		FailureKind:   state.FailureKind,
		FailureDetail: state.FailureDetail,
	}
}

// stepContext binds StepContext.CallTool to this Engine's interceptor
// for one execution/step pair, and checks cancellation at the pre-tool
// checkpoint.
type stepContext struct {
	engine      *Engine
	executionID string
	step        int
	observed    policy.ObservedState
}

func (sc *stepContext) CallTool(ctx context.Context, toolName string, args, kwargs map[string]interface{}) (interface{}, error) {
	if sc.engine.isCancelled(sc.executionID) {
		return nil, ErrCancelled
	}
	if v := policy.ValidateToolCall(sc.engine.opts.Policy, sc.observed, toolName); v.Observed() {
		return nil, v
	}

	result, err := sc.engine.interceptor.Call(ctx, sc.executionID, sc.step, toolName, args, kwargs)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	sc.engine.opts.Metrics.IncToolCall(toolName, outcome)
	return result, err
}

// policyToMap round-trips a policy.Config into the map[string]interface{}
// shape snapshot.Snapshot.PolicyConfig stores, so the Snapshot Store
// stays agnostic to the policy package's concrete type.
func policyToMap(cfg policy.Config) eventLogPayload {
	allowed := make([]interface{}, len(cfg.AllowedTools))
	for i, t := range cfg.AllowedTools {
		allowed[i] = t
	}
	return eventLogPayload{
		"max_steps":          cfg.MaxSteps,
		"max_tokens":         cfg.MaxTokens,
		"max_tool_calls":     cfg.MaxToolCalls,
		"execution_timeout":  cfg.ExecutionTimeout.String(),
		"allowed_tools":      allowed,
		"max_retries":        cfg.Retry.MaxRetries,
		"initial_delay":      cfg.Retry.InitialDelay.String(),
		"backoff_multiplier": cfg.Retry.BackoffMultiplier,
	}
}
