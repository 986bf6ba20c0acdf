package tool

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/dshills/daer/emit"
	"github.com/dshills/daer/eventlog"
	"github.com/dshills/daer/policy"
)

// ErrToolNotRegistered is returned when the adapter requests a tool name
// the Registry has no entry for.
var ErrToolNotRegistered = errors.New("tool: not registered")

// Interceptor routes every tool invocation through canonical argument
// hashing, Event Log deduplication, and a bounded retry loop, per the
// at-least-once-but-deduplicated contract.
type Interceptor struct {
	Log      eventlog.Log
	Registry *Registry
	Retry    policy.RetryConfig
	Metrics  *emit.Metrics

	// Rand, if set, is used for retry jitter so a test harness can make
	// the backoff deterministic. Nil falls back to the package default.
	Rand *rand.Rand
}

// Call executes toolName via the interceptor's three-step protocol:
//  1. compute arg_hash and check the Event Log for a prior
//     TOOL_CALL_SUCCESS — if found, return its result without
//     appending anything new;
//  2. otherwise append TOOL_CALL_STARTED and invoke the tool under the
//     retry policy;
//  3. append TOOL_CALL_SUCCESS or TOOL_CALL_FAILED on terminal outcome.
//
// stepNumber identifies the step the call is attributed to, for events
// that carry StepNumber.
func (in *Interceptor) Call(ctx context.Context, executionID string, stepNumber int, toolName string, args, kwargs map[string]interface{}) (interface{}, error) {
	argHash := ArgHash(toolName, args, kwargs)

	if payload, found, err := in.Log.ExistsToolSuccess(ctx, executionID, argHash); err != nil {
		return nil, fmt.Errorf("tool: check existing success: %w", err)
	} else if found {
		return payload["result"], nil
	}

	t, ok := in.Registry.Lookup(toolName)
	if !ok {
		return nil, ErrToolNotRegistered
	}

	step := stepNumber
	if _, err := in.Log.Append(ctx, eventlog.Draft{
		ExecutionID: executionID,
		StepNumber:  &step,
		Type:        eventlog.EventToolCallStarted,
		Payload:     map[string]interface{}{"tool_name": toolName, "arg_hash": argHash},
	}); err != nil {
		return nil, fmt.Errorf("tool: append TOOL_CALL_STARTED: %w", err)
	}

	result, err := in.invokeWithRetry(ctx, executionID, step, t, args, kwargs)
	if err != nil {
		if _, aErr := in.Log.Append(ctx, eventlog.Draft{
			ExecutionID: executionID,
			StepNumber:  &step,
			Type:        eventlog.EventToolCallFailed,
			Payload:     map[string]interface{}{"tool_name": toolName, "arg_hash": argHash, "error_kind": errorKind(err)},
		}); aErr != nil {
			return nil, fmt.Errorf("tool: append TOOL_CALL_FAILED: %w (after call error: %v)", aErr, err)
		}
		return nil, err
	}

	if _, err := in.Log.Append(ctx, eventlog.Draft{
		ExecutionID: executionID,
		StepNumber:  &step,
		Type:        eventlog.EventToolCallSuccess,
		Payload:     map[string]interface{}{"tool_name": toolName, "arg_hash": argHash, "result": result},
	}); err != nil {
		return nil, fmt.Errorf("tool: append TOOL_CALL_SUCCESS: %w", err)
	}

	return result, nil
}

// invokeWithRetry runs t.Invoke, retrying per in.Retry on retryable
// errors and emitting RETRY_ATTEMPTED before each retry. It never
// appends TOOL_CALL_SUCCESS/FAILED itself — the caller does that once,
// after the loop settles.
func (in *Interceptor) invokeWithRetry(ctx context.Context, executionID string, step int, t Tool, args, kwargs map[string]interface{}) (interface{}, error) {
	var lastErr error
	for attempt := 0; attempt <= in.Retry.MaxRetries; attempt++ {
		result, err := t.Invoke(ctx, args, kwargs)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !policy.Classify(err) || attempt == in.Retry.MaxRetries {
			return nil, err
		}

		in.Metrics.IncRetry(errorKind(err))

		delay := in.Retry.Delay(attempt, in.Rand)
		if _, aErr := in.Log.Append(ctx, eventlog.Draft{
			ExecutionID: executionID,
			StepNumber:  &step,
			Type:        eventlog.EventRetryAttempted,
			Payload:     map[string]interface{}{"attempt": attempt, "delay_ms": delay.Milliseconds()},
		}); aErr != nil {
			return nil, fmt.Errorf("tool: append RETRY_ATTEMPTED: %w", aErr)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

// errorKind extracts a short, loggable classification for a terminal
// tool error, falling back to the error's own message.
func errorKind(err error) string {
	var v policy.Violation
	if errors.As(err, &v) {
		return string(v.Kind)
	}
	return err.Error()
}
