package daer

import "errors"

// Sentinel errors surfaced by Run/Resume/Replay. All are checked with
// errors.Is; RuntimeError additionally carries a machine-readable Code
// for callers that need to branch on kind without string matching.
var (
	// ErrExecutionHashMismatch means a resume/replay's recomputed
	// execution_hash does not match the stored snapshot's. The Runtime
	// refuses the operation; nothing is appended to the log.
	ErrExecutionHashMismatch = errors.New("daer: execution_hash mismatch")

	// ErrDeterminismViolation means a forced re-execution's newly
	// produced events diverged from the historical sequence.
	ErrDeterminismViolation = errors.New("daer: determinism violation")

	// ErrInvalidTransition means the state machine was asked to enter a
	// state not reachable from its current one — a defect, not a user
	// error.
	ErrInvalidTransition = errors.New("daer: invalid state transition")

	// ErrCancelled means a cancel(execution_id) request was observed at
	// a policy/tool checkpoint.
	ErrCancelled = errors.New("daer: execution cancelled")

	// ErrTimedOut means execution_timeout elapsed.
	ErrTimedOut = errors.New("daer: execution timed out")

	// ErrNoSnapshot means Resume was called for an execution_id with no
	// stored ExecutionSnapshot.
	ErrNoSnapshot = errors.New("daer: no snapshot for execution_id")

	// ErrNonIdempotentForcedReplay means a forced re-execution would
	// touch a tool not known to be safely replayable, and was refused.
	ErrNonIdempotentForcedReplay = errors.New("daer: forced replay refused: non-idempotent tool call")
)

// RuntimeError is returned for failures the Runtime wants to surface
// with both a human message and a stable Code, mirroring the shape
// every ExecutionReport failure uses.
type RuntimeError struct {
	Message string
	Code    FailureKind
}

func (e *RuntimeError) Error() string {
	if e.Code != "" {
		return string(e.Code) + ": " + e.Message
	}
	return e.Message
}
