// Package policy validates execution state against a frozen set of
// resource and access budgets, and classifies errors as retryable or
// fatal. Policy checks run immediately before every step and every tool
// call; a violation is always a hard-stop.
package policy

import (
	"errors"
	"math/rand"
	"time"
)

// ErrInvalidConfig is returned by Config.Validate for malformed budgets.
var ErrInvalidConfig = errors.New("policy: invalid config")

// ViolationKind names the specific budget or allowlist breach that
// triggered a hard-stop.
type ViolationKind string

const (
	ViolationMaxSteps     ViolationKind = "MaxSteps"
	ViolationMaxTokens    ViolationKind = "MaxTokens"
	ViolationMaxToolCalls ViolationKind = "MaxToolCalls"
	ViolationTimeout      ViolationKind = "Timeout"
	ViolationDisallowedTool ViolationKind = "DisallowedTool"
)

// Violation reports a single hard-stop cause. A zero-value Violation
// (Kind == "") means no violation occurred.
type Violation struct {
	Kind   ViolationKind
	Detail string
}

// Observed returns whether a violation occurred.
func (v Violation) Observed() bool { return v.Kind != "" }

// RetryConfig controls the exponential-backoff retry loop a tool
// invocation runs under. Delay for retry i (zero-based) is
// initial_delay * backoff_multiplier^i, capped by implicit caller
// bookkeeping against MaxRetries.
type RetryConfig struct {
	MaxRetries        int
	InitialDelay      time.Duration
	BackoffMultiplier float64
}

// Validate checks RetryConfig invariants: MaxRetries >= 0,
// InitialDelay > 0 whenever retries are permitted, and a multiplier
// that does not shrink the delay on each attempt.
func (rc RetryConfig) Validate() error {
	if rc.MaxRetries < 0 {
		return ErrInvalidConfig
	}
	if rc.MaxRetries > 0 {
		if rc.InitialDelay <= 0 {
			return ErrInvalidConfig
		}
		if rc.BackoffMultiplier < 1 {
			return ErrInvalidConfig
		}
	}
	return nil
}

// Delay returns the backoff duration before retry attempt i (0-based),
// following delay_i = initial_delay * backoff_multiplier^i, then adds
// jitter in [0, InitialDelay) to avoid synchronized retries. rng may be
// nil, in which case the package-level source is used (non-deterministic,
// fine outside replay).
func (rc RetryConfig) Delay(attempt int, rng *rand.Rand) time.Duration {
	delay := float64(rc.InitialDelay)
	for i := 0; i < attempt; i++ {
		delay *= rc.BackoffMultiplier
	}

	var jitter time.Duration
	if rc.InitialDelay > 0 {
		if rng != nil {
			jitter = time.Duration(rng.Int63n(int64(rc.InitialDelay)))
		} else {
			jitter = time.Duration(rand.Int63n(int64(rc.InitialDelay))) // #nosec G404 -- timing jitter, not security
		}
	}
	return time.Duration(delay) + jitter
}

// Config is the frozen governance parameter set captured in a
// snapshot's policy_config and enforced by Validate at every
// pre-step/pre-tool checkpoint.
type Config struct {
	MaxSteps         int
	MaxTokens        int
	MaxToolCalls     int
	ExecutionTimeout time.Duration
	AllowedTools     []string // empty/nil ⇒ allow all
	Retry            RetryConfig
}

// Validate checks Config invariants: non-negative budgets (zero means
// "no limit" for every field except MaxSteps, which must permit at
// least one step when set) and a valid retry configuration.
func (c Config) Validate() error {
	if c.MaxSteps < 0 || c.MaxTokens < 0 || c.MaxToolCalls < 0 || c.ExecutionTimeout < 0 {
		return ErrInvalidConfig
	}
	return c.Retry.Validate()
}

// allowsTool reports whether toolName is permitted. An empty
// AllowedTools set means allow-all, per the Runtime's resolution of
// the unset-allowlist open question.
func (c Config) allowsTool(toolName string) bool {
	if len(c.AllowedTools) == 0 {
		return true
	}
	for _, t := range c.AllowedTools {
		if t == toolName {
			return true
		}
	}
	return false
}

// ObservedState is the subset of cumulative execution progress the
// Policy Engine needs to validate against Config. It deliberately holds
// only primitive counters rather than the full derived execution state,
// so this package has no dependency on any event-log or engine type.
type ObservedState struct {
	StepsCompleted    int
	TokensUsed        int
	ToolCallsCompleted int
	Elapsed           time.Duration
}

// ValidateStep checks whether another step may begin, given the steps
// already completed. MaxSteps==0 means unlimited.
func ValidateStep(cfg Config, observed ObservedState) Violation {
	if v := validateBudgets(cfg, observed); v.Observed() {
		return v
	}
	if cfg.MaxSteps > 0 && observed.StepsCompleted+1 > cfg.MaxSteps {
		return Violation{Kind: ViolationMaxSteps, Detail: "next step would exceed max_steps"}
	}
	return Violation{}
}

// ValidateToolCall checks whether a call to toolName may proceed,
// given observed cumulative usage and the allowlist.
func ValidateToolCall(cfg Config, observed ObservedState, toolName string) Violation {
	if v := validateBudgets(cfg, observed); v.Observed() {
		return v
	}
	if !cfg.allowsTool(toolName) {
		return Violation{Kind: ViolationDisallowedTool, Detail: "tool not in allowed_tools: " + toolName}
	}
	return Violation{}
}

// validateBudgets checks the budgets shared by both step and tool-call
// checkpoints: cumulative tokens, tool calls, and wall-clock elapsed.
// All comparisons use the already-observed cumulative value, per the
// Runtime's resolution that budget checks are strictly pre-step/pre-call
// against what has already happened, not a projection of what is about
// to happen.
func validateBudgets(cfg Config, observed ObservedState) Violation {
	if cfg.MaxTokens > 0 && observed.TokensUsed > cfg.MaxTokens {
		return Violation{Kind: ViolationMaxTokens, Detail: "cumulative tokens exceed max_tokens"}
	}
	if cfg.MaxToolCalls > 0 && observed.ToolCallsCompleted >= cfg.MaxToolCalls {
		return Violation{Kind: ViolationMaxToolCalls, Detail: "tool call budget exhausted"}
	}
	if cfg.ExecutionTimeout > 0 && observed.Elapsed > cfg.ExecutionTimeout {
		return Violation{Kind: ViolationTimeout, Detail: "execution_timeout exceeded"}
	}
	return Violation{}
}

// Classify determines whether err should be retried or treated as a
// fatal, non-retryable failure. Transient errors (those implementing an
// unwrap-to Temporary()/Timeout() predicate, or explicitly marked via
// MarkRetryable) are retryable; everything else, including any
// Violation, is fatal.
func Classify(err error) (retryable bool) {
	if err == nil {
		return false
	}
	var v Violation
	if errors.As(err, &v) {
		return false
	}
	var re retryableError
	if errors.As(err, &re) {
		return bool(re)
	}
	var temp interface{ Temporary() bool }
	if errors.As(err, &temp) {
		return temp.Temporary()
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) {
		return timeout.Timeout()
	}
	return false
}

// Error satisfies the error interface so a Violation can be returned
// and classified directly as fatal.
func (v Violation) Error() string {
	if v.Detail != "" {
		return string(v.Kind) + ": " + v.Detail
	}
	return string(v.Kind)
}

type retryableError bool

func (retryableError) Error() string { return "policy: marked retryable" }

// MarkRetryable wraps err so Classify treats it as retryable regardless
// of whether it implements Temporary()/Timeout(), for adapters and tools
// that want to declare transience explicitly (e.g. "generic tool error
// with a marker").
func MarkRetryable(err error) error {
	if err == nil {
		return nil
	}
	return markedError{cause: err}
}

type markedError struct{ cause error }

func (m markedError) Error() string { return m.cause.Error() }
func (m markedError) Unwrap() error { return m.cause }
func (m markedError) As(target interface{}) bool {
	if p, ok := target.(*retryableError); ok {
		*p = retryableError(true)
		return true
	}
	return false
}
