package daer

import (
	"math/rand"

	"github.com/dshills/daer/emit"
	"github.com/dshills/daer/eventlog"
	"github.com/dshills/daer/policy"
	"github.com/dshills/daer/snapshot"
	"github.com/dshills/daer/tool"
)

// Options configures an Engine. It can be passed to New directly, or
// built up through the With* functional options below — the two
// styles compose: an Options struct supplies a base configuration,
// and any functional options passed after it override individual
// fields.
//
//	eng, err := daer.New(myAdapter,
//	    daer.Options{Policy: policy.Config{MaxSteps: 50}},
//	    daer.WithEventLog(redisLog),       // overrides/extends the base
//	    daer.WithEmitter(myEmitter),
//	)
type Options struct {
	Policy         policy.Config
	EventLog       eventlog.Log
	SnapshotStore  snapshot.Store
	Tools          *tool.Registry
	Emitter        emit.Emitter
	Metrics        *emit.Metrics
	RuntimeVersion string
	Rand           *rand.Rand
}

// Option is a functional option for New, applied in call order after
// any Options struct argument.
type Option func(*Options)

// WithPolicy sets the governance configuration enforced before every
// step and tool call.
func WithPolicy(cfg policy.Config) Option {
	return func(o *Options) { o.Policy = cfg }
}

// WithEventLog sets the backing Event Log. Default: an in-memory
// eventlog.MemLog, suitable only for single-process testing.
func WithEventLog(log eventlog.Log) Option {
	return func(o *Options) { o.EventLog = log }
}

// WithSnapshotStore sets the backing Snapshot Store. Default: an
// in-memory snapshot.MemStore.
func WithSnapshotStore(store snapshot.Store) Option {
	return func(o *Options) { o.SnapshotStore = store }
}

// WithTools sets the tool registry available to the adapter's
// StepContext.
func WithTools(reg *tool.Registry) Option {
	return func(o *Options) { o.Tools = reg }
}

// WithEmitter sets the observability sink. Default: emit.NullEmitter.
func WithEmitter(e emit.Emitter) Option {
	return func(o *Options) { o.Emitter = e }
}

// WithMetrics attaches a Prometheus metrics collector.
func WithMetrics(m *emit.Metrics) Option {
	return func(o *Options) { o.Metrics = m }
}

// WithRuntimeVersion sets the runtime_version component of
// execution_hash. Default: "dev".
func WithRuntimeVersion(v string) Option {
	return func(o *Options) { o.RuntimeVersion = v }
}

// WithRand overrides the random source used for retry jitter, for
// deterministic tests.
func WithRand(r *rand.Rand) Option {
	return func(o *Options) { o.Rand = r }
}

// New constructs an Engine bound to adapter. Arguments after adapter
// may be a single Options struct, any number of Option functions, or
// both — following the same dual-mode convention used for engine
// configuration elsewhere in this ecosystem: an Options struct if
// given is applied first, then each Option is applied in order.
func New(adapter AgentAdapter, opts ...interface{}) (*Engine, error) {
	resolved := Options{
		RuntimeVersion: "dev",
	}

	for _, opt := range opts {
		switch v := opt.(type) {
		case Options:
			resolved = mergeOptions(resolved, v)
		case Option:
			v(&resolved)
		default:
			return nil, &RuntimeError{Message: "daer.New: unrecognized option type", Code: FailureInvalidTransition}
		}
	}

	if resolved.EventLog == nil {
		resolved.EventLog = eventlog.NewMemLog()
	}
	if resolved.SnapshotStore == nil {
		resolved.SnapshotStore = snapshot.NewMemStore()
	}
	if resolved.Tools == nil {
		resolved.Tools = tool.NewRegistry()
	}
	if resolved.Emitter == nil {
		resolved.Emitter = emit.NewNullEmitter()
	}

	return &Engine{
		adapter: adapter,
		opts:    resolved,
		interceptor: &tool.Interceptor{
			Log:      resolved.EventLog,
			Registry: resolved.Tools,
			Metrics:  resolved.Metrics,
			Retry: policy.RetryConfig{
				MaxRetries:        resolved.Policy.Retry.MaxRetries,
				InitialDelay:      resolved.Policy.Retry.InitialDelay,
				BackoffMultiplier: resolved.Policy.Retry.BackoffMultiplier,
			},
			Rand: resolved.Rand,
		},
		cancelled: make(map[string]bool),
	}, nil
}

// mergeOptions lets a later Options struct argument override only the
// fields it explicitly sets would require field-presence tracking Go
// doesn't give us for value types; in practice New only expects one
// Options struct argument, so this simply takes the later value
// wholesale. Kept as a named step (rather than inlining `resolved = v`)
// so a future caller stacking two Options arguments gets an obvious
// place to read the merge policy.
func mergeOptions(_ Options, v Options) Options {
	return v
}
