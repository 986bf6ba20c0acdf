package daer_test

import (
	"context"
	"testing"

	"github.com/dshills/daer"
	"github.com/dshills/daer/adapter"
	"github.com/dshills/daer/eventlog"
	"github.com/dshills/daer/policy"
	"github.com/dshills/daer/snapshot"
	"github.com/dshills/daer/tool"
	"github.com/stretchr/testify/require"
)

func TestEngine_HappyPath(t *testing.T) {
	ctx := context.Background()
	ag := adapter.NewMockAdapter("echo", "v1", adapter.MockStep{Output: "echo", Tokens: 10, Done: true})

	eng, err := daer.New(ag)
	require.NoError(t, err)

	report, err := eng.Run(ctx, "exec-1", "echo")
	require.NoError(t, err)
	require.Equal(t, daer.StatusSuccess, report.Status)
	require.Equal(t, 1, report.TotalSteps)
	require.Equal(t, 10, report.TokenUsage)
	require.Equal(t, "echo", report.FinalOutput)
}

func TestEngine_TokenHardStop(t *testing.T) {
	ctx := context.Background()
	ag := adapter.NewMockAdapter("counter", "v1",
		adapter.MockStep{Output: "s0", Tokens: 30, Done: false},
		adapter.MockStep{Output: "s1", Tokens: 30, Done: false},
		adapter.MockStep{Output: "s2", Tokens: 30, Done: false},
	)

	eng, err := daer.New(ag, daer.WithPolicy(policy.Config{MaxTokens: 50}))
	require.NoError(t, err)

	report, err := eng.Run(ctx, "exec-2", "count")
	require.NoError(t, err)
	require.Equal(t, daer.StatusFailed, report.Status)
	require.Equal(t, daer.FailurePolicyViolation, report.FailureKind)
	require.Equal(t, 60, report.TokenUsage, "step 1 still runs since the check uses cumulative-before-step")
}

func TestEngine_ToolReplayAcrossResume(t *testing.T) {
	ctx := context.Background()
	mock := tool.NewMockTool("search", "R")
	reg := tool.NewRegistry(mock)

	ag := adapter.NewMockAdapter("searcher", "v1",
		adapter.MockStep{Output: "s0", Tokens: 1, Done: false, ToolCall: "search", ToolArgs: map[string]interface{}{"q": "x"}},
		adapter.MockStep{Output: "s1", Tokens: 1, Done: true},
	)

	eng, err := daer.New(ag, daer.WithTools(reg))
	require.NoError(t, err)

	report, err := eng.Run(ctx, "exec-3", "search for x")
	require.NoError(t, err)
	require.Equal(t, daer.StatusSuccess, report.Status)
	require.Equal(t, 1, mock.Calls(), "tool invoked exactly once across the whole execution")

	// Re-running an already-completed execution_id is idempotent and
	// does not invoke the adapter or tool again.
	report2, err := eng.Resume(ctx, "exec-3")
	require.NoError(t, err)
	require.Equal(t, daer.StatusSuccess, report2.Status)
	require.Equal(t, 1, mock.Calls())
}

func TestEngine_HashMismatchDifferentPolicy(t *testing.T) {
	ctx := context.Background()
	ag := adapter.NewMockAdapter("echo", "v1", adapter.MockStep{Output: "s0", Tokens: 1, Done: false})

	log := newSharedLog(t)
	store := newSharedStore(t)

	eng, err := daer.New(ag,
		daer.WithPolicy(policy.Config{MaxTokens: 100}),
		daer.WithEventLog(log),
		daer.WithSnapshotStore(store),
	)
	require.NoError(t, err)

	_, err = eng.Run(ctx, "exec-5", "task")
	require.NoError(t, err)

	eng2, err := daer.New(ag,
		daer.WithPolicy(policy.Config{MaxTokens: 200}),
		daer.WithEventLog(log),
		daer.WithSnapshotStore(store),
	)
	require.NoError(t, err)

	_, err = eng2.Resume(ctx, "exec-5")
	require.ErrorIs(t, err, daer.ErrExecutionHashMismatch)
}

func TestEngine_MultiStepRunKeepsSequencesDense(t *testing.T) {
	ctx := context.Background()
	log := newSharedLog(t)
	store := newSharedStore(t)

	ag := adapter.NewMockAdapter("multi", "v1",
		adapter.MockStep{Output: "s0", Tokens: 5, Done: false},
		adapter.MockStep{Output: "s1", Tokens: 5, Done: true},
	)

	eng, err := daer.New(ag, daer.WithEventLog(log), daer.WithSnapshotStore(store))
	require.NoError(t, err)

	// Drives one uninterrupted two-step run and asserts that its event
	// sequences are dense (0..N with no gaps or repeats) — the property
	// crash recovery relies on. No crash is simulated here.
	report, err := eng.Run(ctx, "exec-6", "multi-step")
	require.NoError(t, err)
	require.Equal(t, daer.StatusSuccess, report.Status)
	require.Equal(t, 2, report.TotalSteps)

	events, err := log.Read(ctx, "exec-6", 0)
	require.NoError(t, err)
	for i, e := range events {
		require.Equal(t, uint64(i), e.Sequence)
	}
}

func newSharedLog(t *testing.T) *eventlog.MemLog {
	t.Helper()
	return eventlog.NewMemLog()
}

func newSharedStore(t *testing.T) *snapshot.MemStore {
	t.Helper()
	return snapshot.NewMemStore()
}
