package daer_test

import (
	"context"
	"testing"

	"github.com/dshills/daer"
	"github.com/dshills/daer/adapter"
	"github.com/dshills/daer/eventlog"
	"github.com/dshills/daer/snapshot"
	"github.com/dshills/daer/tool"
	"github.com/stretchr/testify/require"
)

func TestForceReplay_DeterministicRerunReportsNoDivergence(t *testing.T) {
	ctx := context.Background()
	mock := tool.NewMockTool("lookup", "R")
	mock.IdempotentFlag = true
	reg := tool.NewRegistry(mock)

	// A MockAdapter keeps advancing through its script across executions,
	// so the audit engine gets a fresh adapter with the same script and
	// shares the original run's event log and snapshot store.
	newAgent := func() daer.AgentAdapter {
		return adapter.NewMockAdapter("echo", "v1",
			adapter.MockStep{Output: "s0", Tokens: 3, Done: false, ToolCall: "lookup", ToolArgs: map[string]interface{}{"q": "x"}},
			adapter.MockStep{Output: "s1", Tokens: 3, Done: true},
		)
	}
	log := eventlog.NewMemLog()
	store := snapshot.NewMemStore()

	eng, err := daer.New(newAgent(), daer.WithTools(reg), daer.WithEventLog(log), daer.WithSnapshotStore(store))
	require.NoError(t, err)

	_, err = eng.Run(ctx, "exec-audit-1", "task")
	require.NoError(t, err)

	auditor, err := daer.New(newAgent(), daer.WithTools(reg), daer.WithEventLog(log), daer.WithSnapshotStore(store))
	require.NoError(t, err)

	report, divergences, err := auditor.ForceReplay(ctx, "exec-audit-1", daer.ForceReplayOptions{})
	require.NoError(t, err)
	require.Empty(t, divergences)
	require.Equal(t, daer.StatusSuccess, report.Status)
}

func TestForceReplay_RefusesNonIdempotentToolByDefault(t *testing.T) {
	ctx := context.Background()
	mock := tool.NewMockTool("charge_card", "R") // IdempotentFlag left false
	reg := tool.NewRegistry(mock)

	ag := adapter.NewMockAdapter("biller", "v1",
		adapter.MockStep{Output: "s0", Tokens: 1, Done: true, ToolCall: "charge_card", ToolArgs: map[string]interface{}{"amount": 5}},
	)

	eng, err := daer.New(ag, daer.WithTools(reg))
	require.NoError(t, err)

	_, err = eng.Run(ctx, "exec-audit-2", "task")
	require.NoError(t, err)

	_, _, err = eng.ForceReplay(ctx, "exec-audit-2", daer.ForceReplayOptions{})
	require.ErrorIs(t, err, daer.ErrNonIdempotentForcedReplay)
}

func TestForceReplay_AllowNonIdempotentOverridesRefusal(t *testing.T) {
	ctx := context.Background()
	mock := tool.NewMockTool("charge_card", "R")
	reg := tool.NewRegistry(mock)

	ag := adapter.NewMockAdapter("biller", "v1",
		adapter.MockStep{Output: "s0", Tokens: 1, Done: true, ToolCall: "charge_card", ToolArgs: map[string]interface{}{"amount": 5}},
	)

	eng, err := daer.New(ag, daer.WithTools(reg))
	require.NoError(t, err)

	_, err = eng.Run(ctx, "exec-audit-3", "task")
	require.NoError(t, err)

	_, _, err = eng.ForceReplay(ctx, "exec-audit-3", daer.ForceReplayOptions{AllowNonIdempotentTools: true})
	require.NoError(t, err)
	require.Equal(t, 2, mock.Calls(), "forced replay re-invokes the tool for real when overridden")
}

func TestForceReplay_FlagsDivergentTokenUsage(t *testing.T) {
	ctx := context.Background()

	tokens := 10
	ag := adapter.NewFuncAdapter("variable", "v1", func(_ context.Context, _ daer.StepContext, _ daer.ExecutionState) (daer.StepResult, error) {
		t := tokens
		tokens += 5 // each invocation reports a different token count
		return daer.StepResult{Output: "x", Tokens: t, Done: true}, nil
	})

	eng, err := daer.New(ag)
	require.NoError(t, err)

	_, err = eng.Run(ctx, "exec-audit-4", "task")
	require.NoError(t, err)

	_, divergences, err := eng.ForceReplay(ctx, "exec-audit-4", daer.ForceReplayOptions{})
	require.ErrorIs(t, err, daer.ErrDeterminismViolation)
	require.NotEmpty(t, divergences)
}
