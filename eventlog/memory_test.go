package eventlog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemLog_DenseSequences(t *testing.T) {
	ctx := context.Background()
	log := NewMemLog()

	for i := 0; i < 5; i++ {
		_, err := log.Append(ctx, Draft{ExecutionID: "e1", Type: EventStepStarted})
		require.NoError(t, err)
	}

	events, err := log.Read(ctx, "e1", 0)
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i, e := range events {
		require.Equal(t, uint64(i), e.Sequence)
	}
}

func TestMemLog_TerminalOnlyOnce(t *testing.T) {
	ctx := context.Background()
	log := NewMemLog()

	_, err := log.Append(ctx, Draft{ExecutionID: "e1", Type: EventExecutionDone})
	require.NoError(t, err)

	_, err = log.Append(ctx, Draft{ExecutionID: "e1", Type: EventStepStarted})
	require.ErrorIs(t, err, ErrTerminalAlreadyRecorded)
}

func TestMemLog_SequenceGapOnImport(t *testing.T) {
	ctx := context.Background()
	log := NewMemLog()

	_, err := log.Append(ctx, Draft{ExecutionID: "e1", Type: EventExecutionStarted}.WithSequence(0))
	require.NoError(t, err)

	_, err = log.Append(ctx, Draft{ExecutionID: "e1", Type: EventStepStarted}.WithSequence(5))
	require.ErrorIs(t, err, ErrSequenceGap)
}

func TestMemLog_ExistsToolSuccess(t *testing.T) {
	ctx := context.Background()
	log := NewMemLog()

	_, err := log.Append(ctx, Draft{
		ExecutionID: "e1",
		Type:        EventToolCallSuccess,
		Payload: map[string]interface{}{
			"arg_hash": "sha256:abc",
			"result":   "R",
		},
	})
	require.NoError(t, err)

	payload, found, err := log.ExistsToolSuccess(ctx, "e1", "sha256:abc")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "R", payload["result"])

	_, found, err = log.ExistsToolSuccess(ctx, "e1", "sha256:other")
	require.NoError(t, err)
	require.False(t, found)
}

func TestMemLog_IndependentExecutions(t *testing.T) {
	ctx := context.Background()
	log := NewMemLog()

	_, err := log.Append(ctx, Draft{ExecutionID: "e1", Type: EventExecutionStarted})
	require.NoError(t, err)
	_, err = log.Append(ctx, Draft{ExecutionID: "e2", Type: EventExecutionStarted})
	require.NoError(t, err)

	e1, err := log.Read(ctx, "e1", 0)
	require.NoError(t, err)
	require.Len(t, e1, 1)

	e2, err := log.Read(ctx, "e2", 0)
	require.NoError(t, err)
	require.Len(t, e2, 1)
}
