package emit_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/dshills/daer/emit"
	"github.com/stretchr/testify/require"
)

func TestLogEmitter_TextModeIncludesCoreFields(t *testing.T) {
	var buf bytes.Buffer
	e := emit.NewLogEmitter(&buf, false)

	e.Emit(emit.Event{ExecutionID: "exec-1", Step: 2, Component: "policy", Msg: "policy_violation"})

	out := buf.String()
	require.Contains(t, out, "[policy_violation]")
	require.Contains(t, out, "execution_id=exec-1")
	require.Contains(t, out, "step=2")
	require.Contains(t, out, "component=policy")
}

func TestLogEmitter_JSONModeProducesOneValidObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	e := emit.NewLogEmitter(&buf, true)

	e.Emit(emit.Event{ExecutionID: "exec-1", Step: 0, Msg: "execution_started"})
	e.Emit(emit.Event{ExecutionID: "exec-1", Step: 1, Msg: "step_completed", Meta: map[string]interface{}{"token_delta": float64(3)}})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var second map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	require.Equal(t, "step_completed", second["msg"])
	require.Equal(t, float64(1), second["step"])
}

func TestLogEmitter_EmitBatchWritesEveryEventInOrder(t *testing.T) {
	var buf bytes.Buffer
	e := emit.NewLogEmitter(&buf, false)

	err := e.EmitBatch(nil, []emit.Event{
		{Msg: "first"},
		{Msg: "second"},
	})
	require.NoError(t, err)

	out := buf.String()
	require.True(t, strings.Index(out, "[first]") < strings.Index(out, "[second]"))
}

func TestLogEmitter_NilWriterDefaultsToStdoutWithoutPanicking(t *testing.T) {
	require.NotPanics(t, func() {
		emit.NewLogEmitter(nil, false)
	})
}

func TestNullEmitter_DiscardsEverythingWithoutError(t *testing.T) {
	n := emit.NewNullEmitter()
	n.Emit(emit.Event{Msg: "ignored"})
	require.NoError(t, n.EmitBatch(nil, []emit.Event{{Msg: "ignored"}}))
	require.NoError(t, n.Flush(nil))
}

func TestMultiEmitter_FansOutToEveryMember(t *testing.T) {
	var a, b bytes.Buffer
	m := emit.NewMultiEmitter(emit.NewLogEmitter(&a, false), emit.NewLogEmitter(&b, false))

	m.Emit(emit.Event{Msg: "fanned_out"})

	require.Contains(t, a.String(), "fanned_out")
	require.Contains(t, b.String(), "fanned_out")
}
