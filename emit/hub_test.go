package emit_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dshills/daer/emit"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func newTestHubServer(t *testing.T, hub *emit.Hub) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, hub.Upgrade(w, r, r.URL.Query().Get("execution_id")))
	}))
	t.Cleanup(srv.Close)
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestHub_BroadcastDeliversToUnfilteredSubscriber(t *testing.T) {
	hub := emit.NewHub()
	_, wsURL := newTestHubServer(t, hub)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	waitForSubscriber(t, hub)
	emit.NewHubEmitter(hub).Emit(emit.Event{EventID: "ev-1", Sequence: 7, ExecutionID: "exec-1", Msg: "step_completed"})

	var wire emit.WireEvent
	require.NoError(t, conn.ReadJSON(&wire))
	require.Equal(t, "ev-1", wire.EventID)
	require.Equal(t, "exec-1", wire.ExecutionID)
	require.Equal(t, "step_completed", wire.EventType)
	require.Equal(t, uint64(7), wire.Sequence)
}

func TestHub_BroadcastFiltersByExecutionID(t *testing.T) {
	hub := emit.NewHub()
	_, wsURL := newTestHubServer(t, hub)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?execution_id=exec-only", nil)
	require.NoError(t, err)
	defer conn.Close()

	waitForSubscriber(t, hub)
	emitter := emit.NewHubEmitter(hub)
	emitter.Emit(emit.Event{ExecutionID: "exec-other", Msg: "should_not_arrive"})
	emitter.Emit(emit.Event{ExecutionID: "exec-only", Msg: "should_arrive"})

	var wire emit.WireEvent
	require.NoError(t, conn.ReadJSON(&wire))
	require.Equal(t, "should_arrive", wire.EventType)
}

// waitForSubscriber waits until the server side has registered the
// subscriber before the test broadcasts — the client's Dial returns as
// soon as the handshake response arrives, which Hub.Upgrade writes
// before it registers the subscriber.
func waitForSubscriber(t *testing.T, hub *emit.Hub) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if hub.SubscriberCount() > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for hub subscriber to register")
}
