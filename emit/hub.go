package emit

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WireEvent is the external event bus wire shape: what a subscribed
// dashboard connection receives over the WebSocket, one JSON object
// per message. It is deliberately a plain projection — the out-of-scope
// HTTP façade owns everything about how connections are authenticated
// and routed; Hub only owns fan-out.
type WireEvent struct {
	EventID     string                 `json:"event_id"`
	ExecutionID string                 `json:"execution_id"`
	EventType   string                 `json:"event_type"`
	Sequence    uint64                 `json:"sequence"`
	StepNumber  *int                   `json:"step_number,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub broadcasts WireEvents to subscribed WebSocket connections. A
// connection subscribes to all events or to one execution_id by
// passing ?execution_id=... on Upgrade.
type Hub struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	conn        *websocket.Conn
	executionID string // empty means "all"
	send        chan WireEvent
}

// NewHub creates an empty broadcast hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// Upgrade promotes an HTTP connection to a WebSocket subscriber. The
// optional executionID filters delivery to events for that execution
// only; empty subscribes to everything.
func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request, executionID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	sub := &subscriber{conn: conn, executionID: executionID, send: make(chan WireEvent, 256)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	go h.writePump(sub)
	go h.readPump(sub)
	return nil
}

func (h *Hub) writePump(sub *subscriber) {
	defer func() {
		h.mu.Lock()
		delete(h.subs, sub)
		h.mu.Unlock()
		_ = sub.conn.Close()
	}()

	for ev := range sub.send {
		if err := sub.conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

// readPump discards inbound messages and unregisters the subscriber
// once a read fails (e.g. the client closed the connection). No read
// deadline is set.
func (h *Hub) readPump(sub *subscriber) {
	defer func() {
		h.mu.Lock()
		if _, ok := h.subs[sub]; ok {
			delete(h.subs, sub)
			close(sub.send)
		}
		h.mu.Unlock()
	}()
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// SubscriberCount reports how many connections are currently
// registered, mainly useful for tests synchronizing against Upgrade's
// asynchronous registration.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Broadcast delivers ev to every subscriber whose filter matches.
// Non-blocking: a subscriber whose send buffer is full misses this
// event (it stays subscribed) rather than stalling the broadcaster.
func (h *Hub) Broadcast(ev WireEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		if sub.executionID != "" && sub.executionID != ev.ExecutionID {
			continue
		}
		select {
		case sub.send <- ev:
		default:
		}
	}
}

// HubEmitter adapts a Hub into an Emitter so it can sit in a
// MultiEmitter chain alongside LogEmitter/OTelEmitter.
type HubEmitter struct {
	hub *Hub
}

// NewHubEmitter wraps hub as an Emitter.
func NewHubEmitter(hub *Hub) *HubEmitter { return &HubEmitter{hub: hub} }

func (h *HubEmitter) Emit(event Event) {
	raw, _ := json.Marshal(event.Meta)
	var data map[string]interface{}
	_ = json.Unmarshal(raw, &data)

	h.hub.Broadcast(WireEvent{
		EventID:     event.EventID,
		ExecutionID: event.ExecutionID,
		EventType:   event.Msg,
		Sequence:    event.Sequence,
		Timestamp:   time.Now().UTC(),
		Data:        data,
	})
}

func (h *HubEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, ev := range events {
		h.Emit(ev)
	}
	return nil
}

func (h *HubEmitter) Flush(context.Context) error { return nil }
