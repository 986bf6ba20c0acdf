package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisLog is a Redis-backed Log implementation, following the wire layout
// named in the Runtime's external interface contract:
//
//	oao:events:{execution_id}           sorted set, member=event JSON, score=sequence
//	oao:events:{execution_id}:terminal   flag set once a terminal event lands
//	oao:events:{execution_id}:tool       hash: arg_hash -> TOOL_CALL_SUCCESS payload JSON
//
// Sequence assignment (and the duplicate/gap/terminal checks that guard it)
// runs inside a single Lua script so concurrent appenders for the same
// execution_id cannot race past each other between the "read current
// length" and "write next sequence" steps.
type RedisLog struct {
	rdb            *redis.Client
	defaultRetention time.Duration
}

// NewRedisLog wraps an existing *redis.Client. A non-zero defaultRetention
// is reapplied to the execution's keys after every Append, replacing any
// TTL an earlier explicit Retention call set; 0 disables this.
func NewRedisLog(rdb *redis.Client, defaultRetention time.Duration) *RedisLog {
	return &RedisLog{rdb: rdb, defaultRetention: defaultRetention}
}

func eventsKey(executionID string) string   { return "oao:events:" + executionID }
func terminalKey(executionID string) string { return "oao:events:" + executionID + ":terminal" }
func toolKey(executionID string) string     { return "oao:events:" + executionID + ":tool" }

// appendScript atomically validates and assigns the next sequence number.
//
// KEYS[1]=events zset, KEYS[2]=terminal flag, KEYS[3]=tool-success hash
// ARGV[1]=event json, ARGV[2]=explicit sequence or -1 for auto-assign,
// ARGV[3]="1" if this event is terminal, ARGV[4]=arg_hash or "" ,
// ARGV[5]=tool result json or ""
var appendScript = redis.NewScript(`
local terminal = redis.call('EXISTS', KEYS[2])
if terminal == 1 then
  return redis.error_reply('terminal_recorded')
end
local count = redis.call('ZCARD', KEYS[1])
local seq
local wanted = tonumber(ARGV[2])
if wanted == -1 then
  seq = count
else
  seq = wanted
  if seq ~= count then
    return redis.error_reply('sequence_gap')
  end
end
redis.call('ZADD', KEYS[1], seq, ARGV[1])
if ARGV[3] == '1' then
  redis.call('SET', KEYS[2], '1')
end
if ARGV[4] ~= '' then
  redis.call('HSET', KEYS[3], ARGV[4], ARGV[5])
end
return seq
`)

// Append implements Log.
func (r *RedisLog) Append(ctx context.Context, draft Draft) (Event, error) {
	ts := draft.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	ev := Event{
		EventID:      uuid.NewString(),
		ExecutionID:  draft.ExecutionID,
		StepNumber:   draft.StepNumber,
		Type:         draft.Type,
		Timestamp:    ts,
		Payload:      draft.Payload,
		TraceContext: draft.TraceContext,
	}

	wantedSeq := int64(-1)
	if draft.HasExplicitSequence() {
		wantedSeq = int64(draft.Sequence)
	}

	terminalFlag := "0"
	if draft.Type.IsTerminal() {
		terminalFlag = "1"
	}

	argHash, _ := draft.Payload["arg_hash"].(string)
	toolResultJSON := ""
	if draft.Type == EventToolCallSuccess && argHash != "" {
		b, err := json.Marshal(draft.Payload)
		if err != nil {
			return Event{}, fmt.Errorf("eventlog: marshal tool payload: %w", err)
		}
		toolResultJSON = string(b)
	}

	// Marshal the event body before we know its final sequence. The
	// stored member keeps that preliminary body; the zset score carries
	// the real sequence, which Read copies back into each Event.
	prelim, err := json.Marshal(ev)
	if err != nil {
		return Event{}, fmt.Errorf("eventlog: marshal event: %w", err)
	}

	res, err := appendScript.Run(ctx, r.rdb, []string{
		eventsKey(draft.ExecutionID),
		terminalKey(draft.ExecutionID),
		toolKey(draft.ExecutionID),
	}, string(prelim), wantedSeq, terminalFlag, argHash, toolResultJSON).Result()
	if err != nil {
		switch err.Error() {
		case "terminal_recorded":
			return Event{}, ErrTerminalAlreadyRecorded
		case "sequence_gap":
			return Event{}, ErrSequenceGap
		default:
			return Event{}, fmt.Errorf("eventlog: redis append: %w", err)
		}
	}

	seq, ok := res.(int64)
	if !ok {
		return Event{}, fmt.Errorf("eventlog: unexpected script reply %T", res)
	}
	ev.Sequence = uint64(seq)

	if r.defaultRetention > 0 {
		if err := r.Retention(ctx, draft.ExecutionID, r.defaultRetention); err != nil {
			return Event{}, err
		}
	}

	return ev, nil
}

// Read implements Log.
func (r *RedisLog) Read(ctx context.Context, executionID string, fromSequence uint64) ([]Event, error) {
	members, err := r.rdb.ZRangeByScoreWithScores(ctx, eventsKey(executionID), &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", fromSequence),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("eventlog: redis read: %w", err)
	}

	out := make([]Event, 0, len(members))
	for _, z := range members {
		m, _ := z.Member.(string)
		var ev Event
		if err := json.Unmarshal([]byte(m), &ev); err != nil {
			return nil, fmt.Errorf("eventlog: decode event: %w", err)
		}
		ev.Sequence = uint64(z.Score)
		out = append(out, ev)
	}
	return out, nil
}

// ExistsToolSuccess implements Log, backed by the per-execution tool hash
// so lookup is O(1) rather than scanning the whole event stream.
func (r *RedisLog) ExistsToolSuccess(ctx context.Context, executionID, argHash string) (map[string]interface{}, bool, error) {
	raw, err := r.rdb.HGet(ctx, toolKey(executionID), argHash).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("eventlog: redis tool lookup: %w", err)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, false, fmt.Errorf("eventlog: decode tool payload: %w", err)
	}
	return payload, true, nil
}

// Retention implements Log, refreshing the TTL on every call so a live
// execution's keys never expire mid-flight (resolving Open Question (c)).
func (r *RedisLog) Retention(ctx context.Context, executionID string, ttl time.Duration) error {
	pipe := r.rdb.Pipeline()
	pipe.Expire(ctx, eventsKey(executionID), ttl)
	pipe.Expire(ctx, terminalKey(executionID), ttl)
	pipe.Expire(ctx, toolKey(executionID), ttl)
	_, err := pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		return fmt.Errorf("eventlog: redis retention: %w", err)
	}
	return nil
}
