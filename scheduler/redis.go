package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dshills/daer/emit"
	"github.com/redis/go-redis/v9"
)

// RedisQueue is a Redis-backed Queue, following the key layout named in
// the Runtime's persisted-state reference encoding:
//
//	oao:q:pending                list, member=job JSON
//	oao:q:inflight:{worker_id}    list, member=job JSON
//	oao:hb:{worker_id}            string, TTL'd liveness key
//
// Claim is a single atomic RPOPLPUSH so a job is never visible in
// neither list nor both at once, even if the worker dies the instant
// after the move completes.
type RedisQueue struct {
	rdb           *redis.Client
	workerTimeout time.Duration
	metrics       *emit.Metrics
}

// NewRedisQueue wraps an existing *redis.Client.
func NewRedisQueue(rdb *redis.Client, workerTimeout time.Duration) *RedisQueue {
	return &RedisQueue{rdb: rdb, workerTimeout: workerTimeout}
}

// SetMetrics attaches a Metrics collector so queue depth, in-flight
// count, and recovered-job retries are reported as they change.
func (r *RedisQueue) SetMetrics(m *emit.Metrics) { r.metrics = m }

// reportGauges refreshes the scheduler_queue_depth/scheduler_inflight
// gauges from current Redis list lengths. Best-effort: a failed LLen
// just skips that gauge update rather than failing the caller's op.
func (r *RedisQueue) reportGauges(ctx context.Context) {
	if r.metrics == nil {
		return
	}
	if depth, err := r.rdb.LLen(ctx, pendingKey).Result(); err == nil {
		r.metrics.SetSchedulerQueueDepth(int(depth))
	}
	workerIDs, err := r.knownWorkers(ctx)
	if err != nil {
		return
	}
	var inflightTotal int64
	for _, workerID := range workerIDs {
		if n, err := r.rdb.LLen(ctx, inflightKey(workerID)).Result(); err == nil {
			inflightTotal += n
		}
	}
	r.metrics.SetSchedulerInflight(int(inflightTotal))
}

const pendingKey = "oao:q:pending"

func inflightKey(workerID string) string { return "oao:q:inflight:" + workerID }
func heartbeatKey(workerID string) string { return "oao:hb:" + workerID }

// Enqueue implements Queue.
func (r *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("scheduler: marshal job: %w", err)
	}
	if err := r.rdb.LPush(ctx, pendingKey, string(b)).Err(); err != nil {
		return fmt.Errorf("scheduler: redis enqueue: %w", err)
	}
	r.reportGauges(ctx)
	return nil
}

// Claim implements Queue via a single atomic RPOPLPUSH — the Redis
// analogue of "pop pending, push worker-inflight" as one indivisible
// move.
func (r *RedisQueue) Claim(ctx context.Context, workerID string) (Job, error) {
	raw, err := r.rdb.RPopLPush(ctx, pendingKey, inflightKey(workerID)).Result()
	if err == redis.Nil {
		return Job{}, ErrNoWork
	}
	if err != nil {
		return Job{}, fmt.Errorf("scheduler: redis claim: %w", err)
	}

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return Job{}, fmt.Errorf("scheduler: decode job: %w", err)
	}

	if err := r.Heartbeat(ctx, workerID); err != nil {
		return Job{}, err
	}
	r.reportGauges(ctx)
	return job, nil
}

// ackScript removes the first list member matching ARGV[1] (the job's
// JSON encoding) from the worker's in-flight list — LREM rather than a
// positional pop, since another job may have been claimed by the same
// worker since.
var ackScript = redis.NewScript(`
return redis.call('LREM', KEYS[1], 1, ARGV[1])
`)

// Ack implements Queue. jobID alone can't address a Redis list member,
// so callers must supply the job whose encoding matches what Claim
// returned; AckJob below accepts the full Job for that reason, and Ack
// exists to satisfy the Queue interface by looking the job up from the
// in-flight list first.
func (r *RedisQueue) Ack(ctx context.Context, workerID, jobID string) error {
	jobs, err := r.rdb.LRange(ctx, inflightKey(workerID), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("scheduler: redis ack lookup: %w", err)
	}
	for _, raw := range jobs {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			continue
		}
		if job.ID == jobID {
			return r.AckJob(ctx, workerID, job)
		}
	}
	return nil
}

// AckJob removes job from workerID's in-flight list by its exact
// encoding, avoiding the lookup scan Ack needs when only a jobID is
// available.
func (r *RedisQueue) AckJob(ctx context.Context, workerID string, job Job) error {
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("scheduler: marshal job: %w", err)
	}
	if err := ackScript.Run(ctx, r.rdb, []string{inflightKey(workerID)}, string(b)).Err(); err != nil {
		return fmt.Errorf("scheduler: redis ack: %w", err)
	}
	r.reportGauges(ctx)
	return nil
}

// Heartbeat implements Queue.
func (r *RedisQueue) Heartbeat(ctx context.Context, workerID string) error {
	if err := r.rdb.Set(ctx, heartbeatKey(workerID), time.Now().UTC().Format(time.RFC3339Nano), r.workerTimeout).Err(); err != nil {
		return fmt.Errorf("scheduler: redis heartbeat: %w", err)
	}
	return nil
}

// Recover implements Queue by scanning known in-flight lists for
// workers whose heartbeat key has expired (or never existed) and moving
// every job in that worker's in-flight list back to pending,
// incrementing Attempt. Redis TTL eviction means an expired heartbeat
// key simply reads as absent — there's no separate "expired" state to
// detect beyond a missing key.
func (r *RedisQueue) Recover(ctx context.Context) ([]Job, error) {
	workerIDs, err := r.knownWorkers(ctx)
	if err != nil {
		return nil, err
	}

	var recovered []Job
	for _, workerID := range workerIDs {
		alive, err := r.rdb.Exists(ctx, heartbeatKey(workerID)).Result()
		if err != nil {
			return recovered, fmt.Errorf("scheduler: redis heartbeat check: %w", err)
		}
		if alive == 1 {
			continue
		}

		for {
			raw, err := r.rdb.RPop(ctx, inflightKey(workerID)).Result()
			if err == redis.Nil {
				break
			}
			if err != nil {
				return recovered, fmt.Errorf("scheduler: redis recover pop: %w", err)
			}
			var job Job
			if err := json.Unmarshal([]byte(raw), &job); err != nil {
				continue
			}
			job.Attempt++
			b, err := json.Marshal(job)
			if err != nil {
				return recovered, fmt.Errorf("scheduler: marshal recovered job: %w", err)
			}
			if err := r.rdb.LPush(ctx, pendingKey, string(b)).Err(); err != nil {
				return recovered, fmt.Errorf("scheduler: redis recover push: %w", err)
			}
			recovered = append(recovered, job)
			if r.metrics != nil {
				r.metrics.IncRetry("worker_timeout")
			}
		}
	}
	r.reportGauges(ctx)
	return recovered, nil
}

// knownWorkers enumerates worker IDs with a non-empty in-flight list,
// via the oao:q:inflight:* key pattern. SCAN rather than KEYS, so the
// sweep never blocks the server on a large keyspace.
func (r *RedisQueue) knownWorkers(ctx context.Context) ([]string, error) {
	var (
		workers []string
		cursor  uint64
	)
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, "oao:q:inflight:*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scheduler: redis scan: %w", err)
		}
		for _, k := range keys {
			workers = append(workers, k[len("oao:q:inflight:"):])
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return workers, nil
}
