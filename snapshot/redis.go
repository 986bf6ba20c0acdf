package snapshot

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis-backed Store using the key layout named in the
// Runtime's external interface contract: oao:snapshot:{execution_id}.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore wraps an existing *redis.Client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func snapshotKey(executionID string) string { return "oao:snapshot:" + executionID }

// Put implements Store. Existence + hash comparison and the write happen
// inside a WATCH/MULTI transaction so concurrent idempotent re-submission
// can't race a legitimate hash-mismatch rejection.
func (r *RedisStore) Put(ctx context.Context, snap Snapshot) error {
	key := snapshotKey(snap.ExecutionID)

	txf := func(tx *redis.Tx) error {
		existingRaw, err := tx.Get(ctx, key).Result()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("snapshot: redis get: %w", err)
		}

		if err != redis.Nil {
			var existing Snapshot
			if err := json.Unmarshal([]byte(existingRaw), &existing); err != nil {
				return fmt.Errorf("snapshot: decode existing: %w", err)
			}
			if existing.ExecutionHash != snap.ExecutionHash {
				return ErrHashMismatch
			}
			return nil
		}

		body, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("snapshot: marshal: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, body, 0)
			return nil
		})
		return err
	}

	if err := r.rdb.Watch(ctx, txf, key); err != nil {
		if err == ErrHashMismatch {
			return ErrHashMismatch
		}
		return fmt.Errorf("snapshot: redis put: %w", err)
	}
	return nil
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, executionID string) (Snapshot, error) {
	raw, err := r.rdb.Get(ctx, snapshotKey(executionID)).Result()
	if err == redis.Nil {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: redis get: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: decode: %w", err)
	}
	return snap, nil
}
