package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisEntryTTL bounds orphaned entries when no safety TTL is configured
const DefaultRedisEntryTTL = 24 * time.Hour

// RedisBackend shares permission sets between hub instances.
//
// Keys:
//
//	<prefix>:gen:<user>                  generation counter, INCR on invalidation
//	<prefix>:perms:<user>:<tenant>:<gen> JSON array of permission keys
//
// Entries of older generations are never read again and expire on their TTL.
type RedisBackend struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisBackend creates a Redis backend. A zero ttl uses DefaultRedisEntryTTL.
func NewRedisBackend(client *redis.Client, prefix string, ttl time.Duration) *RedisBackend {
	if prefix == "" {
		prefix = "hub:rbac"
	}
	if ttl <= 0 {
		ttl = DefaultRedisEntryTTL
	}
	return &RedisBackend{client: client, prefix: prefix, ttl: ttl}
}

// Name implements CacheBackend
func (r *RedisBackend) Name() string { return "redis" }

func (r *RedisBackend) genKey(userID int64) string {
	return r.prefix + ":gen:" + strconv.FormatInt(userID, 10)
}

func (r *RedisBackend) entryKey(userID int64, tenantID *int64, gen uint64) string {
	return r.prefix + ":perms:" + strconv.FormatInt(userID, 10) + ":" + tenantSegment(tenantID) + ":" + strconv.FormatUint(gen, 10)
}

// Generation implements CacheBackend
func (r *RedisBackend) Generation(ctx context.Context, userID int64) (uint64, error) {
	gen, err := r.client.Get(ctx, r.genKey(userID)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read generation: %w", err)
	}
	return gen, nil
}

// Get implements CacheBackend
func (r *RedisBackend) Get(ctx context.Context, userID int64, tenantID *int64, gen uint64) ([]string, bool, error) {
	data, err := r.client.Get(ctx, r.entryKey(userID, tenantID, gen)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read permissions: %w", err)
	}

	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, false, fmt.Errorf("failed to decode permissions: %w", err)
	}
	return keys, true, nil
}

// Set implements CacheBackend. The write is skipped when the generation
// moved, either before the check or while the transaction was queued.
func (r *RedisBackend) Set(ctx context.Context, userID int64, tenantID *int64, gen uint64, keys []string) error {
	if keys == nil {
		keys = []string{}
	}
	payload, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("failed to encode permissions: %w", err)
	}

	genKey := r.genKey(userID)
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Uint64()
		if errors.Is(err, redis.Nil) {
			current = 0
		} else if err != nil {
			return err
		}
		if current != gen {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, r.entryKey(userID, tenantID, gen), payload, r.ttl)
			return nil
		})
		return err
	}, genKey)

	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to store permissions: %w", err)
	}
	return nil
}

// Bump implements CacheBackend
func (r *RedisBackend) Bump(ctx context.Context, userID int64) error {
	if err := r.client.Incr(ctx, r.genKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to bump generation: %w", err)
	}
	return nil
}
