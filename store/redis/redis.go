// Package redis provides a Redis-backed implementation of the store.Store
// interface for sharing rate limit state across processes.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ryhazerus/krl/store"
)

// Compile-time interface checks.
var (
	_ store.Store        = (*RedisStore)(nil)
	_ store.BulkResetter = (*RedisStore)(nil)
)

// DefaultPrefix namespaces every key the store touches, keeping rate limit
// state apart from other tenants of the same Redis.
const DefaultPrefix = "krl:"

// Option configures a RedisStore.
type Option func(*RedisStore)

// WithPrefix overrides the key namespace prefix.
func WithPrefix(prefix string) Option {
	return func(r *RedisStore) {
		r.prefix = prefix
	}
}

// RedisStore is a Store backed by Redis. Counters are plain INCR keys,
// bucket state is a hash with fields "level" and "updated", and sliding
// series are sorted sets scored by observation time, kept under a "<key>:scores"
// companion key. TTLs ride on Redis key expiry.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a new Redis-backed store. The client may be a
// single-node client, a cluster client, or a failover client.
func NewRedisStore(client redis.UniversalClient, opts ...Option) *RedisStore {
	r := &RedisStore{
		client: client,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// incrementScript increments a counter, arming its TTL only when the key is
// created. INCR is atomic, so exactly one of any concurrent first writers
// observes count == 1 and sets the expiry.
//
// KEYS[1] = counter key
// ARGV[1] = window duration in milliseconds (for TTL)
var incrementScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 and tonumber(ARGV[1]) > 0 then
    redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// decrementScript decrements a counter without letting it drop below zero.
//
// KEYS[1] = counter key
var decrementScript = redis.NewScript(`
local value = tonumber(redis.call("GET", KEYS[1]) or "0")
if value > 0 then
    return redis.call("DECR", KEYS[1])
end
return 0
`)

// Get returns the bucket state stored at key. Absent keys, malformed
// fields, and backend read errors all report a missing record.
func (r *RedisStore) Get(ctx context.Context, key string) *store.BucketState {
	vals, err := r.client.HGetAll(ctx, r.key(key)).Result()
	if err != nil || len(vals) == 0 {
		return nil
	}
	level, err := strconv.ParseFloat(vals["level"], 64)
	if err != nil {
		return nil
	}
	updated, err := strconv.ParseInt(vals["updated"], 10, 64)
	if err != nil {
		return nil
	}
	return &store.BucketState{
		Level:   level,
		Updated: time.UnixMilli(updated),
	}
}

// Set stores bucket state for key with the given expiry.
func (r *RedisStore) Set(ctx context.Context, key string, state store.BucketState, ttl time.Duration) error {
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.key(key),
			"level", strconv.FormatFloat(state.Level, 'f', -1, 64),
			"updated", strconv.FormatInt(state.Updated.UnixMilli(), 10),
		)
		if ttl > 0 {
			pipe.PExpire(ctx, r.key(key), ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("krl/store/redis: set: %w", err)
	}
	return nil
}

// Increment records one observation for key.
func (r *RedisStore) Increment(ctx context.Context, key string, opt store.IncrementOptions) (int64, time.Time, error) {
	if opt.Sliding() {
		return r.incrementSeries(ctx, key, opt)
	}

	count, err := incrementScript.Run(ctx, r.client,
		[]string{r.key(key)}, opt.Window.Milliseconds(),
	).Int64()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("krl/store/redis: increment: %w", err)
	}
	return count, time.Time{}, nil
}

// incrementSeries records one observation in the key's sorted set. Members
// carry a random suffix so observations landing on the same millisecond
// stay distinct. The steps run in one pipeline but are not transactional:
// concurrent callers on the same key may interleave between them and skew
// the count by a small transient margin.
func (r *RedisStore) incrementSeries(ctx context.Context, key string, opt store.IncrementOptions) (int64, time.Time, error) {
	var (
		scores = r.scoresKey(key)
		nowMs  = opt.At.UnixMilli()
		cutoff = opt.At.Add(-opt.Window).UnixMilli()
		member = fmt.Sprintf("%d-%s", nowMs, uuid.NewString())

		card   *redis.IntCmd
		oldest *redis.ZSliceCmd
	)

	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, scores, "-inf", fmt.Sprintf("(%d", cutoff))
		pipe.ZAdd(ctx, scores, redis.Z{Score: float64(nowMs), Member: member})
		pipe.PExpire(ctx, scores, opt.Window)
		card = pipe.ZCard(ctx, scores)
		oldest = pipe.ZRangeWithScores(ctx, scores, 0, 0)
		return nil
	})
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("krl/store/redis: increment: %w", err)
	}

	first := opt.At
	if zs := oldest.Val(); len(zs) > 0 {
		first = time.UnixMilli(int64(zs[0].Score))
	}
	return card.Val(), first, nil
}

// Decrement undoes the most recent increment for key. Sliding series drop
// their newest observation; counters floor at zero.
func (r *RedisStore) Decrement(ctx context.Context, key string) error {
	n, err := r.client.Exists(ctx, r.scoresKey(key)).Result()
	if err != nil {
		return fmt.Errorf("krl/store/redis: decrement: %w", err)
	}
	if n > 0 {
		if err := r.client.ZRemRangeByRank(ctx, r.scoresKey(key), -1, -1).Err(); err != nil {
			return fmt.Errorf("krl/store/redis: decrement: %w", err)
		}
		return nil
	}
	if err := decrementScript.Run(ctx, r.client, []string{r.key(key)}).Err(); err != nil {
		return fmt.Errorf("krl/store/redis: decrement: %w", err)
	}
	return nil
}

// Reset removes all state for the given key.
func (r *RedisStore) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key), r.scoresKey(key)).Err(); err != nil {
		return fmt.Errorf("krl/store/redis: reset: %w", err)
	}
	return nil
}

// ResetAll deletes every key under the store's prefix. Keys outside the
// namespace are untouched.
func (r *RedisStore) ResetAll(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()

	keys := make([]string, 0, 100)
	flush := func() error {
		if len(keys) == 0 {
			return nil
		}
		if err := r.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("krl/store/redis: reset all: %w", err)
		}
		keys = keys[:0]
		return nil
	}

	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == cap(keys) {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("krl/store/redis: reset all: %w", err)
	}
	return flush()
}

// Close closes the underlying Redis client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) key(key string) string {
	return r.prefix + key
}

func (r *RedisStore) scoresKey(key string) string {
	return r.prefix + key + ":scores"
}
