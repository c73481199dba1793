// Package redis implements kv.IndexStore on Redis. Records are plain
// string keys with TTLs, indexes are Sorted Sets scored by insertion time,
// and compare-and-delete and trimming run as Lua scripts so each is a
// single atomic step on the server.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/salvage/kv"
)

// Compile-time interface check.
var _ kv.IndexStore = (*Store)(nil)

var compareAndDelete = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var trimOldest = goredis.NewScript(`
local excess = redis.call("ZCARD", KEYS[1]) - tonumber(ARGV[1])
if excess <= 0 then
	return {}
end
local removed = redis.call("ZRANGE", KEYS[1], 0, excess - 1)
redis.call("ZREMRANGEBYRANK", KEYS[1], 0, excess - 1)
return removed
`)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements kv.IndexStore backed by Redis.
type Store struct {
	client goredis.Cmdable
	logger *slog.Logger
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.Cmdable { return s.client }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// ── Store ──

// Get returns the value stored at key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("salvage/redis: get: %w", err)
	}
	return b, nil
}

// Set stores value at key.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("salvage/redis: set: %w", err)
	}
	return nil
}

// SetNX stores value only if key is absent.
func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("salvage/redis: setnx: %w", err)
	}
	return ok, nil
}

// CompareAndDelete deletes key only if it holds value.
func (s *Store) CompareAndDelete(ctx context.Context, key string, value []byte) (bool, error) {
	n, err := compareAndDelete.Run(ctx, s.client, []string{key}, value).Int64()
	if err != nil {
		return false, fmt.Errorf("salvage/redis: compare and delete: %w", err)
	}
	return n == 1, nil
}

// Delete removes keys.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("salvage/redis: del: %w", err)
	}
	return nil
}

// Expire resets the expiry of key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("salvage/redis: expire: %w", err)
	}
	return nil
}

// ── IndexStore ──

// IndexAdd adds member with ZADD NX, keeping an existing member's score.
func (s *Store) IndexAdd(ctx context.Context, key, member string, score float64) (bool, error) {
	n, err := s.client.ZAddNX(ctx, key, goredis.Z{Score: score, Member: member}).Result()
	if err != nil {
		return false, fmt.Errorf("salvage/redis: zadd: %w", err)
	}
	return n == 1, nil
}

// IndexRemove removes members.
func (s *Store) IndexRemove(ctx context.Context, key string, members ...string) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	n, err := s.client.ZRem(ctx, key, args...).Result()
	if err != nil {
		return 0, fmt.Errorf("salvage/redis: zrem: %w", err)
	}
	return n, nil
}

// IndexMembers returns members oldest first.
func (s *Store) IndexMembers(ctx context.Context, key string, limit int) ([]string, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	members, err := s.client.ZRange(ctx, key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("salvage/redis: zrange: %w", err)
	}
	return members, nil
}

// IndexLen returns the number of members.
func (s *Store) IndexLen(ctx context.Context, key string) (int64, error) {
	n, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("salvage/redis: zcard: %w", err)
	}
	return n, nil
}

// IndexTrim removes the oldest members beyond keep in one script call.
func (s *Store) IndexTrim(ctx context.Context, key string, keep int) ([]string, error) {
	removed, err := trimOldest.Run(ctx, s.client, []string{key}, keep).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("salvage/redis: trim: %w", err)
	}
	return removed, nil
}
