// Package kv defines the shared, TTL-capable key/value store the dead
// letter queue persists into.
//
// Every backend implements [Store]. Backends that can add and remove set
// members atomically also implement [IndexStore]; the dead letter queue
// uses those primitives when present and otherwise falls back to a
// lock-guarded read-modify-write of a list value.
//
// Backends: memory (tests and development), redis, and natskv
// (NATS JetStream key/value, which has no set primitives).
package kv

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get when the key is absent or expired.
	ErrNotFound = errors.New("kv: key not found")
)

// Store is the minimal backing store contract.
type Store interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value at key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX stores value at key only if key is absent, reporting whether
	// it was stored.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// CompareAndDelete deletes key only if it currently holds value,
	// reporting whether it was deleted.
	CompareAndDelete(ctx context.Context, key string, value []byte) (bool, error)

	// Delete removes keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// Expire resets the expiry of key. Missing keys are ignored.
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// IndexStore is implemented by backends with atomic ordered-set
// primitives. Members are ordered by insertion score, oldest first.
type IndexStore interface {
	Store

	// IndexAdd adds member with score if it is not already present,
	// reporting whether it was added. An existing member keeps its
	// original score.
	IndexAdd(ctx context.Context, key, member string, score float64) (bool, error)

	// IndexRemove removes members, returning how many were present.
	IndexRemove(ctx context.Context, key string, members ...string) (int64, error)

	// IndexMembers returns up to limit members, oldest first. A limit
	// of zero or less returns all members.
	IndexMembers(ctx context.Context, key string, limit int) ([]string, error)

	// IndexLen returns the number of members.
	IndexLen(ctx context.Context, key string) (int64, error)

	// IndexTrim atomically removes the oldest members until at most keep
	// remain, returning the removed members.
	IndexTrim(ctx context.Context, key string, keep int) ([]string, error)
}

// Plain hides optional capabilities of s, exposing only Store. It forces
// callers onto their fallback path even when the backend supports more.
func Plain(s Store) Store {
	return plain{s}
}

type plain struct{ Store }
