// Package natskv implements kv.Store on a NATS JetStream key/value bucket.
//
// JetStream KV has no ordered-set primitives, so this backend implements
// only kv.Store and the dead letter queue uses its lock-guarded index path.
// Per-key expiry is emulated: every value is wrapped in an envelope that
// carries its deadline, and expired entries read as absent. The bucket TTL
// bounds how long any entry physically survives.
package natskv

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/xraph/salvage/kv"
)

var _ kv.Store = (*Store)(nil)

type envelope struct {
	Value     []byte `json:"v"`
	ExpiresAt int64  `json:"exp,omitempty"`
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the Store.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is a JetStream key/value implementation of kv.Store.
type Store struct {
	bucket jetstream.KeyValue
	logger *slog.Logger
	now    func() time.Time
}

// New creates or updates the bucket and returns a Store on it. maxAge is
// the bucket-wide retention, normally the dead letter record TTL.
func New(ctx context.Context, js jetstream.JetStream, bucket string, maxAge time.Duration, opts ...Option) (*Store, error) {
	b, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "salvage dead letter queue",
		History:     1,
		TTL:         maxAge,
	})
	if err != nil {
		return nil, fmt.Errorf("salvage/natskv: bucket %s: %w", bucket, err)
	}
	return NewFromKeyValue(b, opts...), nil
}

// NewFromKeyValue wraps an existing bucket.
func NewFromKeyValue(b jetstream.KeyValue, opts ...Option) *Store {
	s := &Store{
		bucket: b,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ──────────────────────────────────────────────────
// Store
// ──────────────────────────────────────────────────

// Get returns the value stored at key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	env, _, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	return env.Value, nil
}

// Set stores value at key, replacing any previous value.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	data, err := s.wrap(value, ttl)
	if err != nil {
		return err
	}
	if _, err := s.bucket.Put(ctx, EncodeKey(key), data); err != nil {
		return fmt.Errorf("salvage/natskv: set %s: %w", key, err)
	}
	return nil
}

// SetNX stores value only if key is absent or expired. An expired entry
// is taken over with a revision-checked update so two contenders cannot
// both win.
func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	data, err := s.wrap(value, ttl)
	if err != nil {
		return false, err
	}
	k := EncodeKey(key)

	_, err = s.bucket.Create(ctx, k, data)
	if err == nil {
		return true, nil
	}
	if !isConflict(err) {
		return false, fmt.Errorf("salvage/natskv: setnx %s: %w", key, err)
	}

	entry, err := s.bucket.Get(ctx, k)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		// Deleted between Create and Get; let the caller retry.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("salvage/natskv: setnx %s: %w", key, err)
	}
	env, err := decode(entry.Value())
	if err != nil {
		return false, fmt.Errorf("salvage/natskv: setnx %s: %w", key, err)
	}
	if !s.expired(env) {
		return false, nil
	}

	if _, err := s.bucket.Update(ctx, k, data, entry.Revision()); err != nil {
		if isConflict(err) {
			return false, nil
		}
		return false, fmt.Errorf("salvage/natskv: setnx %s: %w", key, err)
	}
	return true, nil
}

// CompareAndDelete deletes key only if it holds value at the revision read.
func (s *Store) CompareAndDelete(ctx context.Context, key string, value []byte) (bool, error) {
	env, rev, err := s.load(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !bytes.Equal(env.Value, value) {
		return false, nil
	}
	if err := s.bucket.Delete(ctx, EncodeKey(key), jetstream.LastRevision(rev)); err != nil {
		if isConflict(err) {
			return false, nil
		}
		return false, fmt.Errorf("salvage/natskv: compare-and-delete %s: %w", key, err)
	}
	return true, nil
}

// Delete removes keys. Missing keys are ignored.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		err := s.bucket.Delete(ctx, EncodeKey(key))
		if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
			return fmt.Errorf("salvage/natskv: delete %s: %w", key, err)
		}
	}
	return nil
}

// Expire rewrites the deadline of key. A concurrent writer wins; its own
// write carries a fresh deadline.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	env, rev, err := s.load(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	data, err := s.wrap(env.Value, ttl)
	if err != nil {
		return err
	}
	if _, err := s.bucket.Update(ctx, EncodeKey(key), data, rev); err != nil {
		if isConflict(err) {
			s.logger.Debug("expire lost to concurrent write", slog.String("key", key))
			return nil
		}
		return fmt.Errorf("salvage/natskv: expire %s: %w", key, err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// load returns the live envelope at key and its revision.
func (s *Store) load(ctx context.Context, key string) (envelope, uint64, error) {
	entry, err := s.bucket.Get(ctx, EncodeKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return envelope{}, 0, kv.ErrNotFound
	}
	if err != nil {
		return envelope{}, 0, fmt.Errorf("salvage/natskv: get %s: %w", key, err)
	}
	env, err := decode(entry.Value())
	if err != nil {
		return envelope{}, 0, fmt.Errorf("salvage/natskv: get %s: %w", key, err)
	}
	if s.expired(env) {
		return envelope{}, 0, kv.ErrNotFound
	}
	return env, entry.Revision(), nil
}

func (s *Store) wrap(value []byte, ttl time.Duration) ([]byte, error) {
	env := envelope{Value: value}
	if ttl > 0 {
		env.ExpiresAt = s.now().Add(ttl).UnixNano()
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("salvage/natskv: encode: %w", err)
	}
	return data, nil
}

func (s *Store) expired(env envelope) bool {
	return env.ExpiresAt != 0 && s.now().UnixNano() >= env.ExpiresAt
}

func decode(data []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// isConflict reports a failed create or revision check.
func isConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "wrong last sequence") ||
		strings.Contains(msg, "10071") ||
		strings.Contains(msg, "key exists")
}

// EncodeKey maps a store key onto the JetStream key alphabet. ':' becomes
// the token separator '.', and any other character outside [-/_a-zA-Z0-9]
// is written as '=' followed by two hex digits per byte.
func EncodeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c == ':':
			b.WriteByte('.')
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '-', c == '_', c == '/':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "=%02x", c)
		}
	}
	return b.String()
}
