// Package memory is an in-process implementation of kv.IndexStore.
// Safe for concurrent access. Intended for unit testing and development;
// it is shared only between goroutines of one process.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/salvage/kv"
)

var _ kv.IndexStore = (*Store)(nil)

type item struct {
	value     []byte
	expiresAt time.Time
}

type member struct {
	name  string
	score float64
	seq   uint64
}

// Option configures the Store.
type Option func(*Store)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is a fully in-memory key/value store with TTLs and ordered sets.
type Store struct {
	mu      sync.Mutex
	items   map[string]item
	indexes map[string]map[string]member
	seq     uint64
	now     func() time.Time
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		items:   make(map[string]item),
		indexes: make(map[string]map[string]member),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ──────────────────────────────────────────────────
// Store
// ──────────────────────────────────────────────────

// live returns the item at key, dropping it if expired. Caller holds mu.
func (s *Store) live(key string) (item, bool) {
	it, ok := s.items[key]
	if !ok {
		return item{}, false
	}
	if !it.expiresAt.IsZero() && !s.now().Before(it.expiresAt) {
		delete(s.items, key)
		return item{}, false
	}
	return it, true
}

func (s *Store) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

// Get returns the value stored at key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.live(key)
	if !ok {
		return nil, kv.ErrNotFound
	}
	return bytes.Clone(it.value), nil
}

// Set stores value at key.
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = item{value: bytes.Clone(value), expiresAt: s.expiry(ttl)}
	return nil
}

// SetNX stores value only if key is absent.
func (s *Store) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(key); ok {
		return false, nil
	}
	s.items[key] = item{value: bytes.Clone(value), expiresAt: s.expiry(ttl)}
	return true, nil
}

// CompareAndDelete deletes key only if it holds value.
func (s *Store) CompareAndDelete(_ context.Context, key string, value []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.live(key)
	if !ok || !bytes.Equal(it.value, value) {
		return false, nil
	}
	delete(s.items, key)
	return true, nil
}

// Delete removes keys, including ordered sets.
func (s *Store) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.items, k)
		delete(s.indexes, k)
	}
	return nil
}

// Expire resets the expiry of a plain key. Ordered sets do not expire in
// the memory store.
func (s *Store) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it, ok := s.live(key); ok {
		it.expiresAt = s.expiry(ttl)
		s.items[key] = it
	}
	return nil
}

// ──────────────────────────────────────────────────
// IndexStore
// ──────────────────────────────────────────────────

// IndexAdd adds member if absent.
func (s *Store) IndexAdd(_ context.Context, key, name string, score float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.indexes[key]
	if !ok {
		set = make(map[string]member)
		s.indexes[key] = set
	}
	if _, exists := set[name]; exists {
		return false, nil
	}
	s.seq++
	set[name] = member{name: name, score: score, seq: s.seq}
	return true, nil
}

// IndexRemove removes members.
func (s *Store) IndexRemove(_ context.Context, key string, names ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.indexes[key]
	var removed int64
	for _, n := range names {
		if _, ok := set[n]; ok {
			delete(set, n)
			removed++
		}
	}
	return removed, nil
}

// IndexMembers returns members oldest first.
func (s *Store) IndexMembers(_ context.Context, key string, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ordered := s.ordered(key)
	if limit > 0 && limit < len(ordered) {
		ordered = ordered[:limit]
	}
	names := make([]string, len(ordered))
	for i, m := range ordered {
		names[i] = m.name
	}
	return names, nil
}

// IndexLen returns the number of members.
func (s *Store) IndexLen(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.indexes[key])), nil
}

// IndexTrim removes the oldest members beyond keep.
func (s *Store) IndexTrim(_ context.Context, key string, keep int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ordered := s.ordered(key)
	if len(ordered) <= keep {
		return nil, nil
	}
	excess := ordered[:len(ordered)-keep]
	removed := make([]string, len(excess))
	for i, m := range excess {
		delete(s.indexes[key], m.name)
		removed[i] = m.name
	}
	return removed, nil
}

// ordered returns members sorted by score then insertion. Caller holds mu.
func (s *Store) ordered(key string) []member {
	set := s.indexes[key]
	out := make([]member, 0, len(set))
	for _, m := range set {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score < out[j].score
		}
		return out[i].seq < out[j].seq
	})
	return out
}
