package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/xraph/salvage/kv"
)

// index is the bounded, insertion-ordered set of dead-lettered job ids.
type index interface {
	// add inserts jobID if absent and trims the oldest members beyond the
	// bound, returning the evicted ids.
	add(ctx context.Context, jobID string, at time.Time) ([]string, error)

	// remove drops jobIDs. Absent ids are ignored.
	remove(ctx context.Context, jobIDs ...string) error

	// members returns up to limit ids oldest first; limit <= 0 means all.
	members(ctx context.Context, limit int) ([]string, error)

	// size returns the number of ids.
	size(ctx context.Context) (int64, error)
}

// ──────────────────────────────────────────────────
// Atomic ordered set
// ──────────────────────────────────────────────────

type atomicIndex struct {
	store kv.IndexStore
	key   string
	bound int
	ttl   time.Duration
}

func (i *atomicIndex) add(ctx context.Context, jobID string, at time.Time) ([]string, error) {
	// Microseconds keep the score exact in a float64.
	if _, err := i.store.IndexAdd(ctx, i.key, jobID, float64(at.UnixMicro())); err != nil {
		return nil, fmt.Errorf("index add: %w", err)
	}
	if err := i.store.Expire(ctx, i.key, i.ttl); err != nil {
		return nil, fmt.Errorf("index expire: %w", err)
	}
	evicted, err := i.store.IndexTrim(ctx, i.key, i.bound)
	if err != nil {
		return nil, fmt.Errorf("index trim: %w", err)
	}
	return evicted, nil
}

func (i *atomicIndex) remove(ctx context.Context, jobIDs ...string) error {
	if len(jobIDs) == 0 {
		return nil
	}
	if _, err := i.store.IndexRemove(ctx, i.key, jobIDs...); err != nil {
		return fmt.Errorf("index remove: %w", err)
	}
	return nil
}

func (i *atomicIndex) members(ctx context.Context, limit int) ([]string, error) {
	ids, err := i.store.IndexMembers(ctx, i.key, limit)
	if err != nil {
		return nil, fmt.Errorf("index members: %w", err)
	}
	return ids, nil
}

func (i *atomicIndex) size(ctx context.Context) (int64, error) {
	n, err := i.store.IndexLen(ctx, i.key)
	if err != nil {
		return 0, fmt.Errorf("index len: %w", err)
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Lock-guarded list
// ──────────────────────────────────────────────────

type lockedIndex struct {
	store kv.Store
	key   string
	bound int
	ttl   time.Duration
	lock  *locker
}

func (i *lockedIndex) add(ctx context.Context, jobID string, _ time.Time) ([]string, error) {
	var evicted []string
	err := i.lock.withLock(ctx, func() error {
		ids, err := i.load(ctx)
		if err != nil {
			return err
		}
		if slices.Contains(ids, jobID) {
			return nil
		}
		ids = append(ids, jobID)
		if excess := len(ids) - i.bound; excess > 0 {
			evicted = slices.Clone(ids[:excess])
			ids = ids[excess:]
		}
		return i.save(ctx, ids)
	})
	if err != nil {
		return nil, err
	}
	return evicted, nil
}

func (i *lockedIndex) remove(ctx context.Context, jobIDs ...string) error {
	if len(jobIDs) == 0 {
		return nil
	}
	return i.lock.withLock(ctx, func() error {
		ids, err := i.load(ctx)
		if err != nil {
			return err
		}
		kept := slices.DeleteFunc(ids, func(id string) bool {
			return slices.Contains(jobIDs, id)
		})
		return i.save(ctx, kept)
	})
}

func (i *lockedIndex) members(ctx context.Context, limit int) ([]string, error) {
	ids, err := i.load(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}
	return ids, nil
}

func (i *lockedIndex) size(ctx context.Context) (int64, error) {
	ids, err := i.load(ctx)
	if err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

func (i *lockedIndex) load(ctx context.Context) ([]string, error) {
	data, err := i.store.Get(ctx, i.key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("index load: %w", err)
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("index decode: %w", err)
	}
	return ids, nil
}

// save rewrites the list, refreshing its expiry to the record TTL so the
// index outlives its newest member.
func (i *lockedIndex) save(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		if err := i.store.Delete(ctx, i.key); err != nil {
			return fmt.Errorf("index save: %w", err)
		}
		return nil
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("index encode: %w", err)
	}
	if err := i.store.Set(ctx, i.key, data, i.ttl); err != nil {
		return fmt.Errorf("index save: %w", err)
	}
	return nil
}
