package dlq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/salvage"
	"github.com/xraph/salvage/backoff"
	"github.com/xraph/salvage/kv"
)

// locker is a bounded-attempt distributed mutex on a single key. The
// lock value is a random owner token so only the holder can release it.
type locker struct {
	store    kv.Store
	key      string
	ttl      time.Duration
	attempts int
	backoff  backoff.Strategy
	logger   *slog.Logger
}

// withLock runs fn while holding the lock. It returns
// salvage.ErrLockNotAcquired when every attempt finds the lock held. The
// lock is released on every exit path, including a panic in fn.
func (l *locker) withLock(ctx context.Context, fn func() error) error {
	token := []byte(uuid.NewString())

	acquired := false
	for attempt := 1; attempt <= l.attempts; attempt++ {
		ok, err := l.store.SetNX(ctx, l.key, token, l.ttl)
		if err != nil {
			return fmt.Errorf("acquire %s: %w", l.key, err)
		}
		if ok {
			acquired = true
			break
		}
		if attempt == l.attempts {
			break
		}
		if err := sleep(ctx, l.backoff.Delay(attempt)); err != nil {
			return err
		}
	}
	if !acquired {
		return fmt.Errorf("%w: %s after %d attempts", salvage.ErrLockNotAcquired, l.key, l.attempts)
	}

	defer func() {
		// Release even if ctx was cancelled inside fn.
		rctx := context.WithoutCancel(ctx)
		if _, err := l.store.CompareAndDelete(rctx, l.key, token); err != nil {
			l.logger.Warn("failed to release lock",
				slog.String("key", l.key),
				slog.String("error", err.Error()),
			)
		}
	}()
	return fn()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
