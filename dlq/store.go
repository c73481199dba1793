package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/salvage"
	"github.com/xraph/salvage/backoff"
	"github.com/xraph/salvage/ext"
	"github.com/xraph/salvage/job"
	"github.com/xraph/salvage/kv"
	"github.com/xraph/salvage/retry"
)

// DefaultListLimit applies when ListOpts.Limit is zero or negative.
const DefaultListLimit = 100

// Alerter raises high-severity alerts for critical job failures.
type Alerter interface {
	IsCritical(jobName string) bool
	Notify(ctx context.Context, r *Record)
}

// Dispatcher is the work-queue runtime capability used by Retry: a
// job_name → handler lookup and a fresh submission.
type Dispatcher interface {
	// Lookup reports whether a handler is registered for jobName.
	Lookup(jobName string) bool

	// Dispatch submits a new job and returns its id.
	Dispatch(ctx context.Context, jobName string, args []any, kwargs map[string]any) (string, error)
}

// ListOpts controls List.
type ListOpts struct {
	// Limit is the maximum number of records returned. Zero or less means
	// DefaultListLimit.
	Limit int

	// JobName keeps only records with this job name. Empty means all.
	JobName string
}

// PurgeOpts controls Purge.
type PurgeOpts struct {
	// OlderThan removes only records that failed more than this long ago.
	// Zero removes every record.
	OlderThan time.Duration
}

// Store is the dead letter queue. It is the only writer of records and
// of the queue index. Safe for concurrent use, including across
// processes sharing the same kv backend.
type Store struct {
	kv      kv.Store
	keys    keys
	idx     index
	ttl     time.Duration
	claim   time.Duration
	alerter Alerter
	exts    *ext.Registry
	logger  *slog.Logger
	now     func() time.Time

	fetchConcurrency int
}

// New creates a Store over backend. The atomic index is used when backend
// implements kv.IndexStore, the lock-guarded list otherwise. cfg must
// already be validated.
func New(backend kv.Store, cfg salvage.Config, opts ...Option) *Store {
	s := &Store{
		kv:               backend,
		keys:             keys{ns: cfg.Namespace},
		ttl:              cfg.RecordTTL,
		claim:            cfg.ClaimTTL,
		logger:           slog.Default(),
		now:              time.Now,
		fetchConcurrency: 16,
	}
	for _, o := range opts {
		o(s)
	}

	if is, ok := backend.(kv.IndexStore); ok {
		s.idx = &atomicIndex{
			store: is,
			key:   s.keys.index(),
			bound: cfg.MaxQueueSize,
			ttl:   cfg.RecordTTL,
		}
	} else {
		s.idx = &lockedIndex{
			store: backend,
			key:   s.keys.index(),
			bound: cfg.MaxQueueSize,
			ttl:   cfg.RecordTTL,
			lock: &locker{
				store:    backend,
				key:      s.keys.indexLock(),
				ttl:      cfg.LockTTL,
				attempts: cfg.LockAttempts,
				backoff:  backoff.NewLinear(cfg.LockBackoff, 0),
				logger:   s.logger,
			},
		}
	}
	return s
}

// Atomic reports whether the index uses atomic set primitives.
func (s *Store) Atomic() bool {
	_, ok := s.idx.(*atomicIndex)
	return ok
}

// ──────────────────────────────────────────────────
// Record
// ──────────────────────────────────────────────────

// Record stores a failure and indexes it, evicting the oldest entries if
// the queue is over its bound, then alerts if the job is critical. It
// never fails: storage errors are logged. A record already stored under
// the same job id is kept unchanged.
func (s *Store) Record(ctx context.Context, f Failure) {
	rec := s.build(f)
	log := s.logger.With(
		slog.String("job_id", rec.JobID),
		slog.String("job_name", rec.JobName),
	)

	created, err := s.write(ctx, rec)
	if err != nil {
		log.Error("failed to store DLQ record", slog.String("error", err.Error()))
	} else {
		evicted, err := s.idx.add(ctx, rec.JobID, rec.FailedAt)
		switch {
		case errors.Is(err, salvage.ErrLockNotAcquired):
			log.Warn("index lock not acquired; record stored without index entry")
		case err != nil:
			log.Error("failed to index DLQ record", slog.String("error", err.Error()))
		}
		s.evict(ctx, evicted)

		if !created {
			log.Info("job already dead-lettered; keeping first record",
				slog.String("exception_type", rec.ExceptionType),
				slog.Int("retry_count", rec.RetryCount),
			)
			return
		}
		log.Warn("job moved to DLQ",
			slog.String("exception_type", rec.ExceptionType),
			slog.String("exception_message", rec.ExceptionMessage),
			slog.Int("retry_count", rec.RetryCount),
			slog.String("correlation_id", rec.CorrelationID),
		)
	}

	critical := s.alerter != nil && s.alerter.IsCritical(rec.JobName)
	if created {
		s.exts.EmitDeadLettered(ctx, rec.JobID, rec.JobName, rec.ExceptionType, critical)
	}
	// Alert even if the write failed; the alert may be the only trace.
	if critical {
		s.alerter.Notify(ctx, rec)
	}
}

func (s *Store) build(f Failure) *Record {
	rec := &Record{
		JobID:               f.JobID,
		JobName:             f.JobName,
		Args:                f.Args,
		Kwargs:              Sanitize(f.Kwargs),
		ExceptionType:       f.ExceptionType,
		StackTrace:          f.StackTrace,
		RetryCount:          f.RetryCount,
		FailedAt:            s.now().UTC(),
		CorrelationID:       f.CorrelationID,
		SessionID:           job.SessionIDOf(f.Kwargs),
		OriginalScheduledAt: f.ScheduledAt,
	}
	if rec.Args == nil {
		rec.Args = []any{}
	}
	if rec.Kwargs == nil {
		rec.Kwargs = map[string]any{}
	}
	if f.Err != nil {
		rec.ExceptionMessage = f.Err.Error()
		if rec.ExceptionType == "" {
			rec.ExceptionType = retry.TypeName(f.Err)
		}
	}
	return rec
}

// write stores rec unless a record for its job id exists, reporting
// whether it was created.
func (s *Store) write(ctx context.Context, rec *Record) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encode record: %w", err)
	}
	return s.kv.SetNX(ctx, s.keys.record(rec.JobID), data, s.ttl)
}

// evict deletes the records of ids already trimmed from the index.
func (s *Store) evict(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	if err := s.kv.Delete(ctx, s.recordKeys(ids)...); err != nil {
		s.logger.Error("failed to delete evicted DLQ records",
			slog.Int("count", len(ids)),
			slog.String("error", err.Error()),
		)
	}
	s.logger.Warn("DLQ over capacity; evicted oldest entries",
		slog.Int("count", len(ids)),
		slog.Any("job_ids", ids),
	)
	s.exts.EmitEvicted(ctx, ids)
}

// ──────────────────────────────────────────────────
// Read
// ──────────────────────────────────────────────────

// Get returns the record for jobID, or salvage.ErrRecordNotFound.
func (s *Store) Get(ctx context.Context, jobID string) (*Record, error) {
	data, err := s.kv.Get(ctx, s.keys.record(jobID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", salvage.ErrRecordNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("dlq: get %s: %w", jobID, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("dlq: decode %s: %w", jobID, err)
	}
	return &rec, nil
}

// List returns dead-lettered records in insertion order, oldest first,
// optionally filtered by job name. Index entries whose record has expired
// are dropped from the index. Storage errors are logged and yield nil.
func (s *Store) List(ctx context.Context, opts ListOpts) []*Record {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	// Filtering is client-side, so a filtered list scans the whole index.
	scan := limit
	if opts.JobName != "" {
		scan = 0
	}
	ids, err := s.idx.members(ctx, scan)
	if err != nil {
		s.logger.Error("failed to list DLQ index", slog.String("error", err.Error()))
		return nil
	}

	recs, err := s.fetch(ctx, ids)
	if err != nil {
		s.logger.Error("failed to list DLQ records", slog.String("error", err.Error()))
		return nil
	}

	out := make([]*Record, 0, min(limit, len(recs)))
	for _, rec := range recs {
		if opts.JobName != "" && rec.JobName != opts.JobName {
			continue
		}
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	return out
}

// Count returns the number of indexed records. Storage errors are logged
// and yield zero.
func (s *Store) Count(ctx context.Context) int64 {
	n, err := s.idx.size(ctx)
	if err != nil {
		s.logger.Error("failed to count DLQ index", slog.String("error", err.Error()))
		return 0
	}
	return n
}

// fetch loads the records for ids concurrently, preserving order. Ids
// with no record are removed from the index and skipped.
func (s *Store) fetch(ctx context.Context, ids []string) ([]*Record, error) {
	recs := make([]*Record, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fetchConcurrency)
	for i, jobID := range ids {
		g.Go(func() error {
			rec, err := s.Get(gctx, jobID)
			if errors.Is(err, salvage.ErrRecordNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			recs[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var dangling []string
	out := recs[:0]
	for i, rec := range recs {
		if rec == nil {
			dangling = append(dangling, ids[i])
			continue
		}
		out = append(out, rec)
	}
	if len(dangling) > 0 {
		if err := s.idx.remove(ctx, dangling...); err != nil {
			s.logger.Warn("failed to drop expired DLQ index entries",
				slog.Int("count", len(dangling)),
				slog.String("error", err.Error()),
			)
		} else {
			s.logger.Debug("dropped expired DLQ index entries", slog.Int("count", len(dangling)))
		}
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Recovery
// ──────────────────────────────────────────────────

// Retry re-dispatches a dead-lettered job as a new submission through d
// and deletes its record. It returns false, leaving the store unchanged,
// when the record does not exist, no handler is registered for its job
// name, another Retry holds the record's claim, or dispatch fails.
func (s *Store) Retry(ctx context.Context, jobID string, d Dispatcher) bool {
	log := s.logger.With(slog.String("job_id", jobID))

	rec, err := s.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, salvage.ErrRecordNotFound) {
			log.Warn("DLQ retry: record not found")
		} else {
			log.Error("DLQ retry: failed to load record", slog.String("error", err.Error()))
		}
		return false
	}
	log = log.With(slog.String("job_name", rec.JobName))

	if d == nil || !d.Lookup(rec.JobName) {
		log.Warn("DLQ retry: no handler registered for job name")
		return false
	}

	claimKey := s.keys.claim(jobID)
	token := []byte(uuid.NewString())
	ok, err := s.kv.SetNX(ctx, claimKey, token, s.claim)
	if err != nil {
		log.Error("DLQ retry: failed to claim record", slog.String("error", err.Error()))
		return false
	}
	if !ok {
		log.Info("DLQ retry: already in progress")
		return false
	}
	defer func() {
		if _, err := s.kv.CompareAndDelete(context.WithoutCancel(ctx), claimKey, token); err != nil {
			log.Warn("DLQ retry: failed to release claim", slog.String("error", err.Error()))
		}
	}()

	// A concurrent Retry may have finished between Get and the claim.
	if _, err := s.Get(ctx, jobID); err != nil {
		log.Info("DLQ retry: record already recovered")
		return false
	}

	newID, err := d.Dispatch(ctx, rec.JobName, rec.Args, rec.Kwargs)
	if err != nil {
		log.Error("DLQ retry: dispatch failed", slog.String("error", err.Error()))
		return false
	}

	if err := s.kv.Delete(ctx, s.keys.record(jobID)); err != nil {
		log.Error("DLQ retry: failed to delete record after dispatch", slog.String("error", err.Error()))
	}
	if err := s.idx.remove(ctx, jobID); err != nil {
		// The next List drops the entry once it sees the record is gone.
		log.Warn("DLQ retry: failed to drop index entry", slog.String("error", err.Error()))
	}

	log.Info("DLQ job re-dispatched", slog.String("new_job_id", newID))
	s.exts.EmitRecovered(ctx, jobID, rec.JobName, newID)
	return true
}

// Purge removes records that failed more than opts.OlderThan ago, or all
// records when OlderThan is zero, returning how many were removed.
// Storage errors are logged and yield zero.
func (s *Store) Purge(ctx context.Context, opts PurgeOpts) int {
	ids, err := s.idx.members(ctx, 0)
	if err != nil {
		s.logger.Error("failed to purge DLQ", slog.String("error", err.Error()))
		return 0
	}
	recs, err := s.fetch(ctx, ids)
	if err != nil {
		s.logger.Error("failed to purge DLQ", slog.String("error", err.Error()))
		return 0
	}

	var victims []string
	cutoff := s.now().Add(-opts.OlderThan)
	for _, rec := range recs {
		if opts.OlderThan == 0 || rec.FailedAt.Before(cutoff) {
			victims = append(victims, rec.JobID)
		}
	}
	if len(victims) == 0 {
		return 0
	}

	if err := s.kv.Delete(ctx, s.recordKeys(victims)...); err != nil {
		s.logger.Error("failed to purge DLQ records", slog.String("error", err.Error()))
		return 0
	}
	if err := s.idx.remove(ctx, victims...); err != nil {
		s.logger.Warn("failed to drop purged DLQ index entries", slog.String("error", err.Error()))
	}

	s.logger.Info("DLQ purged",
		slog.Int("removed", len(victims)),
		slog.Duration("older_than", opts.OlderThan),
	)
	s.exts.EmitPurged(ctx, len(victims))
	return len(victims)
}

func (s *Store) recordKeys(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = s.keys.record(id)
	}
	return out
}
