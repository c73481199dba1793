// Package alert raises high-severity alerts when a critical job is
// dead-lettered.
//
// Alerts are written to a dedicated log stream tagged channel=critical,
// separate from the DLQ log stream, and fanned out to optional [Sink]s.
// Notify never blocks on sinks and never fails: delivery happens on
// background goroutines bounded by a timeout, and sink errors are logged.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/xraph/salvage"
	"github.com/xraph/salvage/dlq"
	"github.com/xraph/salvage/id"
)

var _ dlq.Alerter = (*Notifier)(nil)

// Alert is the payload delivered to sinks.
type Alert struct {
	ID               string    `json:"id"`
	Severity         string    `json:"severity"`
	JobID            string    `json:"job_id"`
	JobName          string    `json:"job_name"`
	ExceptionType    string    `json:"exception_type"`
	ExceptionMessage string    `json:"exception_message"`
	SessionID        string    `json:"session_id,omitempty"`
	CorrelationID    string    `json:"correlation_id,omitempty"`
	FailedAt         time.Time `json:"failed_at"`
}

// Sink is an additional alert destination (pager, chat, webhook).
type Sink interface {
	Name() string
	Send(ctx context.Context, a Alert) error
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithLogger sets the base logger for the critical channel.
func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) { n.logger = l }
}

// WithSinks adds alert destinations.
func WithSinks(sinks ...Sink) Option {
	return func(n *Notifier) { n.sinks = append(n.sinks, sinks...) }
}

// WithSinkTimeout bounds each sink delivery. Default 5s.
func WithSinkTimeout(d time.Duration) Option {
	return func(n *Notifier) { n.timeout = d }
}

// Notifier classifies job names as critical and alerts on them.
type Notifier struct {
	critical map[string]struct{}
	logger   *slog.Logger
	sinks    []Sink
	timeout  time.Duration
	wg       sync.WaitGroup
}

// New creates a Notifier for the given allow-list of critical job names.
// An empty or blank name fails with salvage.ErrInvalidConfig.
func New(criticalJobs []string, opts ...Option) (*Notifier, error) {
	n := &Notifier{
		critical: make(map[string]struct{}, len(criticalJobs)),
		logger:   slog.Default(),
		timeout:  5 * time.Second,
	}
	for _, name := range criticalJobs {
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("%w: empty critical job name", salvage.ErrInvalidConfig)
		}
		n.critical[name] = struct{}{}
	}
	for _, o := range opts {
		o(n)
	}
	n.logger = n.logger.With(slog.String("channel", "critical"))
	return n, nil
}

// IsCritical reports whether jobName is on the allow-list.
func (n *Notifier) IsCritical(jobName string) bool {
	_, ok := n.critical[jobName]
	return ok
}

// Notify logs the alert on the critical channel and delivers it to every
// sink in the background.
func (n *Notifier) Notify(ctx context.Context, r *dlq.Record) {
	a := Alert{
		ID:               id.NewAlertID().String(),
		Severity:         "critical",
		JobID:            r.JobID,
		JobName:          r.JobName,
		ExceptionType:    r.ExceptionType,
		ExceptionMessage: r.ExceptionMessage,
		SessionID:        r.SessionID,
		CorrelationID:    r.CorrelationID,
		FailedAt:         r.FailedAt,
	}

	n.logger.LogAttrs(ctx, slog.LevelError, "critical job dead-lettered",
		slog.String("alert_id", a.ID),
		slog.String("job_id", a.JobID),
		slog.String("job_name", a.JobName),
		slog.String("exception_type", a.ExceptionType),
		slog.String("session_id", a.SessionID),
		slog.String("correlation_id", a.CorrelationID),
	)

	for _, s := range n.sinks {
		n.wg.Add(1)
		go n.deliver(context.WithoutCancel(ctx), s, a)
	}
}

func (n *Notifier) deliver(ctx context.Context, s Sink, a Alert) {
	defer n.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("alert sink panicked",
				slog.String("sink", s.Name()),
				slog.String("alert_id", a.ID),
				slog.Any("panic", r),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	if err := s.Send(ctx, a); err != nil {
		n.logger.Error("alert sink failed",
			slog.String("sink", s.Name()),
			slog.String("alert_id", a.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Wait blocks until in-flight sink deliveries finish.
func (n *Notifier) Wait() {
	n.wg.Wait()
}
