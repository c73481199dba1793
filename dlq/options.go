package dlq

import (
	"log/slog"
	"time"

	"github.com/xraph/salvage/ext"
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the DLQ log stream.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithAlerter sets the critical failure notifier consulted on Record.
func WithAlerter(a Alerter) Option {
	return func(s *Store) { s.alerter = a }
}

// WithExtensions sets the extension registry notified of DLQ events.
func WithExtensions(r *ext.Registry) Option {
	return func(s *Store) { s.exts = r }
}

// WithClock overrides the time source used for failed_at and purge age.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithFetchConcurrency bounds concurrent record reads in List and Purge.
func WithFetchConcurrency(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.fetchConcurrency = n
		}
	}
}
