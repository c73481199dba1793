package audithook

import (
	"log/slog"
	"time"
)

// Option configures an Extension.
type Option func(*Extension)

// WithActions restricts the extension to the listed actions, for example
// only the dead letter actions:
//
//	audithook.New(r, audithook.WithActions(
//	    audithook.ActionDLQRecorded,
//	    audithook.ActionDLQRecovered,
//	    audithook.ActionDLQPurged,
//	))
//
// Every action is recorded by default. Unknown actions are ignored.
func WithActions(actions ...string) Option {
	return func(e *Extension) {
		e.enabled = make(map[string]bool, len(actions))
		for _, a := range actions {
			e.enabled[a] = true
		}
	}
}

// WithJobNames records job and record events only for the named jobs,
// typically the critical ones. Queue-wide events (eviction, purge) are
// always recorded.
func WithJobNames(names ...string) Option {
	return func(e *Extension) {
		e.jobs = make(map[string]bool, len(names))
		for _, n := range names {
			e.jobs[n] = true
		}
	}
}

// WithLogger sets the logger used to report recorder failures.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extension) { e.logger = l }
}

// WithClock overrides the time source stamped on events.
func WithClock(now func() time.Time) Option {
	return func(e *Extension) { e.now = now }
}
