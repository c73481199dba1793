package job

import "time"

// Options configures per-job behavior.
type Options struct {
	// Policy names the retry policy consulted on failure. Empty means the
	// process default.
	Policy string

	// Timeout is the maximum duration a handler may run. Zero means
	// unlimited.
	Timeout time.Duration
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Timeout: 5 * time.Minute,
	}
}

// Option is a functional option for configuring a job definition.
type Option func(*Options)

// WithPolicy sets the retry policy for the job.
func WithPolicy(name string) Option {
	return func(o *Options) {
		o.Policy = name
	}
}

// WithTimeout sets the maximum execution duration for the job.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}
