// Package retry decides, per failure, whether a job is retried and after
// how long.
//
// A [Policy] combines a retry budget, exponential backoff with optional
// jitter, and an error classifier. Four named policies cover the common
// failure domains:
//
//   - storage: transient database errors (locks, timeouts, deadlocks);
//     integrity violations are never retried.
//   - network: connection, timeout, and OS transport errors.
//   - external-api: rate-limit and timeout responses, else transport errors.
//   - validation: never retried.
//
// Policies are immutable after construction and safe for concurrent use.
// A [Registry] holds one instance of each, built once at process start:
//
//	reg, err := retry.NewRegistry(cfg.Policies)
//	p, err := reg.Get(retry.Storage)
//	if ok, reason := p.ShouldRetry(err, retryCount); ok {
//	    runtime.Reenqueue(ctx, ..., p.Delay(retryCount), retryCount+1)
//	}
package retry

import (
	"fmt"
	"time"

	"github.com/xraph/salvage/backoff"
)

// Config is the immutable parameter set of a policy.
type Config struct {
	MaxRetries      int           `json:"max_retries"`
	BaseDelay       time.Duration `json:"base_delay"`
	MaxDelay        time.Duration `json:"max_delay"`
	ExponentialBase float64       `json:"exponential_base"`
	Jitter          bool          `json:"jitter"`
}

// Decider classifies an error once the retry budget allows another try.
// It returns whether to retry and a human-readable reason.
type Decider func(err error) (bool, string)

// Policy decides whether and when a failed job is retried.
type Policy interface {
	// Name returns the registry name of the policy.
	Name() string

	// Config returns the policy parameters.
	Config() Config

	// Delay returns the wait before retry retryCount (0-based), jittered
	// if the policy enables jitter. Never exceeds Config().MaxDelay.
	Delay(retryCount int) time.Duration

	// Ceiling returns the non-jittered delay for retryCount.
	Ceiling(retryCount int) time.Duration

	// ShouldRetry reports whether err warrants another attempt after
	// retryCount retries have already been made.
	ShouldRetry(err error, retryCount int) (bool, string)
}

type policy struct {
	name   string
	cfg    Config
	bo     *backoff.Exponential
	decide Decider
}

var _ Policy = (*policy)(nil)

// New creates a policy from a name, parameters, and classifier.
func New(name string, cfg Config, decide Decider) Policy {
	return &policy{
		name: name,
		cfg:  cfg,
		bo: &backoff.Exponential{
			Initial: cfg.BaseDelay,
			Factor:  cfg.ExponentialBase,
			Max:     cfg.MaxDelay,
			Jitter:  cfg.Jitter,
		},
		decide: decide,
	}
}

func (p *policy) Name() string   { return p.name }
func (p *policy) Config() Config { return p.cfg }

func (p *policy) Delay(retryCount int) time.Duration   { return p.bo.Delay(retryCount) }
func (p *policy) Ceiling(retryCount int) time.Duration { return p.bo.Ceiling(retryCount) }

func (p *policy) ShouldRetry(err error, retryCount int) (bool, string) {
	if err == nil {
		return false, "no error to retry"
	}
	if retryCount >= p.cfg.MaxRetries {
		return false, fmt.Sprintf("max retries (%d) reached", p.cfg.MaxRetries)
	}
	return p.decide(err)
}
