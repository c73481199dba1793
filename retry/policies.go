package retry

import (
	"fmt"
	"time"
)

// Built-in policy names.
const (
	Storage     = "storage"
	Network     = "network"
	ExternalAPI = "external-api"
	Validation  = "validation"
)

// DefaultConfigs returns the built-in parameters of each named policy.
func DefaultConfigs() map[string]Config {
	return map[string]Config{
		Storage: {
			MaxRetries:      3,
			BaseDelay:       1 * time.Second,
			MaxDelay:        30 * time.Second,
			ExponentialBase: 2,
			Jitter:          true,
		},
		Network: {
			MaxRetries:      5,
			BaseDelay:       3 * time.Second,
			MaxDelay:        300 * time.Second,
			ExponentialBase: 3,
			Jitter:          true,
		},
		ExternalAPI: {
			MaxRetries:      4,
			BaseDelay:       5 * time.Second,
			MaxDelay:        600 * time.Second,
			ExponentialBase: 3,
			Jitter:          true,
		},
		Validation: {
			MaxRetries:      1,
			BaseDelay:       1 * time.Second,
			MaxDelay:        1 * time.Second,
			ExponentialBase: 2,
			Jitter:          false,
		},
	}
}

// NewStorage retries transient database errors and refuses integrity
// violations.
func NewStorage(cfg Config) Policy {
	return New(Storage, cfg, func(err error) (bool, string) {
		if IsIntegrity(err) {
			return false, fmt.Sprintf("integrity violation %s will fail identically on retry", TypeName(err))
		}
		if IsTransientStorage(err) {
			return true, fmt.Sprintf("transient storage error %s", TypeName(err))
		}
		return false, fmt.Sprintf("storage error %s is not transient", TypeName(err))
	})
}

// NewNetwork retries connection, timeout, and OS transport errors.
func NewNetwork(cfg Config) Policy {
	return New(Network, cfg, func(err error) (bool, string) {
		if IsTransport(err) {
			return true, fmt.Sprintf("transport error %s", TypeName(err))
		}
		return false, fmt.Sprintf("%s is not a transport error", TypeName(err))
	})
}

// NewExternalAPI retries any error whose message signals a rate limit or
// timeout, and otherwise only transport errors.
func NewExternalAPI(cfg Config) Policy {
	return New(ExternalAPI, cfg, func(err error) (bool, string) {
		if HasRateLimitOrTimeoutHint(err) {
			return true, "rate limit or timeout reported by external API"
		}
		if IsTransport(err) {
			return true, fmt.Sprintf("transport error %s", TypeName(err))
		}
		return false, fmt.Sprintf("external API error %s is not retryable", TypeName(err))
	})
}

// NewValidation never retries: validation failures are deterministic.
func NewValidation(cfg Config) Policy {
	return &validationPolicy{policy: New(Validation, cfg, nil).(*policy)}
}

type validationPolicy struct {
	*policy
}

// ShouldRetry always refuses, naming the error regardless of the budget.
func (v *validationPolicy) ShouldRetry(err error, _ int) (bool, string) {
	return false, fmt.Sprintf("validation error %s is not retryable", TypeName(err))
}

var constructors = map[string]func(Config) Policy{
	Storage:     NewStorage,
	Network:     NewNetwork,
	ExternalAPI: NewExternalAPI,
	Validation:  NewValidation,
}
