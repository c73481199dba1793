package retry

import (
	"fmt"
	"sort"

	"github.com/xraph/salvage"
)

// Registry holds one policy per name. It is built once and read-only
// afterwards, so it is safe for concurrent use without locking.
type Registry struct {
	policies map[string]Policy
}

// NewRegistry builds the four built-in policies, applying per-deployment
// overrides keyed by policy name, then adds any extra policies. An
// override for a name that is not built in fails with ErrUnknownPolicy.
func NewRegistry(overrides map[string]salvage.PolicyOverride, extra ...Policy) (*Registry, error) {
	configs := DefaultConfigs()
	for name, ov := range overrides {
		cfg, ok := configs[name]
		if !ok {
			return nil, fmt.Errorf("%w: override for %q", salvage.ErrUnknownPolicy, name)
		}
		configs[name] = applyOverride(cfg, ov)
	}

	r := &Registry{policies: make(map[string]Policy, len(configs)+len(extra))}
	for name, cfg := range configs {
		if cfg.ExponentialBase <= 1 {
			return nil, fmt.Errorf("%w: policy %q: exponential_base must be greater than 1", salvage.ErrInvalidConfig, name)
		}
		r.policies[name] = constructors[name](cfg)
	}
	for _, p := range extra {
		if _, dup := r.policies[p.Name()]; dup {
			return nil, fmt.Errorf("%w: duplicate policy %q", salvage.ErrInvalidConfig, p.Name())
		}
		r.policies[p.Name()] = p
	}
	return r, nil
}

// Get returns the policy registered under name.
func (r *Registry) Get(name string) (Policy, error) {
	p, ok := r.policies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", salvage.ErrUnknownPolicy, name, r.Names())
	}
	return p, nil
}

// Names returns all registered policy names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.policies))
	for name := range r.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func applyOverride(cfg Config, ov salvage.PolicyOverride) Config {
	if ov.MaxRetries != nil {
		cfg.MaxRetries = *ov.MaxRetries
	}
	if ov.BaseDelay != nil {
		cfg.BaseDelay = *ov.BaseDelay
	}
	if ov.MaxDelay != nil {
		cfg.MaxDelay = *ov.MaxDelay
	}
	if ov.ExponentialBase != nil {
		cfg.ExponentialBase = *ov.ExponentialBase
	}
	if ov.Jitter != nil {
		cfg.Jitter = *ov.Jitter
	}
	return cfg
}
