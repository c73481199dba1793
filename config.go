package salvage

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds process-wide configuration for retry policies and the
// dead letter queue.
type Config struct {
	// Namespace prefixes every key written to the backing store.
	Namespace string `yaml:"namespace"`

	// MaxQueueSize bounds the dead letter index. Oldest entries are
	// evicted once an insertion pushes the index over this size.
	MaxQueueSize int `yaml:"max_queue_size"`

	// RecordTTL is how long a failed job record is retained.
	RecordTTL time.Duration `yaml:"record_ttl"`

	// LockTTL is the expiry of the index lock used when the store has no
	// atomic set primitives.
	LockTTL time.Duration `yaml:"lock_ttl"`

	// LockAttempts is how many times the index lock is tried before the
	// index update is skipped.
	LockAttempts int `yaml:"lock_attempts"`

	// LockBackoff is the linear backoff step between lock attempts.
	LockBackoff time.Duration `yaml:"lock_backoff"`

	// ClaimTTL bounds how long a manual retry holds its claim on a record.
	ClaimTTL time.Duration `yaml:"claim_ttl"`

	// CriticalJobs lists job names whose dead-lettering raises a
	// high-severity alert.
	CriticalJobs []string `yaml:"critical_jobs"`

	// DefaultPolicy is used for failures that name no policy.
	DefaultPolicy string `yaml:"default_policy"`

	// Policies overrides the built-in policy parameters per deployment,
	// keyed by policy name.
	Policies map[string]PolicyOverride `yaml:"policies"`

	Redis RedisConfig `yaml:"redis"`
	NATS  NATSConfig  `yaml:"nats"`
	AMQP  AMQPConfig  `yaml:"amqp"`
}

// PolicyOverride replaces individual retry policy parameters. Nil fields
// keep the built-in value.
type PolicyOverride struct {
	MaxRetries      *int           `yaml:"max_retries"`
	BaseDelay       *time.Duration `yaml:"base_delay"`
	MaxDelay        *time.Duration `yaml:"max_delay"`
	ExponentialBase *float64       `yaml:"exponential_base"`
	Jitter          *bool          `yaml:"jitter"`
}

// RedisConfig locates the Redis backing store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NATSConfig locates the JetStream key/value backing store.
type NATSConfig struct {
	URL    string `yaml:"url"`
	Bucket string `yaml:"bucket"`
}

// AMQPConfig locates the RabbitMQ work-queue runtime.
type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
	// KnownJobs lists the job names consumers on the exchange handle.
	// Manual retries of any other name are refused.
	KnownJobs []string `yaml:"known_jobs"`
}

// DefaultCriticalJobs are the job names alerted on unless configured
// otherwise.
var DefaultCriticalJobs = []string{
	"process_conversation_task",
	"crisis_intervention_task",
	"security_alert_task",
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Namespace:     "salvage",
		MaxQueueSize:  1000,
		RecordTTL:     7 * 24 * time.Hour,
		LockTTL:       1 * time.Second,
		LockAttempts:  3,
		LockBackoff:   100 * time.Millisecond,
		ClaimTTL:      30 * time.Second,
		CriticalJobs:  append([]string(nil), DefaultCriticalJobs...),
		DefaultPolicy: "network",
		NATS:          NATSConfig{Bucket: "salvage"},
		AMQP:          AMQPConfig{Exchange: "salvage.jobs"},
	}
}

// LoadConfig reads a YAML file over DefaultConfig, applies environment
// overrides with the "SALVAGE" prefix, and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("salvage: read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
		}
	}
	if err := cfg.ApplyEnv("SALVAGE"); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables named PREFIX_FIELD onto c.
func (c *Config) ApplyEnv(prefix string) error {
	if val := os.Getenv(prefix + "_NAMESPACE"); val != "" {
		c.Namespace = val
	}
	if val := os.Getenv(prefix + "_MAX_QUEUE_SIZE"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%w: %s_MAX_QUEUE_SIZE: %v", ErrInvalidConfig, prefix, err)
		}
		c.MaxQueueSize = n
	}
	if val := os.Getenv(prefix + "_RECORD_TTL"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("%w: %s_RECORD_TTL: %v", ErrInvalidConfig, prefix, err)
		}
		c.RecordTTL = d
	}
	if val := os.Getenv(prefix + "_CRITICAL_JOBS"); val != "" {
		c.CriticalJobs = splitList(val)
	}
	if val := os.Getenv(prefix + "_DEFAULT_POLICY"); val != "" {
		c.DefaultPolicy = val
	}
	if val := os.Getenv(prefix + "_REDIS_ADDR"); val != "" {
		c.Redis.Addr = val
	}
	if val := os.Getenv(prefix + "_REDIS_PASSWORD"); val != "" {
		c.Redis.Password = val
	}
	if val := os.Getenv(prefix + "_NATS_URL"); val != "" {
		c.NATS.URL = val
	}
	if val := os.Getenv(prefix + "_AMQP_URL"); val != "" {
		c.AMQP.URL = val
	}
	if val := os.Getenv(prefix + "_AMQP_KNOWN_JOBS"); val != "" {
		c.AMQP.KnownJobs = splitList(val)
	}
	return c.applyPolicyEnv(prefix)
}

// applyPolicyEnv reads PREFIX_POLICY_<NAME>_<PARAM> for every built-in
// and already-configured policy name.
func (c *Config) applyPolicyEnv(prefix string) error {
	names := map[string]struct{}{
		"storage": {}, "network": {}, "external-api": {}, "validation": {},
	}
	for name := range c.Policies {
		names[name] = struct{}{}
	}

	for name := range names {
		p := prefix + "_POLICY_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_"
		ov := c.Policies[name]
		set := false

		if val := os.Getenv(p + "MAX_RETRIES"); val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("%w: %sMAX_RETRIES: %v", ErrInvalidConfig, p, err)
			}
			ov.MaxRetries, set = &n, true
		}
		for suffix, dst := range map[string]**time.Duration{
			"BASE_DELAY": &ov.BaseDelay,
			"MAX_DELAY":  &ov.MaxDelay,
		} {
			if val := os.Getenv(p + suffix); val != "" {
				d, err := time.ParseDuration(val)
				if err != nil {
					return fmt.Errorf("%w: %s%s: %v", ErrInvalidConfig, p, suffix, err)
				}
				*dst, set = &d, true
			}
		}
		if val := os.Getenv(p + "EXPONENTIAL_BASE"); val != "" {
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return fmt.Errorf("%w: %sEXPONENTIAL_BASE: %v", ErrInvalidConfig, p, err)
			}
			ov.ExponentialBase, set = &f, true
		}
		if val := os.Getenv(p + "JITTER"); val != "" {
			b, err := strconv.ParseBool(val)
			if err != nil {
				return fmt.Errorf("%w: %sJITTER: %v", ErrInvalidConfig, p, err)
			}
			ov.Jitter, set = &b, true
		}

		if set {
			if c.Policies == nil {
				c.Policies = make(map[string]PolicyOverride)
			}
			c.Policies[name] = ov
		}
	}
	return nil
}

// Validate reports the first structural problem in c.
func (c *Config) Validate() error {
	if c.Namespace == "" {
		return fmt.Errorf("%w: namespace must not be empty", ErrInvalidConfig)
	}
	if c.MaxQueueSize < 1 {
		return fmt.Errorf("%w: max_queue_size must be at least 1, got %d", ErrInvalidConfig, c.MaxQueueSize)
	}
	if c.RecordTTL <= 0 {
		return fmt.Errorf("%w: record_ttl must be positive", ErrInvalidConfig)
	}
	if c.LockTTL <= 0 || c.LockAttempts < 1 || c.LockBackoff < 0 {
		return fmt.Errorf("%w: lock_ttl, lock_attempts and lock_backoff must be positive", ErrInvalidConfig)
	}
	if c.ClaimTTL <= 0 {
		return fmt.Errorf("%w: claim_ttl must be positive", ErrInvalidConfig)
	}
	for i, name := range c.CriticalJobs {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: critical_jobs[%d] is empty", ErrInvalidConfig, i)
		}
	}
	for name, ov := range c.Policies {
		if ov.MaxRetries != nil && *ov.MaxRetries < 0 {
			return fmt.Errorf("%w: policy %q: max_retries must not be negative", ErrInvalidConfig, name)
		}
		if ov.BaseDelay != nil && *ov.BaseDelay < 0 {
			return fmt.Errorf("%w: policy %q: base_delay must not be negative", ErrInvalidConfig, name)
		}
		if ov.MaxDelay != nil && *ov.MaxDelay < 0 {
			return fmt.Errorf("%w: policy %q: max_delay must not be negative", ErrInvalidConfig, name)
		}
		if ov.ExponentialBase != nil && *ov.ExponentialBase <= 1 {
			return fmt.Errorf("%w: policy %q: exponential_base must be greater than 1", ErrInvalidConfig, name)
		}
	}
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
