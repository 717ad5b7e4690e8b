package policy

import (
	"time"
)

type JitterKind string

const (
	JitterNone  JitterKind = "none"
	JitterFull  JitterKind = "full"
	JitterEqual JitterKind = "equal"

	// JitterProportional multiplies the computed delay by a random factor in
	// [0.85, 1.15], spreading simultaneous retries without distorting the
	// backoff curve.
	JitterProportional JitterKind = "proportional"
)

type BudgetRef struct {
	Name string `json:"name" yaml:"name"`
	Cost int    `json:"cost,omitempty" yaml:"cost,omitempty"`
}

// RetryPolicy configures the recovery engine's attempt loop.
type RetryPolicy struct {
	MaxAttempts       int           `json:"max_attempts" yaml:"max_attempts"`
	BaseDelay         time.Duration `json:"base_delay" yaml:"base_delay"`
	MaxDelay          time.Duration `json:"max_delay" yaml:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier" yaml:"backoff_multiplier"`
	Jitter            JitterKind    `json:"jitter" yaml:"jitter"`

	AttemptTimeout time.Duration `json:"attempt_timeout" yaml:"attempt_timeout"`

	ClassifierName string    `json:"classifier_name,omitempty" yaml:"classifier_name,omitempty"`
	Budget         BudgetRef `json:"budget,omitempty" yaml:"budget,omitempty"`
}

// CircuitPolicy configures the engine's circuit breaker.
type CircuitPolicy struct {
	Enabled   bool          `json:"enabled" yaml:"enabled"`
	Threshold int           `json:"threshold" yaml:"threshold"` // consecutive failures
	Cooldown  time.Duration `json:"cooldown" yaml:"cooldown"`
}

// UpdatePolicy configures an optimistic update manager.
type UpdatePolicy struct {
	MaxRetries   int           `json:"max_retries" yaml:"max_retries"`
	RetryDelay   time.Duration `json:"retry_delay" yaml:"retry_delay"`
	RetryBackoff float64       `json:"retry_backoff" yaml:"retry_backoff"`
	AutoRetry    bool          `json:"auto_retry" yaml:"auto_retry"`

	// Timeout bounds each mutation attempt; a mutation that has not settled
	// when it elapses is treated as failed.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	KeepHistory    bool `json:"keep_history" yaml:"keep_history"`
	MaxHistorySize int  `json:"max_history_size" yaml:"max_history_size"`
}

type PolicySource string

const (
	PolicySourceUnknown PolicySource = "unknown"
	PolicySourceStatic  PolicySource = "static"
	PolicySourceFile    PolicySource = "file"
	PolicySourceRemote  PolicySource = "remote"
	PolicySourceDefault PolicySource = "default"
)

type NormalizationInfo struct {
	Changed       bool     `json:"-" yaml:"-"`
	ChangedFields []string `json:"-" yaml:"-"`
}

type Metadata struct {
	Source        PolicySource      `json:"-" yaml:"-"`
	Normalization NormalizationInfo `json:"-" yaml:"-"`
}

// EffectivePolicy is the fully-resolved configuration for one policy key.
type EffectivePolicy struct {
	Key     PolicyKey     `json:"key" yaml:"key"`
	ID      string        `json:"id,omitempty" yaml:"id,omitempty"`
	Retry   RetryPolicy   `json:"retry" yaml:"retry"`
	Circuit CircuitPolicy `json:"circuit" yaml:"circuit"`
	Update  UpdatePolicy  `json:"update" yaml:"update"`

	Meta Metadata `json:"-" yaml:"-"`
}

// DefaultRetryPolicy returns the engine defaults: three attempts, one second
// base delay doubling up to thirty seconds, proportional jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		BaseDelay:         1 * time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2,
		Jitter:            JitterProportional,
		Budget:            BudgetRef{Cost: 1},
	}
}

// DefaultCircuitPolicy returns the breaker defaults: open after five
// consecutive failures, cool down for thirty seconds.
func DefaultCircuitPolicy() CircuitPolicy {
	return CircuitPolicy{
		Enabled:   true,
		Threshold: 5,
		Cooldown:  30 * time.Second,
	}
}

// DefaultUpdatePolicy returns the manager defaults.
func DefaultUpdatePolicy() UpdatePolicy {
	return UpdatePolicy{
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
		RetryBackoff:   2,
		AutoRetry:      true,
		Timeout:        30 * time.Second,
		KeepHistory:    true,
		MaxHistorySize: 50,
	}
}

func DefaultPolicyFor(key PolicyKey) EffectivePolicy {
	return EffectivePolicy{
		Key:     key,
		Retry:   DefaultRetryPolicy(),
		Circuit: DefaultCircuitPolicy(),
		Update:  DefaultUpdatePolicy(),
		Meta: Metadata{
			Source: PolicySourceDefault,
		},
	}
}

const (
	maxRetryAttempts = 10
	maxUpdateRetries = 10

	minDelayFloor        = 1 * time.Millisecond
	maxDelayCeiling      = 5 * time.Minute
	minTimeoutFloor      = 1 * time.Millisecond
	maxBackoffMultiplier = 10.0
	minCircuitThreshold  = 1
	minCircuitCooldown   = 100 * time.Millisecond
	maxHistoryCeiling    = 1000
)

// Normalize clamps out-of-range fields to safe values, recording every change
// in Meta.Normalization. It returns an error only for configurations that
// cannot be coerced (currently an unknown jitter kind).
func (p EffectivePolicy) Normalize() (EffectivePolicy, error) {
	normalized := p
	norm := &normalized.Meta.Normalization

	markChanged := func(field string) {
		norm.Changed = true
		for _, f := range norm.ChangedFields {
			if f == field {
				return
			}
		}
		norm.ChangedFields = append(norm.ChangedFields, field)
	}

	if normalized.Retry.MaxAttempts == 0 {
		normalized.Retry.MaxAttempts = 3
		markChanged("retry.max_attempts")
	}
	if normalized.Retry.MaxAttempts < 1 {
		normalized.Retry.MaxAttempts = 1
		markChanged("retry.max_attempts")
	} else if normalized.Retry.MaxAttempts > maxRetryAttempts {
		normalized.Retry.MaxAttempts = maxRetryAttempts
		markChanged("retry.max_attempts")
	}

	if normalized.Retry.BaseDelay <= 0 {
		normalized.Retry.BaseDelay = 1 * time.Second
		markChanged("retry.base_delay")
	}
	if normalized.Retry.BaseDelay < minDelayFloor {
		normalized.Retry.BaseDelay = minDelayFloor
		markChanged("retry.base_delay")
	}

	if normalized.Retry.MaxDelay <= 0 {
		normalized.Retry.MaxDelay = 30 * time.Second
		markChanged("retry.max_delay")
	}
	if normalized.Retry.MaxDelay > maxDelayCeiling {
		normalized.Retry.MaxDelay = maxDelayCeiling
		markChanged("retry.max_delay")
	}
	if normalized.Retry.MaxDelay < normalized.Retry.BaseDelay {
		normalized.Retry.MaxDelay = normalized.Retry.BaseDelay
		markChanged("retry.max_delay")
	}

	if normalized.Retry.BackoffMultiplier == 0 {
		normalized.Retry.BackoffMultiplier = 2
		markChanged("retry.backoff_multiplier")
	}
	if normalized.Retry.BackoffMultiplier < 1 {
		normalized.Retry.BackoffMultiplier = 1
		markChanged("retry.backoff_multiplier")
	} else if normalized.Retry.BackoffMultiplier > maxBackoffMultiplier {
		normalized.Retry.BackoffMultiplier = maxBackoffMultiplier
		markChanged("retry.backoff_multiplier")
	}

	switch normalized.Retry.Jitter {
	case "":
		normalized.Retry.Jitter = JitterProportional
		markChanged("retry.jitter")
	case JitterNone, JitterFull, JitterEqual, JitterProportional:
	default:
		return EffectivePolicy{}, &NormalizeError{Field: "retry.jitter", Value: string(normalized.Retry.Jitter)}
	}

	if normalized.Retry.AttemptTimeout < 0 {
		normalized.Retry.AttemptTimeout = 0
		markChanged("retry.attempt_timeout")
	}
	if normalized.Retry.AttemptTimeout > 0 && normalized.Retry.AttemptTimeout < minTimeoutFloor {
		normalized.Retry.AttemptTimeout = minTimeoutFloor
		markChanged("retry.attempt_timeout")
	}

	if normalized.Retry.Budget.Cost < 1 {
		normalized.Retry.Budget.Cost = 1
		markChanged("retry.budget.cost")
	}

	if normalized.Circuit.Enabled {
		if normalized.Circuit.Threshold <= 0 {
			normalized.Circuit.Threshold = 5
			markChanged("circuit.threshold")
		}
		if normalized.Circuit.Threshold < minCircuitThreshold {
			normalized.Circuit.Threshold = minCircuitThreshold
			markChanged("circuit.threshold")
		}

		if normalized.Circuit.Cooldown <= 0 {
			normalized.Circuit.Cooldown = 30 * time.Second
			markChanged("circuit.cooldown")
		}
		if normalized.Circuit.Cooldown < minCircuitCooldown {
			normalized.Circuit.Cooldown = minCircuitCooldown
			markChanged("circuit.cooldown")
		}
	}

	// MaxRetries zero is a valid configuration (never retry), so only negative
	// values are coerced.
	if normalized.Update.MaxRetries < 0 {
		normalized.Update.MaxRetries = 0
		markChanged("update.max_retries")
	} else if normalized.Update.MaxRetries > maxUpdateRetries {
		normalized.Update.MaxRetries = maxUpdateRetries
		markChanged("update.max_retries")
	}

	if normalized.Update.RetryDelay < 0 {
		normalized.Update.RetryDelay = 0
		markChanged("update.retry_delay")
	}

	if normalized.Update.RetryBackoff == 0 {
		normalized.Update.RetryBackoff = 2
		markChanged("update.retry_backoff")
	}
	if normalized.Update.RetryBackoff < 1 {
		normalized.Update.RetryBackoff = 1
		markChanged("update.retry_backoff")
	} else if normalized.Update.RetryBackoff > maxBackoffMultiplier {
		normalized.Update.RetryBackoff = maxBackoffMultiplier
		markChanged("update.retry_backoff")
	}

	if normalized.Update.Timeout < 0 {
		normalized.Update.Timeout = 0
		markChanged("update.timeout")
	}

	if normalized.Update.MaxHistorySize < 0 {
		normalized.Update.MaxHistorySize = 0
		markChanged("update.max_history_size")
	} else if normalized.Update.MaxHistorySize > maxHistoryCeiling {
		normalized.Update.MaxHistorySize = maxHistoryCeiling
		markChanged("update.max_history_size")
	}

	return normalized, nil
}
