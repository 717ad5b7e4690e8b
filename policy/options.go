package policy

import "time"

// Option mutates an EffectivePolicy under construction.
type Option func(*EffectivePolicy)

// New builds a normalized EffectivePolicy for key. Options are applied on top
// of the defaults; if the result fails normalization the defaults are used.
func New(key string, opts ...Option) EffectivePolicy {
	return NewFromKey(ParseKey(key), opts...)
}

// NewFromKey is New for a structured key.
func NewFromKey(key PolicyKey, opts ...Option) EffectivePolicy {
	p := DefaultPolicyFor(key)
	for _, opt := range opts {
		if opt != nil {
			opt(&p)
		}
	}

	normalized, err := p.Normalize()
	if err != nil {
		normalized, _ = DefaultPolicyFor(key).Normalize()
	}
	normalized.Key = key
	return normalized
}

// MaxAttempts sets the engine attempt bound (first try included).
func MaxAttempts(n int) Option {
	return func(p *EffectivePolicy) { p.Retry.MaxAttempts = n }
}

// BaseDelay sets the delay before the first retry.
func BaseDelay(d time.Duration) Option {
	return func(p *EffectivePolicy) { p.Retry.BaseDelay = d }
}

// MaxDelay caps the computed retry delay.
func MaxDelay(d time.Duration) Option {
	return func(p *EffectivePolicy) { p.Retry.MaxDelay = d }
}

// BackoffMultiplier sets the exponential growth factor between retries.
func BackoffMultiplier(m float64) Option {
	return func(p *EffectivePolicy) { p.Retry.BackoffMultiplier = m }
}

// Jitter selects the jitter strategy applied to computed delays.
func Jitter(kind JitterKind) Option {
	return func(p *EffectivePolicy) { p.Retry.Jitter = kind }
}

// AttemptTimeout bounds each individual engine attempt.
func AttemptTimeout(d time.Duration) Option {
	return func(p *EffectivePolicy) { p.Retry.AttemptTimeout = d }
}

// Classifier names the registered classifier used for this policy.
func Classifier(name string) Option {
	return func(p *EffectivePolicy) { p.Retry.ClassifierName = name }
}

// Budget references a registered retry budget by name.
func Budget(name string) Option {
	return func(p *EffectivePolicy) { p.Retry.Budget.Name = name }
}

// CircuitBreaker enables the breaker with the given threshold and cooldown.
func CircuitBreaker(threshold int, cooldown time.Duration) Option {
	return func(p *EffectivePolicy) {
		p.Circuit = CircuitPolicy{Enabled: true, Threshold: threshold, Cooldown: cooldown}
	}
}

// NoCircuitBreaker disables the breaker.
func NoCircuitBreaker() Option {
	return func(p *EffectivePolicy) { p.Circuit = CircuitPolicy{} }
}

// MaxRetries bounds optimistic update retries. Zero disables retrying.
func MaxRetries(n int) Option {
	return func(p *EffectivePolicy) { p.Update.MaxRetries = n }
}

// RetryDelay sets the base delay between optimistic update retries.
func RetryDelay(d time.Duration) Option {
	return func(p *EffectivePolicy) { p.Update.RetryDelay = d }
}

// AutoRetry toggles automatic retry of failed mutations.
func AutoRetry(enabled bool) Option {
	return func(p *EffectivePolicy) { p.Update.AutoRetry = enabled }
}

// MutationTimeout bounds each mutation attempt of the update manager.
func MutationTimeout(d time.Duration) Option {
	return func(p *EffectivePolicy) { p.Update.Timeout = d }
}

// History enables confirmed-value history with the given bound.
func History(maxSize int) Option {
	return func(p *EffectivePolicy) {
		p.Update.KeepHistory = maxSize > 0
		p.Update.MaxHistorySize = maxSize
	}
}

// ExponentialBackoff configures the classic growth curve between initial and
// max, with equal jitter.
func ExponentialBackoff(initial, max time.Duration) Option {
	return func(p *EffectivePolicy) {
		p.Retry.BaseDelay = initial
		p.Retry.MaxDelay = max
		p.Retry.BackoffMultiplier = 2
		p.Retry.Jitter = JitterEqual
	}
}

// InteractiveDefaults tunes the policy for user-facing mutations: short
// delays, a tight attempt bound, and no jitter so feedback stays predictable.
func InteractiveDefaults() Option {
	return func(p *EffectivePolicy) {
		p.Retry.MaxAttempts = 3
		p.Retry.BaseDelay = 500 * time.Millisecond
		p.Retry.MaxDelay = 5 * time.Second
		p.Retry.Jitter = JitterNone
		p.Update.Timeout = 10 * time.Second
	}
}

// BackgroundDefaults tunes the policy for background reconciliation: more
// attempts, longer delays, proportional jitter.
func BackgroundDefaults() Option {
	return func(p *EffectivePolicy) {
		p.Retry.MaxAttempts = 5
		p.Retry.BaseDelay = 2 * time.Second
		p.Retry.MaxDelay = 2 * time.Minute
		p.Retry.Jitter = JitterProportional
		p.Update.AutoRetry = true
	}
}
