// Package recovery executes fallible operations with classification-driven
// retry, exponential backoff, and a circuit breaker.
package recovery

import (
	"context"
	"math/rand"
	"time"

	"github.com/reprise-io/reprise/budget"
	"github.com/reprise-io/reprise/circuit"
	"github.com/reprise-io/reprise/classify"
	"github.com/reprise-io/reprise/controlplane"
	"github.com/reprise-io/reprise/observe"
	"github.com/reprise-io/reprise/policy"
)

type Operation func(ctx context.Context) error
type OperationValue[T any] func(ctx context.Context) (T, error)

// Engine drives the attempt loop. Engines are safe for concurrent use; the
// circuit breaker is shared across all calls made through the same Engine.
type Engine struct {
	key        policy.PolicyKey
	pol        policy.EffectivePolicy
	classifier classify.Classifier
	observer   observe.Observer
	breaker    circuit.CircuitBreaker
	budget     budget.Budget

	clock func() time.Time
	sleep func(context.Context, time.Duration) error
	rand  func() float64
}

type engineConfig struct {
	key        policy.PolicyKey
	pol        policy.EffectivePolicy
	classifier classify.Classifier
	observer   observe.Observer
	breaker    circuit.CircuitBreaker
	budget     budget.Budget
	clock      func() time.Time
	sleep      func(context.Context, time.Duration) error
	rand       func() float64
}

// Option configures an Engine.
type Option func(*engineConfig)

// WithKey sets the policy key reported to observers, parsed from
// "namespace.name" form.
func WithKey(key string) Option {
	return func(c *engineConfig) {
		c.key = policy.ParseKey(key)
	}
}

// WithPolicy replaces the engine's whole policy. Options applied after this
// one override individual fields.
func WithPolicy(pol policy.EffectivePolicy) Option {
	return func(c *engineConfig) {
		c.pol = pol
	}
}

// WithMaxAttempts sets the total number of attempts, first try included.
func WithMaxAttempts(n int) Option {
	return func(c *engineConfig) {
		c.pol.Retry.MaxAttempts = n
	}
}

func WithBaseDelay(d time.Duration) Option {
	return func(c *engineConfig) {
		c.pol.Retry.BaseDelay = d
	}
}

func WithMaxDelay(d time.Duration) Option {
	return func(c *engineConfig) {
		c.pol.Retry.MaxDelay = d
	}
}

func WithBackoffMultiplier(m float64) Option {
	return func(c *engineConfig) {
		c.pol.Retry.BackoffMultiplier = m
	}
}

func WithJitter(kind policy.JitterKind) Option {
	return func(c *engineConfig) {
		c.pol.Retry.Jitter = kind
	}
}

func WithAttemptTimeout(d time.Duration) Option {
	return func(c *engineConfig) {
		c.pol.Retry.AttemptTimeout = d
	}
}

func WithClassifier(cls classify.Classifier) Option {
	return func(c *engineConfig) {
		c.classifier = cls
	}
}

func WithObserver(obs observe.Observer) Option {
	return func(c *engineConfig) {
		c.observer = obs
	}
}

// WithBreaker shares an existing breaker across engines.
func WithBreaker(b circuit.CircuitBreaker) Option {
	return func(c *engineConfig) {
		c.breaker = b
	}
}

func WithCircuitThreshold(n int) Option {
	return func(c *engineConfig) {
		c.pol.Circuit.Enabled = true
		c.pol.Circuit.Threshold = n
	}
}

func WithCircuitCooldown(d time.Duration) Option {
	return func(c *engineConfig) {
		c.pol.Circuit.Enabled = true
		c.pol.Circuit.Cooldown = d
	}
}

// WithoutCircuitBreaker disables circuit breaking entirely.
func WithoutCircuitBreaker() Option {
	return func(c *engineConfig) {
		c.pol.Circuit.Enabled = false
		c.breaker = nil
	}
}

// WithBudget gates retries through b. The first attempt is never gated.
func WithBudget(b budget.Budget) Option {
	return func(c *engineConfig) {
		c.budget = b
	}
}

// WithClock replaces the wall clock, for tests.
func WithClock(f func() time.Time) Option {
	return func(c *engineConfig) {
		c.clock = f
	}
}

// WithSleep replaces the context-aware sleep, for tests.
func WithSleep(f func(context.Context, time.Duration) error) Option {
	return func(c *engineConfig) {
		c.sleep = f
	}
}

// WithRand replaces the jitter randomness source, for tests.
func WithRand(f func() float64) Option {
	return func(c *engineConfig) {
		c.rand = f
	}
}

// New creates an Engine. Zero options give the defaults: three attempts,
// one second base delay doubling up to thirty seconds with proportional
// jitter, breaker opening after five consecutive failures for thirty seconds.
func New(opts ...Option) *Engine {
	cfg := engineConfig{pol: policy.DefaultPolicyFor(policy.PolicyKey{})}
	for _, opt := range opts {
		opt(&cfg)
	}
	return build(cfg)
}

// NewFromProvider resolves the policy for key from provider and then applies
// opts on top. Resolution errors fall back to defaults only when the provider
// reports the policy as missing.
func NewFromProvider(ctx context.Context, provider controlplane.PolicyProvider, key policy.PolicyKey, opts ...Option) (*Engine, error) {
	if provider == nil {
		provider = &controlplane.StaticProvider{}
	}
	pol, err := provider.GetEffectivePolicy(ctx, key)
	if err != nil {
		if err != controlplane.ErrPolicyNotFound {
			return nil, err
		}
		pol = policy.DefaultPolicyFor(key)
	}

	cfg := engineConfig{key: key, pol: pol}
	for _, opt := range opts {
		opt(&cfg)
	}
	return build(cfg), nil
}

func build(cfg engineConfig) *Engine {
	pol := cfg.pol
	pol.Key = cfg.key
	normalized, err := pol.Normalize()
	if err != nil {
		normalized, _ = policy.DefaultPolicyFor(cfg.key).Normalize()
	}

	e := &Engine{
		key:        cfg.key,
		pol:        normalized,
		classifier: cfg.classifier,
		observer:   cfg.observer,
		breaker:    cfg.breaker,
		budget:     cfg.budget,
		clock:      cfg.clock,
		sleep:      cfg.sleep,
		rand:       cfg.rand,
	}

	if e.classifier == nil {
		e.classifier = classify.MessageClassifier{}
	}
	if e.observer == nil {
		e.observer = observe.NoopObserver{}
	}
	if e.breaker == nil && e.pol.Circuit.Enabled {
		e.breaker = circuit.NewBreaker(e.pol.Circuit.Threshold, e.pol.Circuit.Cooldown)
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	if e.sleep == nil {
		e.sleep = sleepWithContext
	}
	if e.rand == nil {
		e.rand = rand.Float64
	}
	return e
}

// Policy returns the engine's normalized policy.
func (e *Engine) Policy() policy.EffectivePolicy {
	return e.pol
}

// CircuitBreakerState returns a snapshot of the engine's breaker. The zero
// Snapshot is returned when circuit breaking is disabled.
func (e *Engine) CircuitBreakerState() circuit.Snapshot {
	if e == nil || e.breaker == nil {
		return circuit.Snapshot{}
	}
	return e.breaker.Snapshot()
}

// ResetCircuitBreaker force-closes the engine's breaker.
func (e *Engine) ResetCircuitBreaker() {
	if e == nil || e.breaker == nil {
		return
	}
	e.breaker.Reset()
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
