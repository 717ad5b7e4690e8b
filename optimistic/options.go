package optimistic

import (
	"context"
	"log/slog"
	"time"

	"github.com/reprise-io/reprise/classify"
	"github.com/reprise-io/reprise/policy"
	"github.com/reprise-io/reprise/recovery"
)

type managerConfig struct {
	pol        policy.UpdatePolicy
	classifier classify.Classifier
	engine     *recovery.Engine
	logger     *slog.Logger
	clock      func() time.Time
	sleep      func(context.Context, time.Duration) error
}

// Option configures a Manager.
type Option func(*managerConfig)

// WithPolicy replaces the whole update policy. Options applied after this one
// override individual fields.
func WithPolicy(pol policy.UpdatePolicy) Option {
	return func(c *managerConfig) {
		c.pol = pol
	}
}

// WithMaxRetries bounds automatic retries per update. Zero disables retrying.
func WithMaxRetries(n int) Option {
	return func(c *managerConfig) {
		c.pol.MaxRetries = n
	}
}

func WithRetryDelay(d time.Duration) Option {
	return func(c *managerConfig) {
		c.pol.RetryDelay = d
	}
}

func WithRetryBackoff(m float64) Option {
	return func(c *managerConfig) {
		c.pol.RetryBackoff = m
	}
}

func WithAutoRetry(enabled bool) Option {
	return func(c *managerConfig) {
		c.pol.AutoRetry = enabled
	}
}

// WithTimeout bounds each mutation attempt. Zero disables the timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *managerConfig) {
		c.pol.Timeout = d
	}
}

// WithHistory enables confirmed-value history with the given bound.
func WithHistory(maxSize int) Option {
	return func(c *managerConfig) {
		c.pol.KeepHistory = true
		c.pol.MaxHistorySize = maxSize
	}
}

// WithoutHistory disables confirmed-value history and Undo.
func WithoutHistory() Option {
	return func(c *managerConfig) {
		c.pol.KeepHistory = false
	}
}

// WithClassifier overrides the error classifier used to decide whether a
// failed mutation is worth retrying.
func WithClassifier(cls classify.Classifier) Option {
	return func(c *managerConfig) {
		c.classifier = cls
	}
}

// WithEngine delegates retry scheduling to eng: the mutation is confirmed
// through the engine's attempt loop and the manager's own backoff is not
// used.
func WithEngine(eng *recovery.Engine) Option {
	return func(c *managerConfig) {
		c.engine = eng
	}
}

// WithLogger sets the logger used to report panicking subscribers.
func WithLogger(logger *slog.Logger) Option {
	return func(c *managerConfig) {
		c.logger = logger
	}
}

// WithClock replaces the wall clock, for tests.
func WithClock(f func() time.Time) Option {
	return func(c *managerConfig) {
		c.clock = f
	}
}

// WithSleep replaces the context-aware retry sleep, for tests.
func WithSleep(f func(context.Context, time.Duration) error) Option {
	return func(c *managerConfig) {
		c.sleep = f
	}
}
