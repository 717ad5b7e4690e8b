// Package metrics exports recovery and optimistic-update activity as
// Prometheus collectors.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/reprise-io/reprise/observe"
	"github.com/reprise-io/reprise/optimistic"
	"github.com/reprise-io/reprise/policy"
)

// Observer implements observe.Observer on top of a Prometheus registerer.
// All collectors are registered at construction time; a nil registerer uses
// the default one.
type Observer struct {
	callsStarted  *prometheus.CounterVec
	callsTotal    *prometheus.CounterVec
	attemptsTotal *prometheus.CounterVec
	failuresTotal *prometheus.CounterVec
	circuitOpen   *prometheus.CounterVec

	attemptDuration *prometheus.HistogramVec
	backoffSeconds  *prometheus.HistogramVec
}

// NewObserver creates an Observer and registers its collectors on reg.
func NewObserver(reg prometheus.Registerer) *Observer {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Observer{
		callsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reprise_calls_started_total",
			Help: "Calls entered into the recovery loop",
		}, []string{"policy"}),
		callsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reprise_calls_total",
			Help: "Finished calls by outcome",
		}, []string{"policy", "outcome"}),
		attemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reprise_attempts_total",
			Help: "Individual attempts by outcome",
		}, []string{"policy", "outcome"}),
		failuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reprise_attempt_failures_total",
			Help: "Failed attempts by error category",
		}, []string{"policy", "category"}),
		circuitOpen: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reprise_circuit_open_total",
			Help: "Calls rejected by an open circuit breaker",
		}, []string{"policy"}),
		attemptDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reprise_attempt_duration_seconds",
			Help:    "Wall time of individual attempts",
			Buckets: prometheus.DefBuckets,
		}, []string{"policy"}),
		backoffSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reprise_backoff_seconds",
			Help:    "Backoff waits scheduled between attempts",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"policy"}),
	}
}

func (o *Observer) OnStart(_ context.Context, key policy.PolicyKey, _ policy.EffectivePolicy) {
	o.callsStarted.WithLabelValues(key.String()).Inc()
}

func (o *Observer) OnAttempt(_ context.Context, key policy.PolicyKey, rec observe.AttemptRecord) {
	k := key.String()
	if rec.Err == nil {
		o.attemptsTotal.WithLabelValues(k, "success").Inc()
	} else {
		o.attemptsTotal.WithLabelValues(k, "failure").Inc()
		o.failuresTotal.WithLabelValues(k, string(rec.Class.Category)).Inc()
	}
	if !rec.EndTime.IsZero() && !rec.StartTime.IsZero() {
		o.attemptDuration.WithLabelValues(k).Observe(rec.EndTime.Sub(rec.StartTime).Seconds())
	}
	if rec.Backoff > 0 {
		o.backoffSeconds.WithLabelValues(k).Observe(rec.Backoff.Seconds())
	}
}

func (o *Observer) OnProgress(_ context.Context, key policy.PolicyKey, p observe.Progress) {
	if p.State == observe.StateCircuitOpen {
		o.circuitOpen.WithLabelValues(key.String()).Inc()
	}
}

func (o *Observer) OnSuccess(_ context.Context, key policy.PolicyKey, _ observe.Trace) {
	o.callsTotal.WithLabelValues(key.String(), "success").Inc()
}

func (o *Observer) OnFailure(_ context.Context, key policy.PolicyKey, _ observe.Trace) {
	o.callsTotal.WithLabelValues(key.String(), "failure").Inc()
}

// UpdateCollector counts optimistic update transitions. Plug the listener
// returned by Listener into Manager.Subscribe.
type UpdateCollector struct {
	updates *prometheus.CounterVec
	retries prometheus.Counter
}

// NewUpdateCollector creates an UpdateCollector registered on reg, labelling
// update counts by the given manager name.
func NewUpdateCollector(reg prometheus.Registerer) *UpdateCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &UpdateCollector{
		updates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reprise_updates_total",
			Help: "Optimistic update transitions by manager and status",
		}, []string{"manager", "status"}),
		retries: factory.NewCounter(prometheus.CounterOpts{
			Name: "reprise_update_retries_total",
			Help: "Automatic retries of failed optimistic mutations",
		}),
	}
}

// Listener returns a subscriber that records every transition of updates on a
// single manager. A pending transition with a nonzero retry count marks the
// start of an automatic retry.
func Listener[T any](c *UpdateCollector, manager string) func(optimistic.Update[T]) {
	return func(u optimistic.Update[T]) {
		c.updates.WithLabelValues(manager, string(u.Status)).Inc()
		if u.Status == optimistic.StatusPending && u.RetryCount > 0 {
			c.retries.Inc()
		}
	}
}
