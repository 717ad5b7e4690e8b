package recovery

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/reprise-io/reprise/classify"
	"github.com/reprise-io/reprise/observe"
	"github.com/reprise-io/reprise/policy"
)

// CircuitOpenError is returned when the breaker rejects an attempt.
type CircuitOpenError struct {
	Key     policy.PolicyKey
	ResetIn time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("reprise: circuit breaker open for %s, retry in %s", e.Key, e.ResetIn)
}

// CallOption adjusts a single Execute or Do call.
type CallOption func(*callConfig)

type callConfig struct {
	retryOn    func(error) bool
	onProgress func(observe.Progress)
}

// WithRetryOn restricts retries to errors the predicate accepts. Errors it
// rejects fail immediately even when classified recoverable.
func WithRetryOn(pred func(error) bool) CallOption {
	return func(c *callConfig) {
		c.retryOn = pred
	}
}

// WithProgress registers a per-call progress callback, invoked synchronously
// from the attempt loop.
func WithProgress(fn func(observe.Progress)) CallOption {
	return func(c *callConfig) {
		c.onProgress = fn
	}
}

// Do runs op through the engine's retry loop.
func (e *Engine) Do(ctx context.Context, op Operation, opts ...CallOption) error {
	_, err := Execute[struct{}](ctx, e, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts...)
	return err
}

// Execute runs op until it succeeds, exhausts the engine's attempts, fails
// with a non-recoverable error, or trips the circuit breaker.
func Execute[T any](ctx context.Context, eng *Engine, op OperationValue[T], opts ...CallOption) (T, error) {
	var zero T
	if ctx == nil {
		ctx = context.Background()
	}
	if eng == nil {
		eng = New()
	}

	var cfg callConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	key := eng.key
	tr := observe.Trace{
		Key:        key,
		PolicyID:   eng.pol.ID,
		Start:      eng.clock(),
		Attributes: map[string]string{},
	}
	eng.observer.OnStart(ctx, key, eng.pol)
	capture, _ := observe.TraceCaptureFromContext(ctx)

	emit := func(p observe.Progress) {
		eng.observer.OnProgress(ctx, key, p)
		if cfg.onProgress != nil {
			cfg.onProgress(p)
		}
	}
	fail := func(err error) (T, error) {
		tr.End = eng.clock()
		tr.FinalErr = err
		eng.observer.OnFailure(ctx, key, tr)
		observe.StoreTraceCapture(capture, &tr)
		return zero, err
	}

	maxAttempts := eng.pol.Retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	var lastBackoff time.Duration

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		if eng.breaker != nil {
			if dec := eng.breaker.Allow(ctx); !dec.Allowed {
				err := &CircuitOpenError{Key: key, ResetIn: dec.ResetIn}
				emit(observe.Progress{
					State:   observe.StateCircuitOpen,
					Attempt: attempt - 1,
					ResetIn: dec.ResetIn,
					Err:     lastErr,
				})
				if lastErr != nil {
					tr.Attributes["circuit_open"] = "true"
				}
				return fail(err)
			}
		}

		var release func()
		if attempt > 1 && eng.budget != nil {
			dec := eng.budget.AllowAttempt(ctx, key, attempt-1, eng.pol.Retry.Budget)
			if !dec.Allowed {
				tr.Attributes["budget_denied"] = dec.Reason
				return fail(lastErr)
			}
			release = dec.Release
		}

		if attempt == 1 {
			emit(observe.Progress{
				State:       observe.StateRecovering,
				Attempt:     1,
				MaxAttempts: maxAttempts,
			})
		}

		attemptCtx := ctx
		cancelAttempt := func() {}
		if eng.pol.Retry.AttemptTimeout > 0 {
			attemptCtx, cancelAttempt = context.WithTimeout(ctx, eng.pol.Retry.AttemptTimeout)
		}
		attemptCtx = observe.WithoutTraceCapture(attemptCtx)
		attemptCtx = observe.WithAttemptInfo(attemptCtx, observe.AttemptInfo{
			RetryIndex: attempt - 1,
			Attempt:    attempt,
			PolicyID:   eng.pol.ID,
		})

		startT := eng.clock()
		var val T
		var err error
		func() {
			defer cancelAttempt()
			if release != nil {
				defer release()
			}
			val, err = op(attemptCtx)
		}()
		endT := eng.clock()

		if err == nil {
			if eng.breaker != nil {
				eng.breaker.RecordSuccess(ctx)
			}
			rec := observe.AttemptRecord{
				Attempt:       attempt,
				StartTime:     startT,
				EndTime:       endT,
				Backoff:       lastBackoff,
				BudgetAllowed: true,
			}
			tr.Attempts = append(tr.Attempts, rec)
			eng.observer.OnAttempt(ctx, key, rec)
			emit(observe.Progress{
				State:       observe.StateRecovered,
				Attempt:     attempt,
				MaxAttempts: maxAttempts,
			})
			tr.End = eng.clock()
			eng.observer.OnSuccess(ctx, key, tr)
			observe.StoreTraceCapture(capture, &tr)
			return val, nil
		}

		class := eng.classifier.Classify(err)
		rec := observe.AttemptRecord{
			Attempt:       attempt,
			StartTime:     startT,
			EndTime:       endT,
			Class:         class,
			Err:           err,
			Backoff:       lastBackoff,
			BudgetAllowed: true,
		}
		tr.Attempts = append(tr.Attempts, rec)
		eng.observer.OnAttempt(ctx, key, rec)

		if eng.breaker != nil {
			eng.breaker.RecordFailure(ctx)
		}
		lastErr = err

		retryable := class.Recoverable && class.Strategy == classify.StrategyRetry
		if retryable && cfg.retryOn != nil && !cfg.retryOn(err) {
			retryable = false
		}

		if !retryable || attempt == maxAttempts {
			emit(observe.Progress{
				State:       observe.StateFailed,
				Attempt:     attempt,
				MaxAttempts: maxAttempts,
				Class:       class,
				Message:     classify.Message(class),
				Suggestion:  classify.Suggestion(class),
				Err:         err,
			})
			return fail(err)
		}

		delay := eng.delayFor(attempt, class)
		lastBackoff = delay
		// Announce the upcoming attempt before sleeping so a UI can show the
		// wait as it happens.
		emit(observe.Progress{
			State:       observe.StateRecovering,
			Attempt:     attempt + 1,
			MaxAttempts: maxAttempts,
			NextDelay:   delay,
			Class:       class,
			Message:     classify.Message(class),
			Suggestion:  classify.Suggestion(class),
			Err:         err,
		})

		if err := eng.sleep(ctx, delay); err != nil {
			return fail(err)
		}
	}

	return fail(lastErr)
}

// delayFor computes the wait before the attempt after attempt: exponential
// backoff floored by the classification's suggested delay, capped at
// MaxDelay, then jittered.
func (e *Engine) delayFor(attempt int, class classify.Classification) time.Duration {
	retry := e.pol.Retry

	d := time.Duration(float64(retry.BaseDelay) * math.Pow(retry.BackoffMultiplier, float64(attempt-1)))
	if d < 0 {
		d = retry.MaxDelay
	}
	if class.RetryDelay > d {
		d = class.RetryDelay
	}
	if retry.MaxDelay > 0 && d > retry.MaxDelay {
		d = retry.MaxDelay
	}
	return applyJitter(d, retry.Jitter, e.rand)
}

func applyJitter(d time.Duration, kind policy.JitterKind, random func() float64) time.Duration {
	if d <= 0 {
		return 0
	}
	switch kind {
	case policy.JitterFull:
		return time.Duration(random() * float64(d))
	case policy.JitterEqual:
		half := float64(d) / 2
		return time.Duration(half + random()*half)
	case policy.JitterProportional:
		return time.Duration(float64(d) * (0.85 + random()*0.3))
	default:
		return d
	}
}
