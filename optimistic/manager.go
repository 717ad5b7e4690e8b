package optimistic

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reprise-io/reprise/classify"
	"github.com/reprise-io/reprise/policy"
	"github.com/reprise-io/reprise/recovery"
)

// Stats is an observability snapshot of a Manager.
type Stats struct {
	// Pending and Failed count updates currently in that state.
	Pending int
	Failed  int

	// Confirmed, RolledBack, and Retries are cumulative.
	Confirmed  int
	RolledBack int
	Retries    int

	HistorySize int
}

type record[T any] struct {
	update Update[T]

	// appliedVersion is the manager version produced by this update's last
	// write to the current value. A record may only restore or confirm the
	// current value while it is still the latest writer.
	appliedVersion uint64
}

type historyEntry[T any] struct {
	id    string
	value T
}

// Manager owns a value of type T and a stack of in-flight optimistic updates
// against it. All methods are safe for concurrent use; updates are applied in
// the order Apply acquires the lock and compose like a stack.
type Manager[T any] struct {
	mu      sync.Mutex
	current T
	version uint64

	updates map[string]*record[T]
	order   []string // ids in application order
	history []historyEntry[T]

	listeners    map[int]func(Update[T])
	nextListener int

	confirmed  int
	rolledBack int
	retries    int

	pol        policy.UpdatePolicy
	classifier classify.Classifier
	engine     *recovery.Engine
	logger     *slog.Logger
	clock      func() time.Time
	sleep      func(context.Context, time.Duration) error
}

// NewManager creates a Manager holding initial.
func NewManager[T any](initial T, opts ...Option) *Manager[T] {
	cfg := managerConfig{pol: policy.DefaultUpdatePolicy()}
	for _, opt := range opts {
		opt(&cfg)
	}

	normalized, err := (policy.EffectivePolicy{Update: cfg.pol}).Normalize()
	if err != nil {
		normalized, _ = (policy.EffectivePolicy{Update: policy.DefaultUpdatePolicy()}).Normalize()
	}

	m := &Manager[T]{
		current:    initial,
		updates:    make(map[string]*record[T]),
		listeners:  make(map[int]func(Update[T])),
		pol:        normalized.Update,
		classifier: cfg.classifier,
		engine:     cfg.engine,
		logger:     cfg.logger,
		clock:      cfg.clock,
		sleep:      cfg.sleep,
	}
	if m.classifier == nil {
		m.classifier = classify.MessageClassifier{}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.clock == nil {
		m.clock = time.Now
	}
	if m.sleep == nil {
		m.sleep = sleepWithContext
	}
	return m
}

// Value returns the current value including pending optimistic mutations.
func (m *Manager[T]) Value() T {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// ConfirmedValue returns the current value with all pending updates unwound,
// walking them in reverse application order and substituting each
// PreviousValue. Confirmed and rolled-back updates are already reflected in
// the current value and are not unwound.
func (m *Manager[T]) ConfirmedValue() T {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := m.current
	for i := len(m.order) - 1; i >= 0; i-- {
		rec, ok := m.updates[m.order[i]]
		if !ok || rec.update.Status != StatusPending {
			continue
		}
		if reflect.DeepEqual(v, rec.update.OptimisticValue) {
			v = rec.update.PreviousValue
		}
	}
	return v
}

// PendingUpdates returns snapshots of the in-flight updates, oldest first.
func (m *Manager[T]) PendingUpdates() []Update[T] {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Update[T], 0, len(m.order))
	for _, id := range m.order {
		if rec, ok := m.updates[id]; ok && rec.update.Status == StatusPending {
			out = append(out, rec.update)
		}
	}
	return out
}

// Stats returns a snapshot of the manager's counters.
func (m *Manager[T]) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		Confirmed:   m.confirmed,
		RolledBack:  m.rolledBack,
		Retries:     m.retries,
		HistorySize: len(m.history),
	}
	for _, rec := range m.updates {
		switch rec.update.Status {
		case StatusPending:
			s.Pending++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

// Subscribe registers a listener invoked synchronously at every status
// transition of every update. The returned function removes it. A panicking
// listener is logged and does not prevent delivery to the others.
func (m *Manager[T]) Subscribe(listener func(Update[T])) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = listener
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *Manager[T]) notify(u Update[T]) {
	m.mu.Lock()
	fns := make([]func(Update[T]), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("optimistic update listener panicked",
						slog.String("update_id", u.ID),
						slog.String("status", string(u.Status)),
						slog.Any("panic", r),
					)
				}
			}()
			fn(u)
		}()
	}
}

// Apply applies updater to the current value synchronously, records a pending
// update, then runs mutation and reconciles its result. It blocks until the
// update settles: confirmed on success, failed and retried while the error is
// recoverable and retries remain, rolled back otherwise. On a terminal
// failure the last mutation error is returned alongside the result.
func (m *Manager[T]) Apply(ctx context.Context, updater func(T) T, mutation MutationFunc[T]) (*Result[T], error) {
	if updater == nil || mutation == nil {
		return nil, errors.New("reprise: updater and mutation are required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	m.mu.Lock()
	id := uuid.NewString()
	prev := m.current
	optimistic := updater(prev)
	m.current = optimistic
	m.version++
	rec := &record[T]{
		update: Update[T]{
			ID:              id,
			PreviousValue:   prev,
			OptimisticValue: optimistic,
			Status:          StatusPending,
			Timestamp:       m.clock(),
		},
		appliedVersion: m.version,
	}
	m.updates[id] = rec
	m.order = append(m.order, id)
	snap := rec.update
	m.mu.Unlock()

	m.notify(snap)

	return m.settle(ctx, id, mutation)
}

// RetryUpdate re-runs the mutation for a failed update: RetryCount is
// incremented, the status returns to pending, and the retry delay
// (RetryDelay × RetryBackoff^(n−1)) is waited before the attempt.
func (m *Manager[T]) RetryUpdate(ctx context.Context, id string, mutation MutationFunc[T]) (*Result[T], error) {
	if mutation == nil {
		return nil, errors.New("reprise: mutation is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if err := m.beginRetry(ctx, id); err != nil {
		return nil, err
	}
	return m.settle(ctx, id, mutation)
}

// Rollback moves an unsettled update to rolled-back and restores its
// PreviousValue, provided the update is still the latest mutator of the
// current value; when a later update has already written on top, only the
// status changes. Calling Rollback on an unknown or settled update is a
// no-op.
func (m *Manager[T]) Rollback(id string) {
	m.mu.Lock()
	rec, ok := m.updates[id]
	if !ok {
		m.mu.Unlock()
		return
	}

	rec.update.Status = StatusRolledBack
	if m.version == rec.appliedVersion {
		m.current = rec.update.PreviousValue
		// Hand the latest-writer position back to the update underneath this
		// one, preserving stack order for further rollbacks.
		m.version = rec.appliedVersion - 1
	}
	m.removeLocked(id)
	m.rolledBack++
	snap := rec.update
	m.mu.Unlock()

	m.notify(snap)
}

// Undo pops the most recent confirmed history entry and restores its value.
// It reports false when history is empty. Undo is independent of the pending
// update machinery.
func (m *Manager[T]) Undo() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) == 0 {
		var zero T
		return zero, false
	}
	entry := m.history[len(m.history)-1]
	m.history = m.history[:len(m.history)-1]
	m.current = entry.value
	m.version++
	return m.current, true
}

// settle drives one mutation attempt plus the automatic retry chain until the
// update reaches a terminal state.
func (m *Manager[T]) settle(ctx context.Context, id string, mutation MutationFunc[T]) (*Result[T], error) {
	for {
		m.mu.Lock()
		rec, ok := m.updates[id]
		if !ok {
			m.mu.Unlock()
			return nil, ErrUpdateNotFound
		}
		optimistic := rec.update.OptimisticValue
		m.mu.Unlock()

		val, err := m.invoke(ctx, id, optimistic, mutation)
		if err == nil {
			return m.confirm(id, val, mutation), nil
		}

		snap := m.markFailed(id, err)
		m.notify(snap)

		if !m.shouldAutoRetry(id, err) {
			m.Rollback(id)
			return m.resultFor(snap, mutation), err
		}

		if retryErr := m.beginRetry(ctx, id); retryErr != nil {
			m.Rollback(id)
			return m.resultFor(snap, mutation), retryErr
		}
	}
}

// invoke runs the mutation, delegating to the recovery engine when one is
// configured and otherwise racing a single attempt against the timeout.
func (m *Manager[T]) invoke(ctx context.Context, id string, optimistic T, mutation MutationFunc[T]) (T, error) {
	if m.engine != nil {
		return recovery.Execute[T](ctx, m.engine, func(ctx context.Context) (T, error) {
			return m.invokeOnce(ctx, id, optimistic, mutation)
		})
	}
	return m.invokeOnce(ctx, id, optimistic, mutation)
}

func (m *Manager[T]) invokeOnce(ctx context.Context, id string, optimistic T, mutation MutationFunc[T]) (T, error) {
	timeout := m.pol.Timeout
	if timeout <= 0 {
		return mutation(ctx, optimistic)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := mutation(attemptCtx, optimistic)
		done <- outcome{v, err}
	}()

	select {
	case out := <-done:
		return out.val, out.err
	case <-attemptCtx.Done():
		var zero T
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		// The attempt's eventual result, if any, is discarded.
		return zero, &TimeoutError{ID: id, Timeout: timeout}
	}
}

// confirm settles a successful mutation. The server value is written and the
// history entry pushed only when this update is still the latest writer; a
// stale result keeps its confirmed status but never overwrites newer state.
func (m *Manager[T]) confirm(id string, serverValue T, mutation MutationFunc[T]) *Result[T] {
	m.mu.Lock()
	rec, ok := m.updates[id]
	if !ok {
		// Rolled back while the mutation was in flight. The server value is
		// discarded; the caller still gets a settled snapshot.
		value := m.current
		m.mu.Unlock()
		return &Result[T]{
			Update:   Update[T]{ID: id, Status: StatusRolledBack},
			Value:    value,
			mgr:      m,
			mutation: mutation,
		}
	}

	rec.update.Status = StatusConfirmed
	rec.update.Err = nil
	if m.version == rec.appliedVersion {
		m.current = serverValue
		m.version++
		rec.appliedVersion = m.version
		if m.pol.KeepHistory {
			m.history = append(m.history, historyEntry[T]{id: id, value: serverValue})
			if max := m.pol.MaxHistorySize; max > 0 && len(m.history) > max {
				m.history = append(m.history[:0:0], m.history[len(m.history)-max:]...)
			}
		}
	}
	m.confirmed++
	m.removeLocked(id)
	snap := rec.update
	value := m.current
	m.mu.Unlock()

	m.notify(snap)
	return &Result[T]{Update: snap, Value: value, mgr: m, mutation: mutation}
}

func (m *Manager[T]) markFailed(id string, err error) Update[T] {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.updates[id]
	if !ok {
		return Update[T]{ID: id, Status: StatusFailed, Err: err}
	}
	rec.update.Status = StatusFailed
	rec.update.Err = err
	return rec.update
}

func (m *Manager[T]) shouldAutoRetry(id string, err error) bool {
	if m.engine != nil {
		// Retrying is the engine's job; a failure here is final.
		return false
	}
	if !m.pol.AutoRetry {
		return false
	}
	class := m.classifier.Classify(err)
	if !class.Recoverable || class.Strategy != classify.StrategyRetry {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.updates[id]
	return ok && rec.update.Status == StatusFailed && rec.update.RetryCount < m.pol.MaxRetries
}

// beginRetry transitions a failed update back to pending and waits the
// backoff delay for the new attempt number.
func (m *Manager[T]) beginRetry(ctx context.Context, id string) error {
	m.mu.Lock()
	rec, ok := m.updates[id]
	if !ok {
		m.mu.Unlock()
		return ErrUpdateNotFound
	}
	if rec.update.Status != StatusFailed {
		m.mu.Unlock()
		return ErrUpdateNotFailed
	}
	rec.update.RetryCount++
	rec.update.Status = StatusPending
	rec.update.Err = nil
	m.retries++
	n := rec.update.RetryCount
	snap := rec.update
	m.mu.Unlock()

	m.notify(snap)

	delay := time.Duration(float64(m.pol.RetryDelay) * math.Pow(m.pol.RetryBackoff, float64(n-1)))
	return m.sleep(ctx, delay)
}

func (m *Manager[T]) resultFor(snap Update[T], mutation MutationFunc[T]) *Result[T] {
	m.mu.Lock()
	if rec, ok := m.updates[snap.ID]; ok {
		snap = rec.update
	} else if snap.Status == StatusFailed {
		// The record was rolled back and removed after this snapshot.
		snap.Status = StatusRolledBack
	}
	value := m.current
	m.mu.Unlock()

	return &Result[T]{Update: snap, Value: value, mgr: m, mutation: mutation}
}

// removeLocked drops id from the pending order and the update map. Callers
// hold m.mu.
func (m *Manager[T]) removeLocked(id string) {
	delete(m.updates, id)
	for i, other := range m.order {
		if other == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
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
