// Package optimistic applies local state changes before remote confirmation
// and reconciles them when the authoritative result arrives.
package optimistic

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status tracks an update through its lifecycle.
//
// pending → confirmed (terminal) or failed; failed → pending (retry) or
// rolled-back (terminal).
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled-back"
)

// Update is the record of one optimistic mutation.
type Update[T any] struct {
	ID string

	// PreviousValue is the manager value immediately before this update
	// applied, which may itself be an earlier update's optimistic value.
	PreviousValue   T
	OptimisticValue T

	Status     Status
	Timestamp  time.Time
	RetryCount int
	Err        error
}

// MutationFunc performs the remote mutation and returns the server's
// authoritative value.
type MutationFunc[T any] func(ctx context.Context, optimistic T) (T, error)

var (
	ErrUpdateNotFound  = errors.New("reprise: update not found")
	ErrUpdateNotFailed = errors.New("reprise: update is not in the failed state")
)

// TimeoutError is the synthetic failure for a mutation that did not settle
// within the configured timeout. Any result the mutation later produces is
// discarded.
type TimeoutError struct {
	ID      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("reprise: mutation %s timed out after %s", e.ID, e.Timeout)
}

// Result is returned by Apply and RetryUpdate once the update settles. The
// Retry and Rollback methods are bound to the originating update's id.
type Result[T any] struct {
	// Update is a snapshot of the record at settle time.
	Update Update[T]

	// Value is the manager's value observed when the result was produced.
	Value T

	mgr      *Manager[T]
	mutation MutationFunc[T]
}

// Pending reports whether the update had not settled when the result was
// produced.
func (r *Result[T]) Pending() bool {
	return r.Update.Status == StatusPending
}

// Retry re-runs the mutation for this update. It fails with
// ErrUpdateNotFound once the update has reached a terminal state.
func (r *Result[T]) Retry(ctx context.Context) (*Result[T], error) {
	return r.mgr.RetryUpdate(ctx, r.Update.ID, r.mutation)
}

// Rollback forces the update into the rolled-back state. Safe to call on
// settled updates.
func (r *Result[T]) Rollback() {
	r.mgr.Rollback(r.Update.ID)
}
