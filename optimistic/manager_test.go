package optimistic

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reprise-io/reprise/recovery"
)

func echo[T any](ctx context.Context, optimistic T) (T, error) {
	return optimistic, nil
}

func failWith[T any](err error) MutationFunc[T] {
	return func(ctx context.Context, optimistic T) (T, error) {
		var zero T
		return zero, err
	}
}

func noSleep(sleeps *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		if sleeps != nil {
			*sleeps = append(*sleeps, d)
		}
		return nil
	}
}

func TestManager_ApplyConfirms(t *testing.T) {
	m := NewManager(10)

	var transitions []Status
	m.Subscribe(func(u Update[int]) {
		transitions = append(transitions, u.Status)
	})

	res, err := m.Apply(context.Background(), func(v int) int { return v + 1 }, echo[int])
	require.NoError(t, err)

	assert.Equal(t, StatusConfirmed, res.Update.Status)
	assert.False(t, res.Pending())
	assert.Equal(t, 11, m.Value())
	assert.Equal(t, 11, m.ConfirmedValue())
	assert.Equal(t, []Status{StatusPending, StatusConfirmed}, transitions)

	stats := m.Stats()
	assert.Equal(t, 1, stats.Confirmed)
	assert.Equal(t, 1, stats.HistorySize)
	assert.Equal(t, 0, stats.Pending)
}

func TestManager_ConfirmUsesServerValue(t *testing.T) {
	m := NewManager(10)

	res, err := m.Apply(context.Background(), func(v int) int { return v + 1 },
		func(ctx context.Context, optimistic int) (int, error) {
			return 42, nil // authoritative value differs from the guess
		})
	require.NoError(t, err)

	assert.Equal(t, 42, res.Value)
	assert.Equal(t, 42, m.Value())
}

func TestManager_RollbackWhenRetriesDisabled(t *testing.T) {
	m := NewManager(10, WithMaxRetries(0))

	var values []int
	m.Subscribe(func(u Update[int]) {
		values = append(values, m.Value())
	})

	sentinel := errors.New("network error")
	res, err := m.Apply(context.Background(), func(v int) int { return v + 1 }, failWith[int](sentinel))

	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, StatusRolledBack, res.Update.Status)
	assert.Equal(t, 10, m.Value())
	// pending (value 11), failed (still 11), rolled-back (restored 10)
	assert.Equal(t, []int{11, 11, 10}, values)
}

func TestManager_StackDiscipline(t *testing.T) {
	m := NewManager(0, WithAutoRetry(false))
	ctx := context.Background()

	type settled struct {
		res *Result[int]
		err error
	}

	start := func(delta int) (release chan error, done chan settled) {
		started := make(chan struct{})
		release = make(chan error)
		done = make(chan settled, 1)
		go func() {
			res, err := m.Apply(ctx, func(v int) int { return v + delta }, func(ctx context.Context, _ int) (int, error) {
				close(started)
				if err := <-release; err != nil {
					return 0, err
				}
				return m.Value(), nil
			})
			done <- settled{res, err}
		}()
		<-started
		return release, done
	}

	relA, doneA := start(1)   // 0 -> 1
	relB, doneB := start(10)  // 1 -> 11
	relC, doneC := start(100) // 11 -> 111
	assert.Equal(t, 111, m.Value())

	fail := errors.New("network error")

	relC <- fail
	<-doneC
	assert.Equal(t, 11, m.Value(), "rolling back the newest update restores the value underneath it")

	relB <- fail
	<-doneB
	assert.Equal(t, 1, m.Value())

	relA <- fail
	<-doneA
	assert.Equal(t, 0, m.Value(), "stack fully unwound back to the initial value")
}

func TestManager_ConfirmedValueExcludesPending(t *testing.T) {
	m := NewManager(0)
	ctx := context.Background()

	// A confirms with the server's value.
	_, err := m.Apply(ctx, func(v int) int { return v + 1 }, echo[int])
	require.NoError(t, err)

	// B stays pending.
	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		m.Apply(ctx, func(v int) int { return v + 10 }, func(ctx context.Context, optimistic int) (int, error) {
			close(started)
			<-release
			return optimistic, nil
		})
	}()
	<-started

	assert.Equal(t, 11, m.Value())
	assert.Equal(t, 1, m.ConfirmedValue(), "pending update is unwound to the confirmed value")
	close(release)
}

func TestManager_RetryMonotonicity(t *testing.T) {
	var sleeps []time.Duration
	m := NewManager(0,
		WithMaxRetries(2),
		WithRetryDelay(1*time.Second),
		WithRetryBackoff(2),
		WithSleep(noSleep(&sleeps)),
	)

	var retryCounts []int
	m.Subscribe(func(u Update[int]) {
		if u.Status == StatusPending {
			retryCounts = append(retryCounts, u.RetryCount)
		}
	})

	calls := 0
	sentinel := errors.New("network error")
	_, err := m.Apply(context.Background(), func(v int) int { return v + 1 },
		func(ctx context.Context, _ int) (int, error) {
			calls++
			return 0, sentinel
		})

	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls, "first attempt plus two retries")
	assert.Equal(t, []int{0, 1, 2}, retryCounts)
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, sleeps)
	assert.Equal(t, 2, m.Stats().Retries)
	assert.Equal(t, 0, m.Value(), "exhausted retries roll back")
}

func TestManager_RetryDelayGrowth(t *testing.T) {
	var sleeps []time.Duration
	m := NewManager(0,
		WithMaxRetries(4),
		WithRetryDelay(1000*time.Millisecond),
		WithRetryBackoff(2),
		WithSleep(noSleep(&sleeps)),
	)

	_, _ = m.Apply(context.Background(), func(v int) int { return v + 1 },
		failWith[int](errors.New("network error")))

	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	assert.Equal(t, want, sleeps)
}

func TestManager_RetrySucceedsAfterFailures(t *testing.T) {
	m := NewManager(0, WithSleep(noSleep(nil)))

	calls := 0
	res, err := m.Apply(context.Background(), func(v int) int { return v + 1 },
		func(ctx context.Context, optimistic int) (int, error) {
			calls++
			if calls < 3 {
				return 0, errors.New("network error")
			}
			return optimistic, nil
		})

	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, res.Update.Status)
	assert.Equal(t, 2, res.Update.RetryCount)
	assert.Equal(t, 1, m.Value())
}

func TestManager_AuthErrorsNeverAutoRetried(t *testing.T) {
	m := NewManager(0, WithSleep(noSleep(nil)))

	calls := 0
	res, err := m.Apply(context.Background(), func(v int) int { return v + 1 },
		func(ctx context.Context, _ int) (int, error) {
			calls++
			return 0, errors.New("401 unauthorized")
		})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "auth failures bypass the retry loop")
	assert.Equal(t, StatusRolledBack, res.Update.Status)
	assert.Equal(t, 0, m.Value())
}

func TestManager_ValidationErrorsNeverAutoRetried(t *testing.T) {
	m := NewManager(0, WithSleep(noSleep(nil)))

	calls := 0
	_, err := m.Apply(context.Background(), func(v int) int { return v + 1 },
		func(ctx context.Context, _ int) (int, error) {
			calls++
			return 0, errors.New("422 invalid payload")
		})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestManager_MutationTimeout(t *testing.T) {
	m := NewManager(0, WithMaxRetries(0), WithTimeout(20*time.Millisecond))

	_, err := m.Apply(context.Background(), func(v int) int { return v + 1 },
		func(ctx context.Context, _ int) (int, error) {
			select {
			case <-time.After(5 * time.Second):
				return 99, nil
			case <-ctx.Done():
				// Keep hanging past the deadline; the manager must not wait.
				time.Sleep(10 * time.Millisecond)
				return 99, nil
			}
		})

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 20*time.Millisecond, timeoutErr.Timeout)
	assert.Equal(t, 0, m.Value(), "timed-out update rolls back and the late result is discarded")
}

func TestManager_StaleSuccessDiscarded(t *testing.T) {
	m := NewManager(0, WithAutoRetry(false))
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan *Result[int], 1)
	go func() {
		res, _ := m.Apply(ctx, func(v int) int { return v + 1 }, func(ctx context.Context, _ int) (int, error) {
			close(started)
			<-release
			return 55, nil // stale by the time it lands
		})
		done <- res
	}()
	<-started

	// A newer update settles first and owns the current value.
	_, err := m.Apply(ctx, func(v int) int { return 100 }, echo[int])
	require.NoError(t, err)
	require.Equal(t, 100, m.Value())

	close(release)
	res := <-done

	assert.Equal(t, StatusConfirmed, res.Update.Status)
	assert.Equal(t, 100, m.Value(), "overtaken result must not overwrite newer state")
	assert.Equal(t, 1, m.Stats().HistorySize, "stale confirmation pushes no history entry")
}

func TestManager_RollbackAfterOverwriteMarksOnly(t *testing.T) {
	m := NewManager(0, WithAutoRetry(false))
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan error)
	done := make(chan struct{})
	go func() {
		m.Apply(ctx, func(v int) int { return v + 1 }, func(ctx context.Context, _ int) (int, error) {
			close(started)
			return 0, <-release
		})
		close(done)
	}()
	<-started

	_, err := m.Apply(ctx, func(v int) int { return 100 }, echo[int])
	require.NoError(t, err)

	release <- errors.New("network error")
	<-done

	assert.Equal(t, 100, m.Value(), "rolling back an overwritten update must not clobber the newer value")
}

func TestManager_RollbackWhileInFlightStillSettles(t *testing.T) {
	m := NewManager(10, WithAutoRetry(false))
	ctx := context.Background()

	var id string
	m.Subscribe(func(u Update[int]) {
		if u.Status == StatusPending {
			id = u.ID
		}
	})

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan *Result[int], 1)
	go func() {
		res, _ := m.Apply(ctx, func(v int) int { return v + 1 }, func(ctx context.Context, _ int) (int, error) {
			close(started)
			<-release
			return 99, nil
		})
		done <- res
	}()
	<-started

	m.Rollback(id)
	assert.Equal(t, 10, m.Value())

	close(release)
	res := <-done

	require.NotNil(t, res, "a rolled-back update must still yield a settled result")
	assert.Equal(t, StatusRolledBack, res.Update.Status)
	assert.Equal(t, 10, res.Value, "the late server value is discarded")
	assert.Equal(t, 10, m.Value())
}

func TestManager_HistoryBoundAndUndo(t *testing.T) {
	m := NewManager(0, WithHistory(3))
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		server := i * 10
		_, err := m.Apply(ctx, func(v int) int { return server }, func(ctx context.Context, _ int) (int, error) {
			return server, nil
		})
		require.NoError(t, err)
	}

	assert.Equal(t, 3, m.Stats().HistorySize)
	assert.Equal(t, 50, m.Value())

	v, ok := m.Undo()
	require.True(t, ok)
	assert.Equal(t, 50, v)

	v, ok = m.Undo()
	require.True(t, ok)
	assert.Equal(t, 40, v)

	v, ok = m.Undo()
	require.True(t, ok)
	assert.Equal(t, 30, v, "oldest retained entry")

	_, ok = m.Undo()
	assert.False(t, ok, "history exhausted")
	assert.Equal(t, 0, m.Stats().HistorySize)
}

func TestManager_WithoutHistory(t *testing.T) {
	m := NewManager(0, WithoutHistory())

	_, err := m.Apply(context.Background(), func(v int) int { return 1 }, echo[int])
	require.NoError(t, err)

	assert.Equal(t, 0, m.Stats().HistorySize)
	_, ok := m.Undo()
	assert.False(t, ok)
}

func TestManager_ListenerPanicIsolation(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	m := NewManager(0, WithLogger(logger))

	var mu sync.Mutex
	var delivered []Status
	m.Subscribe(func(u Update[int]) {
		panic("listener bug")
	})
	m.Subscribe(func(u Update[int]) {
		mu.Lock()
		delivered = append(delivered, u.Status)
		mu.Unlock()
	})

	_, err := m.Apply(context.Background(), func(v int) int { return v + 1 }, echo[int])
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Status{StatusPending, StatusConfirmed}, delivered,
		"a panicking listener must not block the others")
	assert.Contains(t, buf.String(), "listener panicked")
}

func TestManager_Unsubscribe(t *testing.T) {
	m := NewManager(0)

	calls := 0
	unsubscribe := m.Subscribe(func(u Update[int]) { calls++ })
	unsubscribe()

	_, err := m.Apply(context.Background(), func(v int) int { return v + 1 }, echo[int])
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestManager_ManualRetryGuards(t *testing.T) {
	m := NewManager(0)

	_, err := m.RetryUpdate(context.Background(), "no-such-id", echo[int])
	assert.ErrorIs(t, err, ErrUpdateNotFound)
}

func TestManager_ResultRollbackAfterConfirmIsNoop(t *testing.T) {
	m := NewManager(0)

	res, err := m.Apply(context.Background(), func(v int) int { return 7 }, echo[int])
	require.NoError(t, err)

	res.Rollback()
	assert.Equal(t, 7, m.Value(), "confirmed updates are terminal")
}

func TestManager_EngineDelegation(t *testing.T) {
	eng := recovery.New(
		recovery.WithMaxAttempts(3),
		recovery.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)
	m := NewManager(0, WithEngine(eng))

	calls := 0
	res, err := m.Apply(context.Background(), func(v int) int { return v + 1 },
		func(ctx context.Context, optimistic int) (int, error) {
			calls++
			if calls < 3 {
				return 0, errors.New("network error")
			}
			return optimistic, nil
		})

	require.NoError(t, err)
	assert.Equal(t, 3, calls, "retries ran inside the engine")
	assert.Equal(t, StatusConfirmed, res.Update.Status)
	assert.Equal(t, 0, m.Stats().Retries, "the manager's own retry path stays idle")
}

func TestManager_EngineFailureRollsBack(t *testing.T) {
	eng := recovery.New(
		recovery.WithMaxAttempts(2),
		recovery.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)
	m := NewManager(5, WithEngine(eng))

	sentinel := errors.New("network error")
	res, err := m.Apply(context.Background(), func(v int) int { return v + 1 }, failWith[int](sentinel))

	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, StatusRolledBack, res.Update.Status)
	assert.Equal(t, 5, m.Value())
}

func TestManager_ZeroRetriesHonored(t *testing.T) {
	m := NewManager(0, WithMaxRetries(0), WithSleep(noSleep(nil)))

	calls := 0
	_, err := m.Apply(context.Background(), func(v int) int { return v + 1 },
		func(ctx context.Context, _ int) (int, error) {
			calls++
			return 0, errors.New("network error")
		})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "MaxRetries zero means never retry, not the default")
}

func TestManager_DefaultPolicy(t *testing.T) {
	m := NewManager(0)

	assert.Equal(t, 3, m.pol.MaxRetries)
	assert.Equal(t, 1*time.Second, m.pol.RetryDelay)
	assert.Equal(t, float64(2), m.pol.RetryBackoff)
	assert.True(t, m.pol.AutoRetry)
	assert.Equal(t, 30*time.Second, m.pol.Timeout)
	assert.True(t, m.pol.KeepHistory)
	assert.Equal(t, 50, m.pol.MaxHistorySize)
}

func TestManager_StatsPendingAndFailedCounts(t *testing.T) {
	m := NewManager(0)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		m.Apply(ctx, func(v int) int { return v + 1 }, func(ctx context.Context, optimistic int) (int, error) {
			close(started)
			<-release
			return optimistic, nil
		})
	}()
	<-started

	assert.Equal(t, 1, m.Stats().Pending)
	close(release)
}
