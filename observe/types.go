package observe

import (
	"context"
	"time"

	"github.com/reprise-io/reprise/classify"
	"github.com/reprise-io/reprise/policy"
)

// State describes where a recovery attempt currently stands.
type State string

const (
	StateRecovering  State = "recovering"
	StateRecovered   State = "recovered"
	StateFailed      State = "failed"
	StateCircuitOpen State = "circuit-open"
)

// Progress is a human-facing snapshot of an in-flight recovery, suitable for
// driving UI status lines or log output.
type Progress struct {
	State       State
	Attempt     int
	MaxAttempts int

	// NextDelay is the wait before the next attempt, zero when none is planned.
	NextDelay time.Duration

	// ResetIn is the remaining circuit cooldown when State is StateCircuitOpen.
	ResetIn time.Duration

	Class classify.Classification

	// Message and Suggestion are display strings derived from the
	// classification of the most recent error.
	Message    string
	Suggestion string

	Err error
}

// AttemptRecord describes a single attempt execution.
type AttemptRecord struct {
	Attempt   int
	StartTime time.Time
	EndTime   time.Time

	Class classify.Classification

	Err error

	Backoff time.Duration // backoff before this attempt

	BudgetAllowed bool
	BudgetReason  string
}

// Trace is the structured record of a single call and all of its attempts.
type Trace struct {
	Key      policy.PolicyKey
	PolicyID string
	Start    time.Time
	End      time.Time

	// Attributes holds call-level metadata (policy source, fallbacks,
	// normalization notes, etc.).
	Attributes map[string]string

	Attempts []AttemptRecord
	FinalErr error
}

// Observer receives lifecycle callbacks for a single call.
type Observer interface {
	OnStart(ctx context.Context, key policy.PolicyKey, pol policy.EffectivePolicy)
	OnAttempt(ctx context.Context, key policy.PolicyKey, rec AttemptRecord)
	OnProgress(ctx context.Context, key policy.PolicyKey, p Progress)
	OnSuccess(ctx context.Context, key policy.PolicyKey, tr Trace)
	OnFailure(ctx context.Context, key policy.PolicyKey, tr Trace)
}
