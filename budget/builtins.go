package budget

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/reprise-io/reprise/policy"
)

// Unlimited allows every attempt.
type Unlimited struct{}

func (Unlimited) AllowAttempt(_ context.Context, _ policy.PolicyKey, _ int, _ policy.BudgetRef) Decision {
	return Decision{Allowed: true, Reason: ReasonAllowed}
}

// TokenBucket is a simple token-bucket retry budget.
//
// It starts full (capacity tokens) and refills at refillPerSecond
// tokens/second. Each attempt consumes ref.Cost tokens (defaulting to 1).
type TokenBucket struct {
	mu sync.Mutex

	capacity        float64
	refillPerSecond float64

	tokens float64
	last   time.Time
}

func NewTokenBucket(capacity int, refillPerSecond float64) *TokenBucket {
	if capacity < 0 {
		capacity = 0
	}
	if refillPerSecond < 0 {
		refillPerSecond = 0
	}
	if math.IsNaN(refillPerSecond) || math.IsInf(refillPerSecond, 0) {
		refillPerSecond = 0
	}
	return &TokenBucket{
		capacity:        float64(capacity),
		refillPerSecond: refillPerSecond,
		tokens:          float64(capacity),
		last:            time.Now(),
	}
}

func (b *TokenBucket) AllowAttempt(_ context.Context, _ policy.PolicyKey, _ int, ref policy.BudgetRef) Decision {
	if b == nil {
		return Decision{Allowed: false, Reason: ReasonBudgetNil}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	// Sanity check state
	if math.IsNaN(b.tokens) || math.IsInf(b.tokens, 0) {
		b.tokens = 0
	}

	if b.last.IsZero() {
		b.tokens = b.capacity
		b.last = now
	} else if b.refillPerSecond > 0 && !now.Before(b.last) {
		elapsed := now.Sub(b.last).Seconds()
		added := elapsed * b.refillPerSecond
		if math.IsNaN(added) || math.IsInf(added, 0) || added < 0 {
			added = 0
		}

		b.tokens += added
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.last = now
	} else {
		// Advance last on skew or no refill.
		b.last = now
	}

	cost := 1
	if ref.Cost > 0 {
		cost = ref.Cost
	}
	need := float64(cost)
	if need <= 0 {
		need = 1
	}

	if b.tokens >= need {
		b.tokens -= need
		return Decision{Allowed: true, Reason: ReasonAllowed}
	}
	return Decision{Allowed: false, Reason: ReasonBudgetDenied}
}
