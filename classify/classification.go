package classify

import "time"

// Category is the failure taxonomy assigned by a classifier, never by the
// caller.
type Category string

const (
	CategoryNetwork     Category = "network"
	CategoryRateLimited Category = "rate-limited"
	CategoryAuth        Category = "auth"
	CategoryValidation  Category = "validation"
	CategoryServer      Category = "server"
	CategoryUnknown     Category = "unknown"
)

// Severity grades how loudly a failure should surface to the user.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Strategy is the recommended handling for a non-recoverable failure.
type Strategy string

const (
	// StrategyRetry: wait and try again.
	StrategyRetry Strategy = "retry"
	// StrategyRedirect: credentials are bad; send the user to sign in.
	StrategyRedirect Strategy = "redirect"
	// StrategyManual: the request itself is wrong; the caller must correct it.
	StrategyManual Strategy = "manual"
	// StrategyFallback: nothing automated will help; degrade gracefully.
	StrategyFallback Strategy = "fallback"
	// StrategyAbort: the caller cancelled; stop immediately.
	StrategyAbort Strategy = "abort"
)

// Classification is the derived verdict for one error. It is a pure function
// of the error and carries no state.
type Classification struct {
	Category    Category
	Severity    Severity
	Recoverable bool
	Strategy    Strategy

	// RetryDelay is the minimum delay the classifier suggests before the next
	// attempt. The engine takes the max of this and its computed backoff.
	RetryDelay time.Duration
}

func (c Classification) IsNetworkError() bool { return c.Category == CategoryNetwork }
func (c Classification) IsRateLimited() bool { return c.Category == CategoryRateLimited }
func (c Classification) IsAuthError() bool { return c.Category == CategoryAuth }
func (c Classification) IsValidationError() bool { return c.Category == CategoryValidation }
func (c Classification) IsServerError() bool { return c.Category == CategoryServer }

// Classifier maps an error to a Classification. Implementations must be
// deterministic: the same error always yields the same classification.
type Classifier interface {
	Classify(err error) Classification
}

// Func adapts a plain function to the Classifier interface.
type Func func(err error) Classification

func (f Func) Classify(err error) Classification { return f(err) }
