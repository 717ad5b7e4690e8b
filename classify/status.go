package classify

import (
	"errors"
	"fmt"
	"time"
)

// StatusCoder is a classify-owned interface that lets typed errors expose an
// HTTP-like status code without this package importing any transport.
//
// Implementations should use status code 0 for transport-level failures.
type StatusCoder interface {
	StatusCode() int
}

// RetryAfterer optionally exposes a server-provided retry hint.
type RetryAfterer interface {
	RetryAfter() (time.Duration, bool)
}

// StatusError is a ready-made error carrying a status code, for callers whose
// mutation functions talk to HTTP-ish backends.
type StatusError struct {
	Code    int
	Message string
	After   time.Duration // server-provided Retry-After, zero if absent
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("status %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("status %d", e.Code)
}

func (e *StatusError) StatusCode() int { return e.Code }

func (e *StatusError) RetryAfter() (time.Duration, bool) {
	return e.After, e.After > 0
}

// StatusClassifier classifies errors implementing StatusCoder by code. Errors
// without a status code are classified as unknown with reason to fall back.
type StatusClassifier struct{}

func (StatusClassifier) Classify(err error) Classification {
	if err == nil {
		return Classification{Category: CategoryUnknown, Severity: SeverityInfo, Strategy: StrategyFallback}
	}

	var sc StatusCoder
	if !errors.As(err, &sc) {
		return Classification{
			Category:   CategoryUnknown,
			Severity:   SeverityError,
			Strategy:   StrategyFallback,
			RetryDelay: UnknownRetryDelay,
		}
	}

	c := classifyStatus(sc.StatusCode())
	var ra RetryAfterer
	if errors.As(err, &ra) && c.Recoverable {
		if d, present := ra.RetryAfter(); present && d > c.RetryDelay {
			c.RetryDelay = d
		}
	}
	return c
}

func classifyStatus(code int) Classification {
	switch {
	case code == 0, code == 408:
		return networkClassification()
	case code == 429:
		return Classification{
			Category:    CategoryRateLimited,
			Severity:    SeverityWarning,
			Recoverable: true,
			Strategy:    StrategyRetry,
			RetryDelay:  RateLimitRetryDelay,
		}
	case code == 401, code == 403:
		return Classification{
			Category: CategoryAuth,
			Severity: SeverityError,
			Strategy: StrategyRedirect,
		}
	case code >= 400 && code < 500:
		return Classification{
			Category: CategoryValidation,
			Severity: SeverityError,
			Strategy: StrategyManual,
		}
	case code >= 500 && code < 600:
		return Classification{
			Category:    CategoryServer,
			Severity:    SeverityError,
			Recoverable: true,
			Strategy:    StrategyRetry,
			RetryDelay:  ServerRetryDelay,
		}
	default:
		return Classification{
			Category:   CategoryUnknown,
			Severity:   SeverityError,
			Strategy:   StrategyFallback,
			RetryDelay: UnknownRetryDelay,
		}
	}
}
