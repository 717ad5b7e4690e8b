package classify

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Built-in classifier registry names.
const (
	ClassifierMessage = "message"
	ClassifierStatus  = "status"
	ClassifierAuto    = "auto"
)

// Suggested retry delays per category. Rate limits back off much longer than
// transient network blips.
const (
	NetworkRetryDelay   = 2 * time.Second
	RateLimitRetryDelay = 60 * time.Second
	ServerRetryDelay    = 5 * time.Second
	UnknownRetryDelay   = 3 * time.Second
)

// RegisterBuiltins registers the core classifiers into reg.
func RegisterBuiltins(reg *Registry) {
	if reg == nil {
		return
	}
	reg.Register(ClassifierMessage, MessageClassifier{})
	reg.Register(ClassifierStatus, StatusClassifier{})
	reg.Register(ClassifierAuto, AutoClassifier{})
}

// MessageClassifier classifies an error by inspecting its message. Rules are
// applied in a fixed order and the first match wins:
//
//	network/connection/timeout → retryable
//	rate limiting (429)        → retryable, long delay
//	auth (401/403)             → not retryable, redirect to login
//	validation (400/invalid)   → not retryable, manual correction
//	server (5xx)               → retryable
//	anything else              → not retryable, fallback
//
// The auth and validation rules sit before the server rule so that a response
// describing both a client mistake and a server symptom is treated as the
// client's problem rather than retried forever.
type MessageClassifier struct{}

func (MessageClassifier) Classify(err error) Classification {
	if err == nil {
		return Classification{Category: CategoryUnknown, Severity: SeverityInfo, Strategy: StrategyFallback}
	}
	if errors.Is(err, context.Canceled) {
		return Classification{
			Category: CategoryUnknown,
			Severity: SeverityInfo,
			Strategy: StrategyAbort,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return networkClassification()
	}

	msg := strings.ToLower(err.Error())

	switch {
	case containsAny(msg, "network", "connection", "timeout", "timed out",
		"econnrefused", "econnreset", "no such host", "broken pipe", "fetch"):
		return networkClassification()

	case containsAny(msg, "429", "too many requests", "rate limit", "ratelimit", "quota"):
		return Classification{
			Category:    CategoryRateLimited,
			Severity:    SeverityWarning,
			Recoverable: true,
			Strategy:    StrategyRetry,
			RetryDelay:  RateLimitRetryDelay,
		}

	case containsAny(msg, "401", "403", "unauthorized", "forbidden", "authentication"):
		return Classification{
			Category: CategoryAuth,
			Severity: SeverityError,
			Strategy: StrategyRedirect,
		}

	case containsAny(msg, "400", "422", "invalid", "validation", "malformed", "bad request"):
		return Classification{
			Category: CategoryValidation,
			Severity: SeverityError,
			Strategy: StrategyManual,
		}

	case containsAny(msg, "500", "502", "503", "504", "internal server", "server error",
		"bad gateway", "service unavailable"):
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

func networkClassification() Classification {
	return Classification{
		Category:    CategoryNetwork,
		Severity:    SeverityWarning,
		Recoverable: true,
		Strategy:    StrategyRetry,
		RetryDelay:  NetworkRetryDelay,
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// AutoClassifier prefers the typed StatusClassifier when the error carries a
// status code, and falls back to message inspection otherwise.
type AutoClassifier struct{}

func (AutoClassifier) Classify(err error) Classification {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return StatusClassifier{}.Classify(err)
	}
	return MessageClassifier{}.Classify(err)
}
