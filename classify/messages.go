package classify

// Message returns a short user-facing description for a classification,
// suitable for surfacing next to a failed action.
func Message(c Classification) string {
	switch c.Category {
	case CategoryNetwork:
		return "Connection problem. Check your network and try again."
	case CategoryRateLimited:
		return "Too many requests. Please wait a moment before retrying."
	case CategoryAuth:
		return "Your session has expired. Please sign in again."
	case CategoryValidation:
		return "The request was invalid and could not be completed."
	case CategoryServer:
		return "The server hit a problem. Your change will be retried."
	default:
		return "Something went wrong."
	}
}

// Suggestion returns a short actionable hint matching the classification's
// strategy.
func Suggestion(c Classification) string {
	switch c.Strategy {
	case StrategyRetry:
		return "Retrying automatically."
	case StrategyRedirect:
		return "Sign in to continue."
	case StrategyManual:
		return "Review your input and try again."
	case StrategyAbort:
		return "The operation was cancelled."
	default:
		return "Try again later."
	}
}
