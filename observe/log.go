package observe

import (
	"context"
	"log/slog"

	"github.com/reprise-io/reprise/policy"
)

// LogObserver emits structured log records for recovery lifecycle events.
type LogObserver struct {
	BaseObserver

	logger *slog.Logger
}

// NewLogObserver returns an observer logging through logger.
// A nil logger falls back to slog.Default.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger}
}

func (l *LogObserver) OnStart(ctx context.Context, key policy.PolicyKey, pol policy.EffectivePolicy) {
	l.logger.LogAttrs(ctx, slog.LevelDebug, "recovery started",
		slog.String("key", key.String()),
		slog.Int("max_attempts", pol.Retry.MaxAttempts),
	)
}

func (l *LogObserver) OnAttempt(ctx context.Context, key policy.PolicyKey, rec AttemptRecord) {
	if rec.Err == nil {
		l.logger.LogAttrs(ctx, slog.LevelDebug, "attempt succeeded",
			slog.String("key", key.String()),
			slog.Int("attempt", rec.Attempt),
		)
		return
	}
	l.logger.LogAttrs(ctx, slog.LevelWarn, "attempt failed",
		slog.String("key", key.String()),
		slog.Int("attempt", rec.Attempt),
		slog.String("category", string(rec.Class.Category)),
		slog.Bool("recoverable", rec.Class.Recoverable),
		slog.Any("error", rec.Err),
	)
}

func (l *LogObserver) OnProgress(ctx context.Context, key policy.PolicyKey, p Progress) {
	l.logger.LogAttrs(ctx, slog.LevelInfo, "recovery progress",
		slog.String("key", key.String()),
		slog.String("state", string(p.State)),
		slog.Int("attempt", p.Attempt),
		slog.Int("max_attempts", p.MaxAttempts),
		slog.Duration("next_delay", p.NextDelay),
		slog.String("message", p.Message),
	)
}

func (l *LogObserver) OnSuccess(ctx context.Context, key policy.PolicyKey, tr Trace) {
	l.logger.LogAttrs(ctx, slog.LevelInfo, "recovery succeeded",
		slog.String("key", key.String()),
		slog.Int("attempts", len(tr.Attempts)),
		slog.Duration("elapsed", tr.End.Sub(tr.Start)),
	)
}

func (l *LogObserver) OnFailure(ctx context.Context, key policy.PolicyKey, tr Trace) {
	l.logger.LogAttrs(ctx, slog.LevelError, "recovery failed",
		slog.String("key", key.String()),
		slog.Int("attempts", len(tr.Attempts)),
		slog.Any("error", tr.FinalErr),
	)
}
