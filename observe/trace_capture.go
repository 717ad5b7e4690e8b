package observe

import (
	"context"
	"sync/atomic"
)

// TraceCapture holds a captured trace after execution completes.
//
// Trace() returns nil until the call completes (or if capture is not used).
type TraceCapture struct {
	tr atomic.Pointer[Trace]
}

// Trace returns the captured trace, or nil if not yet populated.
// It is thread-safe.
func (c *TraceCapture) Trace() *Trace {
	if c == nil {
		return nil
	}
	return c.tr.Load()
}

// store is unexported to discourage direct mutation.
// Use StoreTraceCapture to set this from other packages.
func (c *TraceCapture) store(tr *Trace) {
	if c == nil || tr == nil {
		return
	}
	c.tr.Store(tr)
}

type traceCaptureKey struct{}

// RecordTrace returns a derived context that requests trace capture for the
// next call, plus a holder for retrieving the completed trace.
func RecordTrace(ctx context.Context) (context.Context, *TraceCapture) {
	if ctx == nil {
		ctx = context.Background()
	}
	capture := &TraceCapture{}
	return context.WithValue(ctx, traceCaptureKey{}, capture), capture
}

// TraceCaptureFromContext returns the capture (if requested).
//
// This is primarily used by the recovery engine.
func TraceCaptureFromContext(ctx context.Context) (*TraceCapture, bool) {
	if ctx == nil {
		return nil, false
	}
	switch v := ctx.Value(traceCaptureKey{}).(type) {
	case *TraceCapture:
		return v, v != nil
	default:
		return nil, false
	}
}

type disabledTraceCapture struct{}

// WithoutTraceCapture disables trace capture in derived contexts.
//
// The recovery engine uses this when constructing the per-attempt context
// passed to op, to prevent nested calls from accidentally reusing the same
// capture.
func WithoutTraceCapture(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceCaptureKey{}, disabledTraceCapture{})
}

// StoreTraceCapture publishes the finished trace into the capture.
//
// This is primarily used by the recovery engine.
func StoreTraceCapture(capture *TraceCapture, tr *Trace) {
	if capture == nil {
		return
	}
	capture.store(tr)
}
