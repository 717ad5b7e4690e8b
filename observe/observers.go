package observe

import (
	"context"

	"github.com/reprise-io/reprise/policy"
)

// BaseObserver implements Observer with no-op methods.
//
// Users can embed BaseObserver to implement only the callbacks they need.
type BaseObserver struct{}

func (BaseObserver) OnStart(context.Context, policy.PolicyKey, policy.EffectivePolicy) {}
func (BaseObserver) OnAttempt(context.Context, policy.PolicyKey, AttemptRecord)        {}
func (BaseObserver) OnProgress(context.Context, policy.PolicyKey, Progress)            {}
func (BaseObserver) OnSuccess(context.Context, policy.PolicyKey, Trace)                {}
func (BaseObserver) OnFailure(context.Context, policy.PolicyKey, Trace)                {}

// MultiObserver fans out events to multiple observers.
type MultiObserver struct {
	Observers []Observer
}

func (m MultiObserver) OnStart(ctx context.Context, key policy.PolicyKey, pol policy.EffectivePolicy) {
	for _, o := range m.Observers {
		if o != nil {
			o.OnStart(ctx, key, pol)
		}
	}
}

func (m MultiObserver) OnAttempt(ctx context.Context, key policy.PolicyKey, rec AttemptRecord) {
	for _, o := range m.Observers {
		if o != nil {
			o.OnAttempt(ctx, key, rec)
		}
	}
}

func (m MultiObserver) OnProgress(ctx context.Context, key policy.PolicyKey, p Progress) {
	for _, o := range m.Observers {
		if o != nil {
			o.OnProgress(ctx, key, p)
		}
	}
}

func (m MultiObserver) OnSuccess(ctx context.Context, key policy.PolicyKey, tr Trace) {
	for _, o := range m.Observers {
		if o != nil {
			o.OnSuccess(ctx, key, tr)
		}
	}
}

func (m MultiObserver) OnFailure(ctx context.Context, key policy.PolicyKey, tr Trace) {
	for _, o := range m.Observers {
		if o != nil {
			o.OnFailure(ctx, key, tr)
		}
	}
}
