package observe

import (
	"context"

	"github.com/reprise-io/reprise/policy"
)

// NoopObserver implements Observer with no-op methods.
type NoopObserver struct{}

func (NoopObserver) OnStart(context.Context, policy.PolicyKey, policy.EffectivePolicy) {}
func (NoopObserver) OnAttempt(context.Context, policy.PolicyKey, AttemptRecord)        {}
func (NoopObserver) OnProgress(context.Context, policy.PolicyKey, Progress)            {}
func (NoopObserver) OnSuccess(context.Context, policy.PolicyKey, Trace)                {}
func (NoopObserver) OnFailure(context.Context, policy.PolicyKey, Trace)                {}
