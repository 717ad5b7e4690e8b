// Package reprise is the front door to the module: a shared default recovery
// engine plus thin wrappers over it. Applications that need more than one
// policy build their own engines with the recovery package.
package reprise

import (
	"context"
	"log"
	"sync"

	"github.com/reprise-io/reprise/policy"
	"github.com/reprise-io/reprise/recovery"
)

// Key is the structured form of a policy key.
type Key = policy.PolicyKey

// ParseKey parses "namespace.name" into a Key.
func ParseKey(s string) Key { return policy.ParseKey(s) }

var (
	defaultEng  *recovery.Engine
	defaultOnce sync.Once
)

// Default returns the shared, lazily-initialized default engine. It uses
// recovery.New() when Init has not been called.
func Default() *recovery.Engine {
	defaultOnce.Do(func() {
		if defaultEng == nil {
			defaultEng = recovery.New()
		}
	})
	return defaultEng
}

// Init sets the shared default engine. It must be called before Do or
// DoValue are used (e.g. at startup); calling it after the default engine
// has been initialized logs a warning and does nothing.
func Init(eng *recovery.Engine) {
	if eng == nil {
		return
	}

	if defaultEng != nil {
		log.Printf("reprise: Init called after default engine already initialized; ignoring.")
		return
	}

	defaultOnce.Do(func() {
		defaultEng = eng
	})
}

// Do executes op through the default engine.
func Do(ctx context.Context, op recovery.Operation, opts ...recovery.CallOption) error {
	return Default().Do(ctx, op, opts...)
}

// DoValue executes op through the default engine.
func DoValue[T any](ctx context.Context, op recovery.OperationValue[T], opts ...recovery.CallOption) (T, error) {
	return recovery.Execute(ctx, Default(), op, opts...)
}
