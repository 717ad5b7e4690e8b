package circuit

import (
	"sync"

	"github.com/reprise-io/reprise/policy"
)

// Registry manages circuit breakers for different policy keys. Call sites
// that must share breaker state share the registry (or a breaker) explicitly;
// there is no implicit global breaker.
type Registry struct {
	mu       sync.RWMutex
	breakers map[policy.PolicyKey]CircuitBreaker
}

// NewRegistry creates a new circuit breaker registry.
func NewRegistry() *Registry {
	return &Registry{
		breakers: make(map[policy.PolicyKey]CircuitBreaker),
	}
}

// Get returns an existing breaker or creates a new one for the given policy.
func (r *Registry) Get(key policy.PolicyKey, config policy.CircuitPolicy) CircuitBreaker {
	if !config.Enabled {
		return nil
	}

	r.mu.RLock()
	cb, ok := r.breakers[key]
	r.mu.RUnlock()

	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double check
	if cb, ok := r.breakers[key]; ok {
		return cb
	}

	cb = NewBreaker(config.Threshold, config.Cooldown)
	r.breakers[key] = cb
	return cb
}

// ResetAll resets every breaker in the registry.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cb := range r.breakers {
		cb.Reset()
	}
}
