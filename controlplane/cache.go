package controlplane

import (
	"sync"
	"time"

	"github.com/reprise-io/reprise/policy"
)

type cacheEntry struct {
	policy    policy.EffectivePolicy
	expiresAt time.Time

	// missing marks a negative entry: the source reported no policy for
	// this key.
	missing bool
}

// PolicyCache is a TTL cache over policy keys, safe for concurrent use. It
// distinguishes "cached as missing" from "not in the cache at all".
type PolicyCache struct {
	mu      sync.RWMutex
	entries map[policy.PolicyKey]cacheEntry
	nowFn   func() time.Time
}

func NewPolicyCache() *PolicyCache {
	return &PolicyCache{
		entries: make(map[policy.PolicyKey]cacheEntry),
	}
}

// Get reports whether key has a live entry. A hit with missing=true means the
// key was recently looked up and did not exist.
func (c *PolicyCache) Get(key policy.PolicyKey) (pol policy.EffectivePolicy, hit bool, missing bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || c.now().After(entry.expiresAt) {
		return policy.EffectivePolicy{}, false, false
	}
	return entry.policy, true, entry.missing
}

// Set stores pol under key for ttl.
func (c *PolicyCache) Set(key policy.PolicyKey, pol policy.EffectivePolicy, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{
		policy:    pol,
		expiresAt: c.now().Add(ttl),
	}
}

// SetMissing records that key has no policy, for ttl.
func (c *PolicyCache) SetMissing(key policy.PolicyKey, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{
		expiresAt: c.now().Add(ttl),
		missing:   true,
	}
}

// Invalidate drops the entry for key, forcing the next lookup through to the
// source.
func (c *PolicyCache) Invalidate(key policy.PolicyKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *PolicyCache) now() time.Time {
	if c.nowFn != nil {
		return c.nowFn()
	}
	return time.Now()
}
