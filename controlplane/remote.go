package controlplane

import (
	"context"
	"errors"
	"time"

	"github.com/reprise-io/reprise/policy"
)

// Source fetches raw policy configuration. Implementations must return
// ErrPolicyNotFound when no policy exists for the key.
type Source interface {
	GetPolicy(ctx context.Context, key policy.PolicyKey) (policy.EffectivePolicy, error)
}

// RemoteProvider caches policies fetched from a Source. Missing policies are
// cached too, with a shorter TTL, so a hot path never hammers the source for
// a key that does not exist.
type RemoteProvider struct {
	source           Source
	cache            *PolicyCache
	cacheTTL         time.Duration
	negativeCacheTTL time.Duration
}

type RemoteProviderOption func(*RemoteProvider)

// WithCacheTTL sets the TTL for successful lookups. Default is one minute.
func WithCacheTTL(ttl time.Duration) RemoteProviderOption {
	return func(p *RemoteProvider) {
		p.cacheTTL = ttl
	}
}

// WithNegativeCacheTTL sets the TTL for missing-policy lookups. Default is
// ten seconds.
func WithNegativeCacheTTL(ttl time.Duration) RemoteProviderOption {
	return func(p *RemoteProvider) {
		p.negativeCacheTTL = ttl
	}
}

func NewRemoteProvider(source Source, opts ...RemoteProviderOption) *RemoteProvider {
	p := &RemoteProvider{
		source:           source,
		cache:            NewPolicyCache(),
		cacheTTL:         1 * time.Minute,
		negativeCacheTTL: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GetEffectivePolicy returns the normalized policy for key, consulting the
// cache before the source. Fetch errors other than ErrPolicyNotFound are
// returned as-is and never cached.
func (p *RemoteProvider) GetEffectivePolicy(ctx context.Context, key policy.PolicyKey) (policy.EffectivePolicy, error) {
	pol, cached, missing := p.cache.Get(key)
	if cached {
		if missing {
			return policy.EffectivePolicy{}, ErrPolicyNotFound
		}
		return pol, nil
	}

	pol, err := p.source.GetPolicy(ctx, key)
	if err != nil {
		if errors.Is(err, ErrPolicyNotFound) {
			p.cache.SetMissing(key, p.negativeCacheTTL)
			return policy.EffectivePolicy{}, ErrPolicyNotFound
		}
		return policy.EffectivePolicy{}, err
	}

	pol.Key = key
	if pol.Meta.Source == "" || pol.Meta.Source == policy.PolicySourceUnknown {
		pol.Meta.Source = policy.PolicySourceRemote
	}

	normalized, err := pol.Normalize()
	if err != nil {
		// A policy that fails normalization is not cached.
		return policy.EffectivePolicy{}, err
	}

	p.cache.Set(key, normalized, p.cacheTTL)
	return normalized, nil
}
