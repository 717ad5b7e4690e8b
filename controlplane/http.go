package controlplane

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/reprise-io/reprise/policy"
)

// HTTPSource fetches policies from a control-plane HTTP endpoint.
//
// Fetches are retried with exponential backoff; 404 responses are treated as
// ErrPolicyNotFound and not retried.
type HTTPSource struct {
	baseURL    string
	client     *http.Client
	maxRetries uint64
	maxElapsed time.Duration
}

// HTTPSourceOption configures an HTTPSource.
type HTTPSourceOption func(*HTTPSource)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(client *http.Client) HTTPSourceOption {
	return func(s *HTTPSource) {
		if client != nil {
			s.client = client
		}
	}
}

// WithFetchRetries sets how many times a failed fetch is retried. Default 3.
func WithFetchRetries(n uint64) HTTPSourceOption {
	return func(s *HTTPSource) {
		s.maxRetries = n
	}
}

// WithFetchTimeout bounds the total time spent on one fetch including
// retries. Default 10 seconds.
func WithFetchTimeout(d time.Duration) HTTPSourceOption {
	return func(s *HTTPSource) {
		if d > 0 {
			s.maxElapsed = d
		}
	}
}

// NewHTTPSource creates a Source that issues
// GET {baseURL}/policies/{namespace}/{name} requests.
func NewHTTPSource(baseURL string, opts ...HTTPSourceOption) *HTTPSource {
	s := &HTTPSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: 5 * time.Second},
		maxRetries: 3,
		maxElapsed: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetPolicy implements Source.
func (s *HTTPSource) GetPolicy(ctx context.Context, key policy.PolicyKey) (policy.EffectivePolicy, error) {
	endpoint := fmt.Sprintf("%s/policies/%s/%s",
		s.baseURL, url.PathEscape(key.Namespace), url.PathEscape(key.Name))

	var pol policy.EffectivePolicy

	fetch := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrPolicyFetchFailed, err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			if err := json.NewDecoder(resp.Body).Decode(&pol); err != nil {
				return backoff.Permanent(fmt.Errorf("%w: decoding response: %v", ErrPolicyFetchFailed, err))
			}
			return nil
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(ErrPolicyNotFound)
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			io.Copy(io.Discard, resp.Body)
			return backoff.Permanent(fmt.Errorf("%w: status %d", ErrPolicyFetchFailed, resp.StatusCode))
		default:
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("%w: status %d", ErrPolicyFetchFailed, resp.StatusCode)
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = s.maxElapsed

	err := backoff.Retry(fetch, backoff.WithContext(backoff.WithMaxRetries(bo, s.maxRetries), ctx))
	if err != nil {
		return policy.EffectivePolicy{}, err
	}

	pol.Key = key
	pol.Meta.Source = policy.PolicySourceRemote
	return pol, nil
}
