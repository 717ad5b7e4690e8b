package http_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/reprise-io/reprise/classify"
	integration "github.com/reprise-io/reprise/integrations/http"
	"github.com/reprise-io/reprise/policy"
	"github.com/reprise-io/reprise/recovery"
)

func testEngine(opts ...recovery.Option) *recovery.Engine {
	base := []recovery.Option{
		recovery.WithClassifier(classify.AutoClassifier{}),
		recovery.WithSleep(func(context.Context, time.Duration) error { return nil }),
	}
	return recovery.New(append(base, opts...)...)
}

func TestDo_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "Hello")
	}))
	defer server.Close()

	req, _ := http.NewRequest("GET", server.URL, nil)
	resp, _, err := integration.Do(context.Background(), testEngine(), server.Client(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if strings.TrimSpace(string(body)) != "Hello" {
		t.Errorf("got body %q, want Hello", body)
	}
}

func TestDo_RetriesOn503(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "Success")
	}))
	defer server.Close()

	req, _ := http.NewRequest("GET", server.URL, nil)
	resp, tr, err := integration.Do(context.Background(), testEngine(), server.Client(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if len(tr.Attempts) != 3 {
		t.Errorf("attempts=%d, want 3", len(tr.Attempts))
	}
	if resp.StatusCode != 200 {
		t.Errorf("status=%d, want 200", resp.StatusCode)
	}
}

func TestDo_RespectsRetryAfter(t *testing.T) {
	attempts := 0
	var waited []time.Duration
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.Header().Set("Retry-After", "90")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	eng := recovery.New(
		recovery.WithClassifier(classify.AutoClassifier{}),
		recovery.WithMaxDelay(2*time.Minute),
		recovery.WithJitter(policy.JitterNone),
		recovery.WithSleep(func(_ context.Context, d time.Duration) error {
			waited = append(waited, d)
			return nil
		}),
	)

	req, _ := http.NewRequest("GET", server.URL, nil)
	resp, _, err := integration.Do(context.Background(), eng, server.Client(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if len(waited) != 1 || waited[0] != 90*time.Second {
		t.Errorf("waited=%v, want [90s]", waited)
	}
}

func TestDo_RetriesTransportErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := server.Client()
	url := server.URL
	server.Close() // every request now fails to connect

	req, _ := http.NewRequest("GET", url, nil)
	_, tr, err := integration.Do(context.Background(), testEngine(recovery.WithMaxAttempts(2)), client, req)
	if err == nil {
		t.Fatal("expected error")
	}

	var respErr *integration.ResponseError
	if !errors.As(err, &respErr) || respErr.Code != 0 {
		t.Errorf("expected transport ResponseError, got %v", err)
	}
	if len(tr.Attempts) != 2 {
		t.Errorf("attempts=%d, want 2", len(tr.Attempts))
	}
}

func TestDo_ReplaysRequestBody(t *testing.T) {
	var bodies []string
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	req, _ := http.NewRequest("POST", server.URL, bytes.NewReader([]byte(`{"done":true}`)))
	resp, _, err := integration.Do(context.Background(), testEngine(), server.Client(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if len(bodies) != 2 || bodies[0] != bodies[1] || bodies[0] != `{"done":true}` {
		t.Errorf("bodies=%q, want the same payload twice", bodies)
	}
}

func TestDo_RejectsNonReplayableBody(t *testing.T) {
	req, _ := http.NewRequest("POST", "http://example.invalid", nil)
	req.Body = io.NopCloser(strings.NewReader("one-shot"))
	req.GetBody = nil

	_, _, err := integration.Do(context.Background(), testEngine(), http.DefaultClient, req)
	if err == nil || !strings.Contains(err.Error(), "replayable") {
		t.Fatalf("expected replayable-body error, got %v", err)
	}
}

func TestDo_NonRetryableStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	req, _ := http.NewRequest("GET", server.URL, nil)
	_, tr, err := integration.Do(context.Background(), testEngine(), server.Client(), req)
	if err == nil {
		t.Fatal("expected error for 404")
	}

	var respErr *integration.ResponseError
	if !errors.As(err, &respErr) || respErr.Code != 404 {
		t.Errorf("expected 404 ResponseError, got %v", err)
	}
	if len(tr.Attempts) != 1 {
		t.Errorf("attempts=%d, want 1 for a non-retryable status", len(tr.Attempts))
	}
}
