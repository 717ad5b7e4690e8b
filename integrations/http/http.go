// Package http runs HTTP requests through a recovery engine: request cloning
// per attempt, body draining on retryable failures, and status-code
// classification via classify.StatusCoder.
package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/reprise-io/reprise/observe"
	"github.com/reprise-io/reprise/recovery"
)

// drainLimit bounds how much of an error body is read before closing it.
const drainLimit = 4096

// Do executes req through eng, retrying per the engine's policy. The request
// body must be replayable (GetBody set) when present. The returned trace
// covers every attempt of this call.
func Do(ctx context.Context, eng *recovery.Engine, client *http.Client, req *http.Request, opts ...recovery.CallOption) (*http.Response, observe.Trace, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return nil, observe.Trace{}, errors.New("reprise: request body is not replayable (GetBody is nil)")
	}

	op := func(ctx context.Context) (*http.Response, error) {
		outReq := req.Clone(ctx)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			outReq.Body = body
		}

		resp, err := client.Do(outReq)
		if err != nil {
			// Transport failures carry status code 0 so they classify as
			// network errors.
			return nil, &ResponseError{Err: err, Method: req.Method}
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		// Drain a bounded amount and close so the connection can be reused
		// by the next attempt.
		_, _ = io.CopyN(io.Discard, resp.Body, drainLimit)
		resp.Body.Close()

		return nil, &ResponseError{
			Code:   resp.StatusCode,
			Method: req.Method,
			Header: resp.Header,
		}
	}

	ctx, capture := observe.RecordTrace(ctx)
	resp, err := recovery.Execute(ctx, eng, op, opts...)

	var tr observe.Trace
	if t := capture.Trace(); t != nil {
		tr = *t
	}
	return resp, tr, err
}

// ResponseError reports a failed attempt: either a transport error (Code 0)
// or a non-2xx response. It implements classify.StatusCoder and
// classify.RetryAfterer.
type ResponseError struct {
	Code   int
	Method string
	Header http.Header
	Err    error
}

func (e *ResponseError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "http status " + strconv.Itoa(e.Code)
}

func (e *ResponseError) Unwrap() error { return e.Err }

func (e *ResponseError) StatusCode() int { return e.Code }

// RetryAfter parses the Retry-After header, either delay seconds or an HTTP
// date.
func (e *ResponseError) RetryAfter() (time.Duration, bool) {
	if e.Header == nil {
		return 0, false
	}
	s := e.Header.Get("Retry-After")
	if s == "" {
		return 0, false
	}

	if secs, err := strconv.Atoi(s); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}

	if t, err := http.ParseTime(s); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return d, true
	}

	return 0, false
}
