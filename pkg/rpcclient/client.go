// Package rpcclient is a small JSON-over-HTTP client for the service's
// admin surface. Every call is timed and traced to a writer so a human
// can follow the exchange; the trace never affects control flow.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"
)

// Request describes one admin call. A nil Body means GET; a non-nil
// Body is serialized as JSON and sent as a POST unless Method says
// otherwise.
type Request struct {
	Method string
	Addr   string
	Path   string
	Body   any
}

// Response carries the outcome of a call. StatusAvailable is true
// whenever an HTTP status line was received, even if the body turned
// out not to be JSON — in that case Body holds the raw text so callers
// can fall back to it.
type Response struct {
	Status          int
	StatusAvailable bool
	Body            any
	Raw             []byte
	Elapsed         time.Duration
}

// Client issues admin requests with a fixed per-request timeout.
type Client struct {
	http  *http.Client
	trace io.Writer
}

// New returns a Client with the given per-request timeout. Trace lines
// go to trace, or stdout when trace is nil.
func New(timeout time.Duration, trace io.Writer) *Client {
	if trace == nil {
		trace = os.Stdout
	}
	return &Client{
		http:  &http.Client{Timeout: timeout},
		trace: trace,
	}
}

// Call performs the request and measures the wall-clock round trip.
// Transport failures are classified into ErrConnectionRefused and
// ErrTimeout. A response whose body cannot be parsed as JSON is
// returned together with ErrMalformedResponse, keeping the raw text
// available.
func (c *Client) Call(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		if req.Body == nil {
			method = http.MethodGet
		} else {
			method = http.MethodPost
		}
	}

	url := "http://" + req.Addr + req.Path

	var reqBody io.Reader
	var rendered string
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
		rendered = string(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	elapsed := time.Since(start)

	if err != nil {
		err = classifyTransportError(err)
		c.tracef("%s %s%s %s -> %v (%v)\n", method, req.Addr, req.Path, rendered, err, elapsed.Round(time.Microsecond))
		return nil, fmt.Errorf("%s http://%s%s: %w", method, req.Addr, req.Path, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	resp := &Response{
		Status:          httpResp.StatusCode,
		StatusAvailable: true,
		Raw:             raw,
		Elapsed:         elapsed,
	}

	if len(raw) > 0 {
		var parsed any
		if jsonErr := json.Unmarshal(raw, &parsed); jsonErr != nil {
			resp.Body = string(raw)
			c.tracef("%s %s%s %s -> %d %s (%v)\n", method, req.Addr, req.Path, rendered,
				resp.Status, string(raw), elapsed.Round(time.Microsecond))
			return resp, fmt.Errorf("%s http://%s%s: %w: %v", method, req.Addr, req.Path, ErrMalformedResponse, jsonErr)
		}
		resp.Body = parsed
	}

	c.tracef("%s %s%s %s -> %d %s (%v)\n", method, req.Addr, req.Path, rendered,
		resp.Status, renderBody(resp.Body), elapsed.Round(time.Microsecond))

	return resp, nil
}

// Get is shorthand for a body-less call.
func (c *Client) Get(ctx context.Context, addr, path string) (*Response, error) {
	return c.Call(ctx, Request{Addr: addr, Path: path})
}

// Post is shorthand for a JSON call.
func (c *Client) Post(ctx context.Context, addr, path string, body any) (*Response, error) {
	return c.Call(ctx, Request{Method: http.MethodPost, Addr: addr, Path: path, Body: body})
}

func (c *Client) tracef(format string, args ...any) {
	fmt.Fprintf(c.trace, format, args...)
}

func renderBody(body any) string {
	if body == nil {
		return "<empty>"
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Sprintf("%v", body)
	}
	return string(data)
}

// classifyTransportError maps transport failures onto the package's
// sentinel errors where a class is recognizable.
func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("%w: %v", ErrConnectionRefused, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
