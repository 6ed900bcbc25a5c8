// Package network performs authenticated JSON requests against provider APIs.
package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

const maxErrorBody = 4096

// HTTPError is a response with a non-2xx status.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// TransportError means the request never produced a response.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsUnauthorized reports whether err is an HTTP 401.
func IsUnauthorized(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.StatusCode == http.StatusUnauthorized
}

// IsTransport reports whether err is a network-level failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}

// Client sends JSON requests with a bearer token.
type Client struct {
	httpClient *http.Client
	userAgent  string
	header     http.Header
}

// NewClient wraps hc; a nil hc gets a client with the given timeout.
func NewClient(hc *http.Client, timeout time.Duration) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{httpClient: hc, userAgent: "calsync/1.0", header: http.Header{}}
}

// WithHeader returns a copy of c that adds key to every request.
func (c *Client) WithHeader(key, value string) *Client {
	cp := *c
	cp.header = c.header.Clone()
	cp.header.Set(key, value)
	return &cp
}

// HTTPClient exposes the underlying client for libraries that bring their own
// request plumbing.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

func (c *Client) GetJSON(ctx context.Context, url, token string, out any) error {
	return c.Do(ctx, http.MethodGet, url, token, nil, out)
}

func (c *Client) PostJSON(ctx context.Context, url, token string, in, out any) error {
	return c.Do(ctx, http.MethodPost, url, token, in, out)
}

func (c *Client) PatchJSON(ctx context.Context, url, token string, in, out any) error {
	return c.Do(ctx, http.MethodPatch, url, token, in, out)
}

// Do sends in as the JSON body (when non-nil) and decodes the response into
// out (when non-nil). Non-2xx responses become *HTTPError; failures to reach
// the server become *TransportError.
func (c *Client) Do(ctx context.Context, method, url, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range c.header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Method: method, URL: url, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &HTTPError{Method: method, URL: url, StatusCode: resp.StatusCode, Body: string(b)}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
