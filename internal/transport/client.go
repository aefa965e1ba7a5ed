// Package transport provides the authenticated, retrying HTTP client the
// target directory API client is built on.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/alavret/sync-deps-from-hub-v2/pkg/errors"
	"github.com/alavret/sync-deps-from-hub-v2/pkg/logging"
)

// DefaultHTTPTimeout is the default timeout for a single HTTP attempt.
const DefaultHTTPTimeout = 30 * time.Second

// DefaultMaxRetries is the default per-call retry budget.
const DefaultMaxRetries = 4

// DefaultBackoffStep is the default increment of the linear retry delay.
const DefaultBackoffStep = 2 * time.Second

// Client is an authenticated JSON HTTP client with a bounded per-call
// retry policy. A call that exhausts its retries fails that call only.
type Client struct {
	http    *http.Client
	auth    Authenticator
	token   string
	baseURL string
	service string

	maxRetries  uint64
	backoffStep time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetries sets the retry budget and the linear delay increment.
func WithRetries(maxRetries int, step time.Duration) Option {
	return func(c *Client) {
		if maxRetries >= 0 {
			c.maxRetries = uint64(maxRetries)
		}
		if step > 0 {
			c.backoffStep = step
		}
	}
}

// WithServiceName sets the service label used in errors and logs.
func WithServiceName(name string) Option {
	return func(c *Client) { c.service = name }
}

// New creates a client rooted at baseURL, authenticating every request
// with the given authenticator and token.
func New(baseURL, token string, auth Authenticator, opts ...Option) *Client {
	c := &Client{
		http:        &http.Client{Timeout: DefaultHTTPTimeout},
		auth:        auth,
		token:       token,
		baseURL:     strings.TrimRight(baseURL, "/"),
		service:     "directory",
		maxRetries:  DefaultMaxRetries,
		backoffStep: DefaultBackoffStep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get performs a GET request and decodes the JSON response into target.
func (c *Client) Get(ctx context.Context, path string, target any) error {
	return c.Do(ctx, http.MethodGet, path, nil, target)
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, target any) error {
	return c.Do(ctx, http.MethodPost, path, body, target)
}

// Patch performs a PATCH request with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body, target any) error {
	return c.Do(ctx, http.MethodPatch, path, body, target)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.Do(ctx, http.MethodDelete, path, nil, nil)
}

// Do performs one logical API call: marshal, send, retry on transient
// failures with linearly increasing delays, decode. Non-retryable
// statuses fail immediately; an exhausted retry budget surfaces the last
// attempt's error.
func (c *Client) Do(ctx context.Context, method, path string, body, target any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return errors.NewParseError("json", path, "request body marshal failed", err)
		}
	}

	operation := func() error {
		return c.attempt(ctx, method, path, payload, target)
	}
	notify := func(err error, wait time.Duration) {
		msg := "Transient API failure; retrying"
		if errors.IsRateLimited(err) {
			msg = "Rate limited by the API; retrying"
		}
		logging.Warn().
			Err(err).
			Str("method", method).
			Str("path", path).
			Dur("retry_in", wait).
			Msg(msg)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(newLinearBackOff(c.backoffStep), c.maxRetries),
		ctx,
	)
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%s %s: %w: %v", method, path, errors.ErrTimeout, err)
		}
		return err
	}
	return nil
}

// attempt performs a single HTTP round trip.
func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, target any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return backoff.Permanent(errors.NewAPIError(c.service, 0, err.Error()))
	}

	c.auth.Apply(req, c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Network-level failures are retryable.
		return errors.WrapAPI(c.service, 0, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			logging.Debug().Err(cerr).Msg("Response body close failed")
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.WrapIO("read", path, err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &errors.APIError{
			Service:    c.service,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(data)),
			Endpoint:   path,
		}
		if retryableStatus(resp.StatusCode) {
			return apiErr
		}
		return backoff.Permanent(apiErr)
	}

	if target == nil {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return backoff.Permanent(errors.NewParseError("json", path, "response body decode failed", err))
	}
	return nil
}

// retryableStatus reports whether a status is worth another attempt:
// throttling and server-side failures only.
func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}
