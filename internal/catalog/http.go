// Package catalog contains HTTP clients for the track catalogs streamd
// resolves URLs and lyrics from.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

var (
	// ErrStatus is returned when a catalog answers with a non-2xx status
	ErrStatus = errors.New("unexpected status")
	// ErrAPI is returned when the payload carries a failure code
	ErrAPI = errors.New("catalog api error")
)

const (
	defaultTimeout   = 10 * time.Second
	defaultRetries   = 5
	defaultRetryWait = time.Second
)

// Option configures a catalog client
type Option func(*requester)

// WithHTTPClient replaces the default client
func WithHTTPClient(c *http.Client) Option {
	return func(r *requester) { r.client = c }
}

// WithLogger sets the logger
func WithLogger(log *zap.Logger) Option {
	return func(r *requester) { r.log = log }
}

// WithRetry sets how many attempts a GET makes and the wait between them
func WithRetry(attempts int, wait time.Duration) Option {
	return func(r *requester) {
		if attempts < 1 {
			attempts = 1
		}
		r.attempts = attempts
		r.wait = wait
	}
}

// WithTimeout sets the per-request timeout of the default client
func WithTimeout(d time.Duration) Option {
	return func(r *requester) { r.client = &http.Client{Timeout: d} }
}

type requester struct {
	client   *http.Client
	log      *zap.Logger
	attempts int
	wait     time.Duration
}

func newRequester(name string, opts []Option) requester {
	r := requester{
		client:   &http.Client{Timeout: defaultTimeout},
		log:      zap.NewNop(),
		attempts: defaultRetries,
		wait:     defaultRetryWait,
	}
	for _, opt := range opts {
		opt(&r)
	}
	r.log = r.log.Named(name)
	return r
}

// getJSON issues a GET and decodes the body into v. Transport errors and
// 5xx answers are retried with a constant backoff; 4xx answers and decode
// failures are permanent.
func (r *requester) getJSON(ctx context.Context, url string, v any) error {
	attempt := 0
	op := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := r.client.Do(req)
		if err != nil {
			r.log.Debug("request failed", zap.String("url", url), zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return backoff.Permanent(fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode))
		}
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
		return nil
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.wait), uint64(r.attempts-1)),
		ctx,
	)
	if err := backoff.Retry(op, b); err != nil {
		r.log.Warn("request gave up", zap.String("url", url), zap.Int("attempts", attempt), zap.Error(err))
		return err
	}
	return nil
}
