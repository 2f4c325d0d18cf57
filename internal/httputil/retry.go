// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides the rate-limited, retrying HTTP client shared
// by the arXiv fetcher and the embedding client.
package httputil

import (
	"context"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/phuslu/log"
	"golang.org/x/time/rate"

	"github.com/pdiddy/evidence-engine/internal/logging"
)

// RetryBaseDelay controls the base duration for exponential backoff on
// HTTP 429 and 503 responses. Tests override this to avoid real sleeps.
var RetryBaseDelay = 2 * time.Second

// maxRetryAfter caps how long a server-supplied Retry-After may hold us.
const maxRetryAfter = 30 * time.Second

const defaultMaxRetries = 3

// Client wraps an http.Client with an optional request rate limit and
// backoff on throttling responses.
type Client struct {
	HTTP *http.Client

	// Limiter spaces outgoing requests. Nil disables rate limiting.
	Limiter *rate.Limiter

	// MaxRetries is the number of retries after a 429/503. Zero uses 3.
	MaxRetries int

	// UserAgent is set on requests that do not carry one.
	UserAgent string

	Logger *log.Logger
}

// NewClient returns a Client with the given timeout and minimum spacing
// between requests. A zero interval disables rate limiting.
func NewClient(timeout, interval time.Duration, userAgent string, logger *log.Logger) *Client {
	c := &Client{
		HTTP:      &http.Client{Timeout: timeout},
		UserAgent: userAgent,
		Logger:    logging.OrDiscard(logger),
	}
	if interval > 0 {
		c.Limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
	return c
}

// Do executes req, waiting on the rate limiter first. HTTP 429 and 503
// responses are retried with exponential backoff starting at
// RetryBaseDelay, or after the server's Retry-After when it is shorter
// than maxRetryAfter. After the last retry the throttled response is
// returned as-is so the caller can inspect it. A cancelled context during
// any wait returns ctx.Err().
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	maxRetries := c.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := logging.OrDiscard(c.Logger)

	for attempt := 0; ; attempt++ {
		if c.Limiter != nil {
			if err := c.Limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		r := req.Clone(ctx)
		if r.Header.Get("User-Agent") == "" && c.UserAgent != "" {
			r.Header.Set("User-Agent", c.UserAgent)
		}

		resp, err := httpClient.Do(r)
		if err != nil {
			return nil, err
		}

		if !retryable(resp.StatusCode) || attempt >= maxRetries {
			return resp, nil
		}

		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		backoff := time.Duration(math.Pow(2, float64(attempt))) * RetryBaseDelay
		if ra, ok := retryAfter(resp.Header.Get("Retry-After")); ok && ra < backoff {
			backoff = ra
		}

		logger.Warn().
			Str("url", req.URL.String()).
			Int("status", resp.StatusCode).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Msg("throttled, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	d := time.Duration(secs) * time.Second
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	return d, true
}
