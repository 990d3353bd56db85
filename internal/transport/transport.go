// Package transport performs HTTP calls with bounded retries, backoff and
// idempotency keys for safe POST replays.
package transport

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultTimeout applies when a request carries no explicit timeout.
	DefaultTimeout = 10 * time.Second
	// DefaultRetries is the number of additional attempts after the first.
	DefaultRetries = 3

	defaultBackoffBase = 500 * time.Millisecond
	defaultBackoffCap  = 8 * time.Second
)

// retryableStatuses are retried with backoff; everything else 4xx/5xx fails fast.
var retryableStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// StatusError carries the terminal HTTP status and body after retries.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Body)
}

// Request describes one logical HTTP call.
type Request struct {
	Method  string
	URL     string
	Header  http.Header
	Query   url.Values
	Body    any // JSON-encoded when non-nil
	Timeout time.Duration
}

// Response is the decoded-enough result handed back to the caller.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// HTTPClient abstracts the Do method for easier testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client performs requests with retry/backoff semantics.
type Client struct {
	httpClient  HTTPClient
	retries     int
	backoffBase time.Duration
	backoffCap  time.Duration

	// Injectable for tests.
	now   func() time.Time
	sleep func(time.Duration)
	rng   *rand.Rand
}

// Config tunes the client; zero values use the defaults above.
type Config struct {
	HTTPClient  HTTPClient
	Retries     int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// NewClient constructs a retrying client.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = DefaultRetries
	}
	base := cfg.BackoffBase
	if base <= 0 {
		base = defaultBackoffBase
	}
	cap := cfg.BackoffCap
	if cap <= 0 {
		cap = defaultBackoffCap
	}
	return &Client{
		httpClient:  httpClient,
		retries:     retries,
		backoffBase: base,
		backoffCap:  cap,
		now:         time.Now,
		sleep:       time.Sleep,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Do executes the request, retrying retryable statuses and transport errors.
// POST bodies get a stable Idempotency-Key computed once per logical call, so
// every retry reuses the same key and the upstream can drop duplicates.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	header := http.Header{}
	for k, vs := range req.Header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	if req.Body != nil {
		header.Set("Content-Type", "application/json")
	}
	if req.Method == http.MethodPost && header.Get("Idempotency-Key") == "" {
		header.Set("Idempotency-Key", IdempotencyKey(req.Body))
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	fullURL := req.URL
	if len(req.Query) > 0 {
		sep := "?"
		if u, err := url.Parse(req.URL); err == nil && u.RawQuery != "" {
			sep = "&"
		}
		fullURL = req.URL + sep + req.Query.Encode()
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := c.attempt(ctx, req.Method, fullURL, header, bodyBytes, timeout)
		if err != nil {
			// Connect/timeout errors are retryable; context cancellation is not.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			if attempt >= c.retries {
				return nil, fmt.Errorf("request failed after %d attempts: %w", attempt+1, lastErr)
			}
			c.sleep(c.backoffDelay(attempt))
			continue
		}

		if resp.StatusCode < 400 {
			return resp, nil
		}
		if !retryableStatuses[resp.StatusCode] || attempt >= c.retries {
			return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
		}

		c.sleep(c.retryDelay(resp, attempt))
	}
}

func (c *Client) attempt(ctx context.Context, method, url string, header http.Header, body []byte, timeout time.Duration) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, method, url, reader)
	if err != nil {
		return nil, err
	}
	httpReq.Header = header.Clone()

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       respBody,
	}, nil
}

// retryDelay honors a numeric rate-limit reset header on 429s, clamped to the
// backoff cap; otherwise exponential backoff with jitter.
func (c *Client) retryDelay(resp *Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if raw := resp.Header.Get("x-rate-limit-reset"); raw != "" {
			if resetAt, err := strconv.ParseInt(raw, 10, 64); err == nil {
				wait := time.Unix(resetAt, 0).Sub(c.now())
				if wait < 0 {
					wait = 0
				}
				if wait > c.backoffCap {
					wait = c.backoffCap
				}
				return wait
			}
		}
	}
	return c.backoffDelay(attempt)
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	delay := c.backoffBase << attempt
	if delay > c.backoffCap || delay <= 0 {
		delay = c.backoffCap
	}
	jitter := time.Duration(c.rng.Float64() * float64(500*time.Millisecond))
	return delay + jitter
}

// IdempotencyKey computes a stable key from the canonicalized JSON body.
// Bodies that cannot be canonicalized fall back to a random UUID, trading
// replay safety for liveness.
func IdempotencyKey(body any) string {
	canonical, err := canonicalJSON(body)
	if err != nil {
		return uuid.New().String()
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// canonicalJSON round-trips through a generic value so object keys serialize
// sorted, making the encoding independent of struct field order.
func canonicalJSON(body any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// IsTimeout reports whether the error is a timeout rather than a refusal.
func IsTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
