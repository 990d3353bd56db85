// Package ratelimit tracks per-endpoint quota windows observed from API
// response headers and throttles callers before the provider does.
package ratelimit

import (
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/quietloop/xagent/internal/metrics"
)

// ErrRetriesExhausted wraps the final rate-limit error after all retries.
var ErrRetriesExhausted = errors.New("rate limit retries exhausted")

// Window is the last quota state observed for one endpoint. It is replaced
// wholesale on every response carrying rate-limit headers and is not durable
// across restarts.
type Window struct {
	Endpoint   string    `json:"endpoint"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	Reset      time.Time `json:"reset"`
	ObservedAt time.Time `json:"observed_at"`
}

// Config holds limiter tuning. Zero values fall back to defaults.
type Config struct {
	MinJitter   time.Duration // default 100ms
	MaxJitter   time.Duration // default 2s
	BackoffBase float64       // default 2
	MaxRetries  int           // default 3
}

// Limiter gates calls per endpoint based on observed quota windows.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]Window

	minJitter   time.Duration
	maxJitter   time.Duration
	backoffBase float64
	maxRetries  int

	stats *metrics.Collector

	// Injectable for tests.
	now   func() time.Time
	sleep func(time.Duration)
	rng   *rand.Rand
}

// SetCollector makes the limiter count window refusals and the sleeps they
// cause, typically on a collector shared with the status server.
func (l *Limiter) SetCollector(stats *metrics.Collector) {
	l.stats = stats
}

// NewLimiter creates a limiter with the given configuration.
func NewLimiter(cfg Config) *Limiter {
	if cfg.MinJitter <= 0 {
		cfg.MinJitter = 100 * time.Millisecond
	}
	if cfg.MaxJitter <= 0 {
		cfg.MaxJitter = 2 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Limiter{
		windows:     make(map[string]Window),
		minJitter:   cfg.MinJitter,
		maxJitter:   cfg.MaxJitter,
		backoffBase: cfg.BackoffBase,
		maxRetries:  cfg.MaxRetries,
		now:         time.Now,
		sleep:       time.Sleep,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// UpdateFromHeaders extracts x-rate-limit-{limit,remaining,reset} from the
// response headers and replaces the tracked window for the endpoint. Missing
// or malformed fields leave the window untouched.
func (l *Limiter) UpdateFromHeaders(endpoint string, headers http.Header) {
	limit, okLimit := headerInt(headers, "x-rate-limit-limit")
	remaining, okRemaining := headerInt(headers, "x-rate-limit-remaining")
	reset, okReset := headerInt(headers, "x-rate-limit-reset")
	if !okLimit || !okRemaining || !okReset {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows[endpoint] = Window{
		Endpoint:   endpoint,
		Limit:      limit,
		Remaining:  remaining,
		Reset:      time.Unix(int64(reset), 0),
		ObservedAt: l.now(),
	}
}

// CanCall reports whether the endpoint may be called while keeping at least
// minRemaining quota in reserve. When blocked it returns the wait until the
// window resets.
func (l *Limiter) CanCall(endpoint string, minRemaining int) (bool, time.Duration) {
	l.mu.Lock()
	w, ok := l.windows[endpoint]
	l.mu.Unlock()
	if !ok {
		return true, 0
	}
	if w.Remaining >= minRemaining {
		return true, 0
	}
	wait := w.Reset.Sub(l.now())
	if wait < 0 {
		wait = 0
	}
	return false, wait
}

// WaitIfNeeded blocks until the endpoint's window allows a call, sleeping one
// extra second past the reported reset as a buffer.
func (l *Limiter) WaitIfNeeded(endpoint string, minRemaining int) {
	ok, wait := l.CanCall(endpoint, minRemaining)
	if ok {
		return
	}
	if l.stats != nil {
		l.stats.RecordRateLimitHit()
		l.stats.RecordRateLimitWait()
	}
	l.sleep(wait + time.Second)
}

// AddJitter sleeps for a uniformly sampled delay in [min, max], used to break
// mechanical action cadence. Non-positive bounds use the configured defaults.
func (l *Limiter) AddJitter(min, max time.Duration) {
	if min <= 0 {
		min = l.minJitter
	}
	if max <= min {
		max = l.maxJitter
	}
	if max <= min {
		l.sleep(min)
		return
	}
	delta := time.Duration(l.rng.Int63n(int64(max - min)))
	l.sleep(min + delta)
}

// BackoffAndRetry invokes fn, retrying only on rate-limit-flavored errors
// (text containing "429" or "rate limit") with exponential backoff plus
// jitter. Other errors propagate immediately. Exhausting retries returns the
// last rate-limit error wrapped in ErrRetriesExhausted.
func (l *Limiter) BackoffAndRetry(fn func() error, maxRetries int) error {
	if maxRetries <= 0 {
		maxRetries = l.maxRetries
	}
	var last error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !IsRateLimitError(err) {
			return err
		}
		if l.stats != nil {
			l.stats.RecordRateLimitHit()
		}
		last = err
		if attempt < maxRetries-1 {
			base := time.Duration(pow(l.backoffBase, attempt) * float64(time.Second))
			jitter := time.Duration(l.rng.Float64() * float64(time.Second))
			l.sleep(base + jitter)
		}
	}
	return fmt.Errorf("%w: %v", ErrRetriesExhausted, last)
}

// IsRateLimitError reports whether the error text carries a rate-limit
// signature.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit")
}

// Snapshot returns the tracked windows sorted by endpoint, for status output.
func (l *Limiter) Snapshot() []Window {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Window, 0, len(l.windows))
	for _, w := range l.windows {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out
}

// Window returns the tracked window for one endpoint, if any.
func (l *Limiter) Window(endpoint string) (Window, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[endpoint]
	return w, ok
}

func headerInt(h http.Header, key string) (int, bool) {
	v := strings.TrimSpace(h.Get(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func pow(base float64, exp int) float64 {
	out := 1.0
	for i := 0; i < exp; i++ {
		out *= base
	}
	return out
}
