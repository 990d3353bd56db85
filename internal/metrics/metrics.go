package metrics

import (
	"sync"
	"time"
)

// Collector tracks agent activity counters for the status server.
// This implementation uses manual metric tracking without external
// dependencies. For production, consider integrating prometheus/client_golang.
type Collector struct {
	mu sync.RWMutex

	// API call metrics
	apiCalls    map[string]int64 // by endpoint
	apiCallsDur map[string]int64 // total duration in ms
	apiErrors   map[string]int64 // by endpoint

	// Action metrics
	actions       map[string]int64 // by kind (post, reply, like, follow, repost)
	actionsDenied map[string]int64 // by reason (budget, duplicate, already_acted)

	// Rate limit metrics
	rateLimitHits  int64
	rateLimitWaits int64 // times the agent slept for a window reset

	// Learning metrics
	settlements int64
	rewardSum   float64

	startTime time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		apiCalls:      make(map[string]int64),
		apiCallsDur:   make(map[string]int64),
		apiErrors:     make(map[string]int64),
		actions:       make(map[string]int64),
		actionsDenied: make(map[string]int64),
		startTime:     time.Now(),
	}
}

// RecordAPICall records one upstream API call.
func (c *Collector) RecordAPICall(endpoint string, duration time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.apiCalls[endpoint]++
	c.apiCallsDur[endpoint] += duration.Milliseconds()
	if err != nil {
		c.apiErrors[endpoint]++
	}
}

// RecordAction records a completed engagement action.
func (c *Collector) RecordAction(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.actions[kind]++
}

// RecordDenied records an action the agent declined to take.
func (c *Collector) RecordDenied(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.actionsDenied[reason]++
}

// RecordRateLimitHit records a 429 or header-driven refusal.
func (c *Collector) RecordRateLimitHit() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rateLimitHits++
}

// RecordRateLimitWait records a sleep until a window reset.
func (c *Collector) RecordRateLimitWait() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rateLimitWaits++
}

// RecordSettlement records one settled post and its reward.
func (c *Collector) RecordSettlement(reward float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.settlements++
	c.rewardSum += reward
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Uptime         int64
	APICalls       map[string]int64
	APICallsDur    map[string]int64
	APIErrors      map[string]int64
	Actions        map[string]int64
	ActionsDenied  map[string]int64
	RateLimitHits  int64
	RateLimitWaits int64
	Settlements    int64
	RewardSum      float64
}

// GetSnapshot returns a snapshot of current metrics.
func (c *Collector) GetSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		Uptime:         int64(time.Since(c.startTime).Seconds()),
		APICalls:       copyMap(c.apiCalls),
		APICallsDur:    copyMap(c.apiCallsDur),
		APIErrors:      copyMap(c.apiErrors),
		Actions:        copyMap(c.actions),
		ActionsDenied:  copyMap(c.actionsDenied),
		RateLimitHits:  c.rateLimitHits,
		RateLimitWaits: c.rateLimitWaits,
		Settlements:    c.settlements,
		RewardSum:      c.rewardSum,
	}
}

func copyMap(m map[string]int64) map[string]int64 {
	result := make(map[string]int64, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}
