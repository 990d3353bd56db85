// Package health probes the agent's dependencies and reports a combined
// status for the /healthz endpoint.
package health

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult holds the result of one probe.
type CheckResult struct {
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms"`
	Timestamp time.Time     `json:"timestamp"`
	Error     string        `json:"error,omitempty"`
}

// Component is a probed dependency.
type Component struct {
	Name string `json:"name"`
	Type string `json:"type"` // database or http
	CheckResult
}

// Report is the combined outcome of all probes.
type Report struct {
	Status     Status      `json:"status"`
	Timestamp  time.Time   `json:"timestamp"`
	Components []Component `json:"components,omitempty"`
}

// Config holds checker dependencies. Nil or empty fields skip that probe.
type Config struct {
	DB         *sql.DB
	APIBaseURL string

	DBTimeout    time.Duration // default 2s
	HTTPTimeout  time.Duration // default 5s
	MaxDBLatency time.Duration // default 100ms, above it the DB is degraded
}

// Checker probes the action store and the platform API.
type Checker struct {
	db         *sql.DB
	apiBaseURL string

	dbTimeout    time.Duration
	httpTimeout  time.Duration
	maxDBLatency time.Duration

	mu         sync.RWMutex
	components []Component
}

// New builds a checker, applying default timeouts.
func New(cfg Config) *Checker {
	if cfg.DBTimeout == 0 {
		cfg.DBTimeout = 2 * time.Second
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 5 * time.Second
	}
	if cfg.MaxDBLatency == 0 {
		cfg.MaxDBLatency = 100 * time.Millisecond
	}
	return &Checker{
		db:           cfg.DB,
		apiBaseURL:   cfg.APIBaseURL,
		dbTimeout:    cfg.DBTimeout,
		httpTimeout:  cfg.HTTPTimeout,
		maxDBLatency: cfg.MaxDBLatency,
	}
}

// Check runs all configured probes concurrently and returns the report.
func (c *Checker) Check(ctx context.Context) Report {
	var wg sync.WaitGroup
	results := make(chan Component, 2)

	if c.db != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.checkDatabase(ctx)
		}()
	}
	if c.apiBaseURL != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.checkAPI(ctx)
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	components := make([]Component, 0, 2)
	for comp := range results {
		components = append(components, comp)
	}

	c.mu.Lock()
	c.components = components
	c.mu.Unlock()

	return overall(components)
}

// LastReport returns the report from the most recent Check without probing.
func (c *Checker) LastReport() Report {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.components) == 0 {
		return Report{Status: StatusHealthy, Timestamp: time.Now()}
	}
	return overall(c.components)
}

func (c *Checker) checkDatabase(ctx context.Context) Component {
	comp := Component{
		Name:        "action_store",
		Type:        "database",
		CheckResult: CheckResult{Timestamp: time.Now()},
	}

	dbCtx, cancel := context.WithTimeout(ctx, c.dbTimeout)
	defer cancel()

	start := time.Now()
	err := c.db.PingContext(dbCtx)
	comp.Latency = time.Since(start)

	if err != nil {
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		comp.Message = "database unreachable"
		return comp
	}
	if comp.Latency > c.maxDBLatency {
		comp.Status = StatusDegraded
		comp.Message = fmt.Sprintf("high latency: %v", comp.Latency)
		return comp
	}
	comp.Status = StatusHealthy
	comp.Message = "connected"
	return comp
}

func (c *Checker) checkAPI(ctx context.Context) Component {
	comp := Component{
		Name:        "x_api",
		Type:        "http",
		CheckResult: CheckResult{Timestamp: time.Now()},
	}

	client := &http.Client{Timeout: c.httpTimeout}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBaseURL, nil)
	if err != nil {
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		return comp
	}

	start := time.Now()
	resp, err := client.Do(req)
	comp.Latency = time.Since(start)
	if err != nil {
		comp.Status = StatusDegraded
		comp.Error = err.Error()
		comp.Message = "endpoint unreachable"
		return comp
	}
	defer resp.Body.Close()

	// Any response counts as reachable, auth failures included.
	comp.Status = StatusHealthy
	comp.Message = fmt.Sprintf("reachable (HTTP %d)", resp.StatusCode)
	return comp
}

func overall(components []Component) Report {
	status := StatusHealthy
	for _, comp := range components {
		switch comp.Status {
		case StatusUnhealthy:
			if comp.Type == "database" {
				status = StatusUnhealthy
			} else if status == StatusHealthy {
				status = StatusDegraded
			}
		case StatusDegraded:
			if status == StatusHealthy {
				status = StatusDegraded
			}
		}
	}
	return Report{Status: status, Timestamp: time.Now(), Components: components}
}
