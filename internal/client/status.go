// Package client talks to a running agent's local status API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPClient abstracts the Do method for easier testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusClient communicates with the agent daemon's status server.
type StatusClient struct {
	baseURL    *url.URL
	httpClient HTTPClient
}

// NewStatusClient constructs a client using the provided base URL.
func NewStatusClient(baseURL string, httpClient HTTPClient) (*StatusClient, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &StatusClient{baseURL: parsed, httpClient: httpClient}, nil
}

// BudgetUsage mirrors the /api/v1/status/budget payload.
type BudgetUsage struct {
	Period         string  `json:"period"`
	Plan           string  `json:"plan"`
	Reads          int64   `json:"reads"`
	Writes         int64   `json:"writes"`
	ReadCap        int64   `json:"read_cap"`
	WriteCap       int64   `json:"write_cap"`
	SoftReadCap    int64   `json:"soft_read_cap"`
	SoftWriteCap   int64   `json:"soft_write_cap"`
	ReadRemaining  int64   `json:"read_remaining"`
	WriteRemaining int64   `json:"write_remaining"`
	ReadPct        float64 `json:"read_pct"`
	WritePct       float64 `json:"write_pct"`
}

// LimitWindow mirrors one observed rate-limit window.
type LimitWindow struct {
	Endpoint   string    `json:"endpoint"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	Reset      time.Time `json:"reset"`
	ObservedAt time.Time `json:"observed_at"`
}

// LearningArm mirrors one bandit arm with its derived score.
type LearningArm struct {
	Arm       string  `json:"arm"`
	Alpha     float64 `json:"alpha"`
	Beta      float64 `json:"beta"`
	EstReward float64 `json:"est_reward"`
	Pulls     int64   `json:"pulls"`
}

// ActionRecord mirrors one logged action.
type ActionRecord struct {
	ID        int64     `json:"id"`
	PostID    string    `json:"post_id"`
	Kind      string    `json:"kind"`
	Text      string    `json:"text,omitempty"`
	Topic     string    `json:"topic,omitempty"`
	Slot      string    `json:"slot,omitempty"`
	Media     bool      `json:"media"`
	RefID     string    `json:"ref_id,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// errorResponse matches the standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// Budget fetches the current month's usage against plan caps.
func (c *StatusClient) Budget(ctx context.Context) (BudgetUsage, error) {
	var out BudgetUsage
	if err := c.get(ctx, "/api/v1/status/budget", &out); err != nil {
		return BudgetUsage{}, err
	}
	return out, nil
}

// Limits fetches the observed per-endpoint rate-limit windows.
func (c *StatusClient) Limits(ctx context.Context) ([]LimitWindow, error) {
	var resp struct {
		Windows []LimitWindow `json:"windows"`
	}
	if err := c.get(ctx, "/api/v1/status/limits", &resp); err != nil {
		return nil, err
	}
	return resp.Windows, nil
}

// Learning fetches arm statistics sorted by estimated reward.
func (c *StatusClient) Learning(ctx context.Context) ([]LearningArm, error) {
	var resp struct {
		Arms []LearningArm `json:"arms"`
	}
	if err := c.get(ctx, "/api/v1/status/learning", &resp); err != nil {
		return nil, err
	}
	return resp.Arms, nil
}

// Actions fetches recent actions of the given kind, newest first. An empty
// kind defaults to posts server-side.
func (c *StatusClient) Actions(ctx context.Context, kind string, limit int) ([]ActionRecord, error) {
	q := url.Values{}
	if kind != "" {
		q.Set("kind", kind)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	path := "/api/v1/status/actions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp struct {
		Actions []ActionRecord `json:"actions"`
	}
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Actions, nil
}

// Healthz reports whether the daemon answers its liveness probe.
func (c *StatusClient) Healthz(ctx context.Context) error {
	return c.get(ctx, "/healthz", nil)
}

func (c *StatusClient) get(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

func (c *StatusClient) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}

	rel, err := url.Parse(path)
	if err != nil {
		return err
	}
	endpoint := c.baseURL.ResolveReference(rel)

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		var errPayload errorResponse
		if err := json.Unmarshal(data, &errPayload); err == nil && strings.TrimSpace(errPayload.Error) != "" {
			return fmt.Errorf("status api error: %s", errPayload.Error)
		}
		return fmt.Errorf("status api error: status %d", resp.StatusCode)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
