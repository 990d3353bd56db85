package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/quietloop/xagent/internal/budget"
	"github.com/quietloop/xagent/internal/health"
	"github.com/quietloop/xagent/internal/metrics"
	"github.com/quietloop/xagent/internal/ratelimit"
	"github.com/quietloop/xagent/internal/store"
	"github.com/quietloop/xagent/internal/store/sqlite"
)

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	st, err := sqlite.New(filepath.Join(t.TempDir(), "status.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ledger, err := budget.NewLedger(st, budget.Config{Plan: budget.PlanFree, BufferPct: 0.05})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	limiter := ratelimit.NewLimiter(ratelimit.Config{})
	return New(st, ledger, limiter, metrics.NewCollector(), nil), st
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	rec := get(t, s, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["version"] == "" {
		t.Fatalf("body = %v", body)
	}
}

func TestBudgetEndpoint(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()
	if err := st.AddUsage(ctx, currentPeriod(), 10, 5); err != nil {
		t.Fatalf("seed usage: %v", err)
	}
	rec := get(t, s, "/api/v1/status/budget")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var usage budget.Usage
	if err := json.Unmarshal(rec.Body.Bytes(), &usage); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if usage.Writes != 10 || usage.Reads != 5 {
		t.Fatalf("usage = %+v", usage)
	}
	if usage.WriteCap != 500 || usage.ReadCap != 100 {
		t.Fatalf("caps = %+v", usage)
	}
}

func TestLearningEndpointSorted(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()
	if err := st.UpsertArm(ctx, store.Arm{ID: "ai|morning|false", Alpha: 5, Beta: 1}); err != nil {
		t.Fatalf("seed arm: %v", err)
	}
	if err := st.UpsertArm(ctx, store.Arm{ID: "ai|evening|false", Alpha: 1, Beta: 5}); err != nil {
		t.Fatalf("seed arm: %v", err)
	}

	rec := get(t, s, "/api/v1/status/learning")
	var body struct {
		Arms []struct {
			Arm       string  `json:"arm"`
			EstReward float64 `json:"est_reward"`
			Pulls     int64   `json:"pulls"`
		} `json:"arms"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Arms) != 2 {
		t.Fatalf("arms = %+v", body.Arms)
	}
	if body.Arms[0].Arm != "ai|morning|false" {
		t.Fatalf("expected best arm first, got %+v", body.Arms)
	}
	if body.Arms[0].Pulls != 4 {
		t.Fatalf("pulls = %d, want 4", body.Arms[0].Pulls)
	}
}

func TestActionsEndpointFiltersKind(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()
	if _, err := st.AppendAction(ctx, store.Action{PostID: "1", Kind: store.KindPost, Text: "hello"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := st.AppendAction(ctx, store.Action{PostID: "2", Kind: store.KindLike}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := get(t, s, "/api/v1/status/actions?kind=like")
	var body struct {
		Actions []store.Action `json:"actions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Actions) != 1 || body.Actions[0].Kind != store.KindLike {
		t.Fatalf("actions = %+v", body.Actions)
	}
}

func TestLimitsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	h := http.Header{}
	h.Set("x-rate-limit-limit", "300")
	h.Set("x-rate-limit-remaining", "299")
	h.Set("x-rate-limit-reset", "1700000000")
	s.limiter.UpdateFromHeaders("GET /2/tweets/search/recent", h)

	rec := get(t, s, "/api/v1/status/limits")
	var body struct {
		Windows []ratelimit.Window `json:"windows"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Windows) != 1 || body.Windows[0].Remaining != 299 {
		t.Fatalf("windows = %+v", body.Windows)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	s.collector.RecordAction("post")
	rec := get(t, s, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `xagent_actions_total{kind="post"} 1`) {
		t.Fatalf("metrics body:\n%s", rec.Body)
	}
}

func currentPeriod() string {
	return store.Period(time.Now())
}

func TestHealthzWithChecker(t *testing.T) {
	s, st := newTestServer(t)
	s.SetChecker(health.New(health.Config{
		DB:           st.(*sqlite.Store).DB(),
		MaxDBLatency: time.Second,
	}))
	s.SetInstallID("3e4cbf3e-6a89-4ad1-9c3b-9f62861a4a7c")

	rec := get(t, s, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Status     string `json:"status"`
		InstallID  string `json:"install_id"`
		Components []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Status != "healthy" {
		t.Fatalf("status = %q, body %s", out.Status, rec.Body.String())
	}
	if out.InstallID != "3e4cbf3e-6a89-4ad1-9c3b-9f62861a4a7c" {
		t.Fatalf("install_id = %q", out.InstallID)
	}
	if len(out.Components) != 1 || out.Components[0].Name != "action_store" {
		t.Fatalf("components = %+v", out.Components)
	}
}
