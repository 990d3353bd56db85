// Package httpserver exposes a local status API over the agent's stores:
// budget usage, rate-limit windows, learning arms, recent actions and a
// Prometheus metrics endpoint.
package httpserver

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/quietloop/xagent/internal/budget"
	"github.com/quietloop/xagent/internal/health"
	"github.com/quietloop/xagent/internal/metrics"
	"github.com/quietloop/xagent/internal/ratelimit"
	"github.com/quietloop/xagent/internal/store"
	"github.com/quietloop/xagent/internal/version"
)

// Server serves read-only agent status. It never mutates agent state.
type Server struct {
	store     store.Store
	ledger    *budget.Ledger
	limiter   *ratelimit.Limiter
	collector *metrics.Collector
	checker   *health.Checker
	installID string
	logger    *log.Logger
	router    chi.Router
}

// New builds the status server. Limiter and collector may be nil; their
// endpoints then return empty data.
func New(st store.Store, ledger *budget.Ledger, limiter *ratelimit.Limiter, collector *metrics.Collector, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(os.Stderr, "[httpserver] ", log.LstdFlags|log.Lmicroseconds)
	}
	s := &Server{
		store:     st,
		ledger:    ledger,
		limiter:   limiter,
		collector: collector,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
	r.Route("/api/v1/status", func(r chi.Router) {
		r.Get("/budget", s.handleBudget)
		r.Get("/limits", s.handleLimits)
		r.Get("/learning", s.handleLearning)
		r.Get("/actions", s.handleActions)
	})
	s.router = r
	return s
}

// SetChecker enables dependency probes on /healthz. Without one the
// endpoint reports process liveness only.
func (s *Server) SetChecker(c *health.Checker) {
	s.checker = c
}

// SetInstallID includes the persistent install id in /healthz responses.
func (s *Server) SetInstallID(id string) {
	s.installID = id
}

// Handler returns the root handler for mounting or serving.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe blocks serving the status API until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Printf("status server listening on %s", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Printf("write response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		out := map[string]string{
			"status":  "ok",
			"version": version.Info(),
		}
		if s.installID != "" {
			out["install_id"] = s.installID
		}
		s.writeJSON(w, http.StatusOK, out)
		return
	}
	report := s.checker.Check(r.Context())
	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, struct {
		health.Report
		Version   string `json:"version"`
		InstallID string `json:"install_id,omitempty"`
	}{report, version.Info(), s.installID})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	if s.collector == nil {
		return
	}
	if _, err := w.Write([]byte(metrics.FormatPrometheus(s.collector.GetSnapshot()))); err != nil {
		s.logger.Printf("write metrics: %v", err)
	}
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	usage, err := s.ledger.Usage(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, usage)
}

func (s *Server) handleLimits(w http.ResponseWriter, r *http.Request) {
	windows := []ratelimit.Window{}
	if s.limiter != nil {
		windows = s.limiter.Snapshot()
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"windows": windows})
}

// learningArm augments a stored arm with its derived score for clients.
type learningArm struct {
	Arm       string  `json:"arm"`
	Alpha     float64 `json:"alpha"`
	Beta      float64 `json:"beta"`
	EstReward float64 `json:"est_reward"`
	Pulls     int64   `json:"pulls"`
}

func (s *Server) handleLearning(w http.ResponseWriter, r *http.Request) {
	arms, err := s.store.ListArms(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]learningArm, 0, len(arms))
	for _, a := range arms {
		out = append(out, learningArm{
			Arm:       a.ID,
			Alpha:     a.Alpha,
			Beta:      a.Beta,
			EstReward: a.Alpha / (a.Alpha + a.Beta),
			Pulls:     int64(a.Alpha + a.Beta - 2), // prior is Beta(1,1)
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EstReward > out[j].EstReward })
	s.writeJSON(w, http.StatusOK, map[string]any{"arms": out})
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	kind := store.Kind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = store.KindPost
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	actions, err := s.store.RecentActions(r.Context(), kind, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"actions": actions})
}
