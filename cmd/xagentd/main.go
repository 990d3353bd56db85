package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	rcron "github.com/robfig/cron/v3"

	"github.com/quietloop/xagent/internal/bandit"
	"github.com/quietloop/xagent/internal/budget"
	"github.com/quietloop/xagent/internal/config"
	"github.com/quietloop/xagent/internal/content"
	"github.com/quietloop/xagent/internal/dedup"
	"github.com/quietloop/xagent/internal/engine"
	"github.com/quietloop/xagent/internal/health"
	"github.com/quietloop/xagent/internal/httpserver"
	"github.com/quietloop/xagent/internal/logging"
	"github.com/quietloop/xagent/internal/metrics"
	"github.com/quietloop/xagent/internal/ratelimit"
	"github.com/quietloop/xagent/internal/store"
	"github.com/quietloop/xagent/internal/store/postgres"
	"github.com/quietloop/xagent/internal/store/sqlite"
	"github.com/quietloop/xagent/internal/telemetry"
	"github.com/quietloop/xagent/internal/transport"
	"github.com/quietloop/xagent/internal/version"
	"github.com/quietloop/xagent/internal/xapi"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.FullInfo())
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	logger, logCloser, err := logging.Setup("[xagentd] ", cfg.Logging.File)
	if err != nil {
		log.Fatalf("init logging: %v", err)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}
	log.SetOutput(logger.Writer())
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetPrefix("[xagentd] ")

	installID, err := telemetry.GetOrCreateInstallID("")
	if err != nil {
		logger.Printf("install id unavailable: %v", err)
	} else {
		logger.Printf("install id %s", installID)
	}

	var st store.Store
	var db *sql.DB
	switch cfg.Database.Driver {
	case "postgres":
		pg, perr := postgres.New(cfg.Database.DSN, 10, 5)
		if perr == nil {
			db = pg.DB()
		}
		st, err = pg, perr
	default:
		lite, lerr := sqlite.New(cfg.Database.DSN)
		if lerr == nil {
			db = lite.DB()
		}
		st, err = lite, lerr
	}
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer st.Close()

	ledgerCfg := budget.Config{Plan: budget.Plan(cfg.Plan), BufferPct: cfg.Budget.BufferPct}
	if cfg.Budget.CustomReadCap != nil {
		ledgerCfg.ReadCap = int64(*cfg.Budget.CustomReadCap)
	}
	if cfg.Budget.CustomWriteCap != nil {
		ledgerCfg.WriteCap = int64(*cfg.Budget.CustomWriteCap)
	}
	ledger, err := budget.NewLedger(st, ledgerCfg)
	if err != nil {
		logger.Fatalf("init budget ledger: %v", err)
	}

	limiter := ratelimit.NewLimiter(ratelimit.Config{})
	httpc := transport.NewClient(transport.Config{})
	var creds xapi.Credentials = xapi.BearerCredentials{Token: cfg.API.BearerToken}
	if cfg.API.UserID != "" {
		creds = xapi.StaticCredentials{Token: cfg.API.BearerToken, User: cfg.API.UserID}
	}
	api := xapi.New(cfg.API.BaseURL, httpc, creds, limiter)

	eng := engine.New(cfg, st, api,
		ledger,
		dedup.NewIndex(st),
		bandit.NewLearner(st),
		content.New(cfg.Content.Templates, cfg.Content.Replies),
		logger,
	)

	collector := metrics.NewCollector()
	eng.SetCollector(collector)
	api.SetCollector(collector)
	limiter.SetCollector(collector)
	srv := httpserver.New(st, ledger, limiter, collector, logger)
	srv.SetChecker(health.New(health.Config{DB: db, APIBaseURL: cfg.API.BaseURL}))
	srv.SetInstallID(installID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The post pass runs a few minutes into each hour so slot boundaries are
	// already settled, the interact pass every half hour, settlement nightly.
	c := rcron.New()
	mustSchedule(c, "5 * * * *", func() {
		if err := eng.Run(ctx, "post"); err != nil {
			logger.Printf("post pass: %v", err)
		}
	})
	mustSchedule(c, "*/30 * * * *", func() {
		if err := eng.Run(ctx, "interact"); err != nil {
			logger.Printf("interact pass: %v", err)
		}
	})
	mustSchedule(c, "45 3 * * *", func() {
		n, err := eng.SettleAll(ctx, false)
		if err != nil {
			logger.Printf("settle pass: %v", err)
			return
		}
		logger.Printf("settled %d post(s)", n)
	})
	c.Start()
	defer c.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(ctx, cfg.Server.Addr)
	}()

	logger.Printf("xagentd %s started (plan=%s dry_run=%v)", version.Info(), cfg.Plan, cfg.DryRun)

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("status server shutdown: %v", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("status server: %v", err)
		}
	}
}

func mustSchedule(c *rcron.Cron, spec string, fn func()) {
	if _, err := c.AddFunc(spec, fn); err != nil {
		log.Fatalf("schedule %q: %v", spec, err)
	}
}
