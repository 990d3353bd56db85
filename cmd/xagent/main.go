package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/quietloop/xagent/internal/bandit"
	"github.com/quietloop/xagent/internal/bootstrap"
	"github.com/quietloop/xagent/internal/budget"
	"github.com/quietloop/xagent/internal/client"
	"github.com/quietloop/xagent/internal/config"
	"github.com/quietloop/xagent/internal/content"
	"github.com/quietloop/xagent/internal/dedup"
	"github.com/quietloop/xagent/internal/engine"
	"github.com/quietloop/xagent/internal/logging"
	"github.com/quietloop/xagent/internal/ratelimit"
	"github.com/quietloop/xagent/internal/store"
	"github.com/quietloop/xagent/internal/store/postgres"
	"github.com/quietloop/xagent/internal/store/sqlite"
	"github.com/quietloop/xagent/internal/transport"
	"github.com/quietloop/xagent/internal/version"
	"github.com/quietloop/xagent/internal/xapi"
)

// runtime bundles everything a command needs after wiring.
type runtime struct {
	cfg     *config.Config
	store   store.Store
	ledger  *budget.Ledger
	engine  *engine.Engine
	closers []func() error
}

func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			log.Printf("close: %v", err)
		}
	}
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		return postgres.New(cfg.Database.DSN, 10, 5)
	default:
		return sqlite.New(cfg.Database.DSN)
	}
}

func buildRuntime(configPath string, dryRun bool, planOverride string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if dryRun {
		cfg.DryRun = true
	}
	if planOverride != "" {
		cfg.Plan = planOverride
	}

	logger, logCloser, err := logging.Setup("[xagent] ", cfg.Logging.File)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	var closers []func() error
	if logCloser != nil {
		closers = append(closers, logCloser.Close)
	}

	st, err := openStore(cfg)
	if err != nil {
		closeAll(closers)
		return nil, fmt.Errorf("open store: %w", err)
	}
	closers = append(closers, st.Close)

	ledgerCfg := budget.Config{Plan: budget.Plan(cfg.Plan), BufferPct: cfg.Budget.BufferPct}
	if cfg.Budget.CustomReadCap != nil {
		ledgerCfg.ReadCap = int64(*cfg.Budget.CustomReadCap)
	}
	if cfg.Budget.CustomWriteCap != nil {
		ledgerCfg.WriteCap = int64(*cfg.Budget.CustomWriteCap)
	}
	ledger, err := budget.NewLedger(st, ledgerCfg)
	if err != nil {
		closeAll(closers)
		return nil, err
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

	return &runtime{
		cfg:     cfg,
		store:   st,
		ledger:  ledger,
		engine:  eng,
		closers: closers,
	}, nil
}

func closeAll(closers []func() error) {
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}

var rootCmd = &cobra.Command{
	Use:   "xagent",
	Short: "xagent - autonomous posting and engagement agent",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one agent pass (post, interact or both)",
	RunE:  runRun,
}

var settleCmd = &cobra.Command{
	Use:   "settle [POST_ID]",
	Short: "Fetch engagement metrics for recent posts and update the learner",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSettle,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print learner arm statistics",
	RunE:  runStats,
}

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Show monthly API budget usage",
	RunE:  runBudget,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running daemon's status API",
	RunE:  runStatus,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config.yaml",
	RunE:  runInit,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.FullInfo())
	},
}

var (
	configFlag    string
	modeFlag      string
	dryRunFlag    bool
	runPlanFlag   string
	settleAllFlag bool
	statsBudget   bool
	statsLearning bool
	forceFlag     bool
	planFlag      string
	dirFlag       string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "config.yaml", "Path to config file")
	runCmd.Flags().StringVarP(&modeFlag, "mode", "m", "both", "Pass mode: post, interact or both")
	runCmd.Flags().BoolVar(&dryRunFlag, "dry-run", false, "Log intended actions without calling the API")
	runCmd.Flags().StringVar(&runPlanFlag, "plan", "", "Override the configured plan tier for this run")
	settleCmd.Flags().BoolVar(&settleAllFlag, "all", false, "Also re-settle posts that already have stored metrics")
	statsCmd.Flags().BoolVar(&statsBudget, "budget", false, "Include monthly budget usage")
	statsCmd.Flags().BoolVar(&statsLearning, "learning", true, "Include learner arm statistics")
	initCmd.Flags().BoolVar(&forceFlag, "force", false, "Overwrite an existing config.yaml")
	initCmd.Flags().StringVar(&planFlag, "plan", "free", "API plan tier: free, basic or pro")
	initCmd.Flags().StringVar(&dirFlag, "dir", ".", "Directory to write config.yaml into")
	rootCmd.AddCommand(runCmd, settleCmd, statsCmd, budgetCmd, statusCmd, initCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime(configFlag, dryRunFlag, runPlanFlag)
	if err != nil {
		return err
	}
	defer rt.Close()
	return rt.engine.Run(context.Background(), modeFlag)
}

func runSettle(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime(configFlag, false, "")
	if err != nil {
		return err
	}
	defer rt.Close()
	ctx := context.Background()

	if len(args) == 1 {
		if settleAllFlag {
			return fmt.Errorf("cannot combine --all with a post id")
		}
		postID := args[0]
		actions, err := rt.store.RecentActions(ctx, store.KindPost, 1000)
		if err != nil {
			return err
		}
		for _, a := range actions {
			if a.PostID != postID {
				continue
			}
			if a.Topic == "" || a.Slot == "" {
				return fmt.Errorf("post %s carries no topic/slot label, cannot settle", postID)
			}
			if err := rt.engine.Settle(ctx, postID, bandit.ArmID(a.Topic, a.Slot, a.Media)); err != nil {
				return err
			}
			fmt.Printf("settled %s\n", postID)
			return nil
		}
		return fmt.Errorf("no recorded post %s", postID)
	}

	n, err := rt.engine.SettleAll(ctx, settleAllFlag)
	if err != nil {
		return err
	}
	fmt.Printf("settled %d post(s)\n", n)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime(configFlag, false, "")
	if err != nil {
		return err
	}
	defer rt.Close()
	ctx := context.Background()

	if statsBudget {
		u, err := rt.ledger.Usage(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("budget: period %s plan %s reads %d/%d writes %d/%d\n",
			u.Period, u.Plan, u.Reads, u.ReadCap, u.Writes, u.WriteCap)
	}
	if !statsLearning {
		return nil
	}

	arms, err := rt.store.ListArms(ctx)
	if err != nil {
		return err
	}
	if len(arms) == 0 {
		fmt.Println("no arms recorded yet")
		return nil
	}
	sort.Slice(arms, func(i, j int) bool {
		return estReward(arms[i]) > estReward(arms[j])
	})
	fmt.Printf("%-40s %8s %8s %10s %7s\n", "ARM", "ALPHA", "BETA", "EST_REWARD", "PULLS")
	for _, a := range arms {
		pulls := int(a.Alpha+a.Beta) - 2
		fmt.Printf("%-40s %8.2f %8.2f %10.4f %7d\n", a.ID, a.Alpha, a.Beta, estReward(a), pulls)
	}
	return nil
}

func estReward(a store.Arm) float64 {
	return a.Alpha / (a.Alpha + a.Beta)
}

func runBudget(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime(configFlag, false, "")
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	u, err := rt.ledger.Usage(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("period %s plan %s\n", u.Period, u.Plan)
	fmt.Printf("reads  %d/%d (soft %d, %.1f%% used)\n", u.Reads, u.ReadCap, u.SoftReadCap, u.ReadPct)
	fmt.Printf("writes %d/%d (soft %d, %.1f%% used)\n", u.Writes, u.WriteCap, u.SoftWriteCap, u.WritePct)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	c, err := client.NewStatusClient("http://"+cfg.Server.Addr, nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Healthz(ctx); err != nil {
		return fmt.Errorf("daemon not reachable at %s: %w", cfg.Server.Addr, err)
	}

	u, err := c.Budget(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("daemon    up at %s\n", cfg.Server.Addr)
	fmt.Printf("budget    reads %d/%d, writes %d/%d (period %s)\n", u.Reads, u.ReadCap, u.Writes, u.WriteCap, u.Period)

	windows, err := c.Limits(ctx)
	if err != nil {
		return err
	}
	for _, w := range windows {
		fmt.Printf("limit     %s remaining %d/%d resets %s\n", w.Endpoint, w.Remaining, w.Limit, w.Reset.Format(time.RFC3339))
	}

	arms, err := c.Learning(ctx)
	if err != nil {
		return err
	}
	for _, a := range arms {
		fmt.Printf("arm       %s est %.4f pulls %d\n", a.Arm, a.EstReward, a.Pulls)
	}
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	opts := bootstrap.InitOptions{Root: dirFlag, Plan: planFlag, Force: forceFlag}
	if err := bootstrap.Validate(opts); err != nil {
		return err
	}
	if err := bootstrap.Init(opts); err != nil {
		return err
	}
	fmt.Printf("wrote %s/config.yaml\n", dirFlag)
	return nil
}
