// Package config loads and validates the agent configuration from YAML with
// XAGENT_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Query pairs a search query with the actions to take on matching posts.
type Query struct {
	Query   string   `yaml:"query"`
	Actions []string `yaml:"actions"`
}

// Schedule lists the time windows the agent may post in.
type Schedule struct {
	Windows []string `yaml:"windows"`
}

// Cadence restricts activity to days of the week (1=Monday .. 7=Sunday).
type Cadence struct {
	Weekdays []int `yaml:"weekdays"`
}

// MaxPerWindow caps per-kind actions within a single engagement run.
type MaxPerWindow struct {
	Post   int `yaml:"post"`
	Reply  int `yaml:"reply"`
	Like   int `yaml:"like"`
	Follow int `yaml:"follow"`
	Repost int `yaml:"repost"`
}

// Learning toggles Thompson Sampling slot/topic selection.
type Learning struct {
	Enabled bool `yaml:"enabled"`
	// DefaultArm credits settled posts that carry no topic/slot label,
	// for example posts made before learning was switched on. Empty means
	// such posts are skipped at settlement.
	DefaultArm string `yaml:"default_arm,omitempty"`
}

// Budget configures the monthly usage ledger.
type Budget struct {
	BufferPct      float64 `yaml:"buffer_pct"`
	CustomReadCap  *int    `yaml:"custom_read_cap,omitempty"`
	CustomWriteCap *int    `yaml:"custom_write_cap,omitempty"`
}

// Logging configures level and optional log file.
type Logging struct {
	Level string `yaml:"level,omitempty"`
	File  string `yaml:"file,omitempty"`
}

// FeatureFlags gate optional behaviors. Values are "on", "off" or "auto".
type FeatureFlags struct {
	AllowLikes   string `yaml:"allow_likes,omitempty"`
	AllowFollows string `yaml:"allow_follows,omitempty"`
	AllowMedia   string `yaml:"allow_media,omitempty"`
}

// Database selects the persistence backend.
type Database struct {
	Driver string `yaml:"driver,omitempty"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn,omitempty"`    // file path for sqlite, URL for postgres
}

// API configures the upstream endpoint and credentials.
type API struct {
	BaseURL     string `yaml:"base_url,omitempty"`
	BearerToken string `yaml:"bearer_token,omitempty"`
	// UserID is the numeric id of the authenticated account. When set the
	// client skips the /users/me lookup at startup.
	UserID string `yaml:"user_id,omitempty"`
}

// Server configures the local status HTTP listener.
type Server struct {
	Addr string `yaml:"addr,omitempty"`
}

// Content allows overriding the built-in template pools.
type Content struct {
	Templates map[string][]string `yaml:"templates,omitempty"`
	Replies   []string            `yaml:"replies,omitempty"`
}

// Config is the complete agent configuration.
type Config struct {
	AuthMode         string       `yaml:"auth_mode,omitempty"`
	Plan             string       `yaml:"plan"`
	Topics           []string     `yaml:"topics"`
	Queries          []Query      `yaml:"queries"`
	Schedule         Schedule     `yaml:"schedule"`
	Cadence          Cadence      `yaml:"cadence"`
	MaxPerWindow     MaxPerWindow `yaml:"max_per_window"`
	JitterSeconds    []int        `yaml:"jitter_seconds"`
	Learning         Learning     `yaml:"learning"`
	Budget           Budget       `yaml:"budget"`
	Logging          Logging      `yaml:"logging,omitempty"`
	FeatureFlags     FeatureFlags `yaml:"feature_flags,omitempty"`
	WatchlistUserIDs []string     `yaml:"watchlist_user_ids,omitempty"`
	Database         Database     `yaml:"database,omitempty"`
	API              API          `yaml:"api,omitempty"`
	Server           Server       `yaml:"server,omitempty"`
	Content          Content      `yaml:"content,omitempty"`
	DryRun           bool         `yaml:"dry_run,omitempty"`
}

var validActions = map[string]bool{
	"like": true, "reply": true, "follow": true, "repost": true,
}

var validWindows = map[string]bool{
	"morning": true, "afternoon": true, "evening": true,
	"early-morning": true, "night": true, "late-night": true,
}

var validPlans = map[string]bool{
	"free": true, "basic": true, "pro": true,
}

var validToggles = map[string]bool{
	"on": true, "off": true, "auto": true,
}

// DefaultConfig returns the baseline used when the file omits optional keys.
func DefaultConfig() Config {
	return Config{
		AuthMode:      "oauth2",
		Plan:          "free",
		JitterSeconds: []int{2, 8},
		Budget:        Budget{BufferPct: 0.05},
		Logging:       Logging{Level: "INFO"},
		FeatureFlags: FeatureFlags{
			AllowLikes:   "auto",
			AllowFollows: "auto",
			AllowMedia:   "off",
		},
		Database: Database{Driver: "sqlite", DSN: "xagent.db"},
		Server:   Server{Addr: "127.0.0.1:8790"},
	}
}

// Load reads the YAML file at path, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	return &cfg, nil
}

// applyEnv overlays XAGENT_* environment variables. Priority is env over
// file over defaults.
func (c *Config) applyEnv() {
	c.Plan = firstNonEmpty(os.Getenv("XAGENT_PLAN"), c.Plan)
	c.API.BearerToken = firstNonEmpty(os.Getenv("XAGENT_BEARER_TOKEN"), c.API.BearerToken)
	c.API.BaseURL = firstNonEmpty(os.Getenv("XAGENT_API_BASE_URL"), c.API.BaseURL)
	c.API.UserID = firstNonEmpty(os.Getenv("XAGENT_USER_ID"), c.API.UserID)
	c.Database.DSN = firstNonEmpty(os.Getenv("XAGENT_DB_DSN"), c.Database.DSN)
	c.Database.Driver = firstNonEmpty(os.Getenv("XAGENT_DB_DRIVER"), c.Database.Driver)
	c.Logging.File = firstNonEmpty(os.Getenv("XAGENT_LOG_FILE"), c.Logging.File)
	c.Logging.Level = firstNonEmpty(os.Getenv("XAGENT_LOG_LEVEL"), c.Logging.Level)
	c.Server.Addr = firstNonEmpty(os.Getenv("XAGENT_HTTP_ADDR"), c.Server.Addr)
	if v, ok := parseOptionalBool(os.Getenv("XAGENT_DRY_RUN")); ok {
		c.DryRun = v
	}
	if v, ok := parseOptionalBool(os.Getenv("XAGENT_LEARNING_ENABLED")); ok {
		c.Learning.Enabled = v
	}
}

// Validate checks the configuration for structural errors.
func (c *Config) Validate() error {
	if !validPlans[c.Plan] {
		return fmt.Errorf("unknown plan %q (want free, basic or pro)", c.Plan)
	}
	if len(c.Topics) == 0 {
		return fmt.Errorf("topics must not be empty")
	}
	for _, t := range c.Topics {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("topic strings cannot be empty")
		}
	}
	if len(c.Queries) == 0 {
		return fmt.Errorf("queries must not be empty")
	}
	for i, q := range c.Queries {
		if strings.TrimSpace(q.Query) == "" {
			return fmt.Errorf("queries[%d]: query must not be empty", i)
		}
		if len(q.Actions) == 0 {
			return fmt.Errorf("queries[%d]: actions must not be empty", i)
		}
		for _, a := range q.Actions {
			if !validActions[a] {
				return fmt.Errorf("queries[%d]: invalid action %q (want like, reply, follow or repost)", i, a)
			}
		}
	}
	if len(c.Schedule.Windows) == 0 {
		return fmt.Errorf("schedule.windows must not be empty")
	}
	for _, w := range c.Schedule.Windows {
		if !validWindows[w] {
			return fmt.Errorf("unknown schedule window %q", w)
		}
	}
	if len(c.Cadence.Weekdays) == 0 || len(c.Cadence.Weekdays) > 7 {
		return fmt.Errorf("cadence.weekdays must list 1 to 7 days")
	}
	for _, d := range c.Cadence.Weekdays {
		if d < 1 || d > 7 {
			return fmt.Errorf("cadence weekday %d out of range 1-7", d)
		}
	}
	if len(c.JitterSeconds) != 2 {
		return fmt.Errorf("jitter_seconds must be [min, max]")
	}
	if c.JitterSeconds[0] < 0 {
		return fmt.Errorf("jitter_seconds min (%d) must be >= 0", c.JitterSeconds[0])
	}
	if c.JitterSeconds[0] >= c.JitterSeconds[1] {
		return fmt.Errorf("jitter_seconds min (%d) must be < max (%d)", c.JitterSeconds[0], c.JitterSeconds[1])
	}
	if c.Budget.BufferPct < 0 || c.Budget.BufferPct > 1 {
		return fmt.Errorf("budget.buffer_pct %.2f out of range 0-1", c.Budget.BufferPct)
	}
	if c.MaxPerWindow.Post < 0 || c.MaxPerWindow.Reply < 0 || c.MaxPerWindow.Like < 0 ||
		c.MaxPerWindow.Follow < 0 || c.MaxPerWindow.Repost < 0 {
		return fmt.Errorf("max_per_window values must be >= 0")
	}
	for name, v := range map[string]string{
		"allow_likes":   c.FeatureFlags.AllowLikes,
		"allow_follows": c.FeatureFlags.AllowFollows,
		"allow_media":   c.FeatureFlags.AllowMedia,
	} {
		if v != "" && !validToggles[v] {
			return fmt.Errorf("feature_flags.%s: %q is not on, off or auto", name, v)
		}
	}
	switch c.Database.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	return nil
}

// ToggleEnabled resolves a feature toggle, treating "auto" and empty values
// as the given default.
func ToggleEnabled(value string, autoDefault bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on":
		return true
	case "off":
		return false
	default:
		return autoDefault
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseOptionalBool(raw string) (bool, bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
