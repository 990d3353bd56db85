// Package bootstrap scaffolds a starter configuration for new installs.
package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// InitOptions configures the bootstrap process for generating config files.
type InitOptions struct {
	Root    string
	Plan    string
	DBPath  string
	LogPath string
	Force   bool
}

// Init writes a commented starter config.yaml under the root directory.
func Init(opts InitOptions) error {
	applyDefaults(&opts)
	if err := os.MkdirAll(opts.Root, 0o755); err != nil {
		return err
	}
	path := filepath.Join(opts.Root, "config.yaml")
	return writeFile(path, configTemplate(opts), opts.Force)
}

func applyDefaults(opts *InitOptions) {
	if strings.TrimSpace(opts.Root) == "" {
		opts.Root = "."
	}
	if strings.TrimSpace(opts.Plan) == "" {
		opts.Plan = "free"
	}
	if strings.TrimSpace(opts.DBPath) == "" {
		opts.DBPath = "xagent.db"
	}
	if strings.TrimSpace(opts.LogPath) == "" {
		opts.LogPath = "logs/xagent.log"
	}
}

func writeFile(path, contents string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("file already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(contents), 0o644)
}

func configTemplate(opts InitOptions) string {
	return fmt.Sprintf(`# xagent configuration
auth_mode: oauth2
plan: %s

topics:
  - automation
  - data-viz

queries:
  - query: '(workflow automation OR "Power Automate") lang:en -is:retweet -is:reply'
    actions: [like, reply]

schedule:
  windows: [morning, afternoon, evening]

cadence:
  weekdays: [1, 2, 3, 4, 5]

max_per_window:
  post: 1
  reply: 3
  like: 10
  follow: 3
  repost: 1

jitter_seconds: [8, 20]

learning:
  enabled: true
  # Arm credited for posts that predate labeling, "topic|slot|media".
  # default_arm: "automation|morning|false"

budget:
  buffer_pct: 0.05

feature_flags:
  allow_likes: auto
  allow_follows: auto
  allow_media: "off"

logging:
  level: INFO
  file: %s

database:
  driver: sqlite
  dsn: %s

# Bearer token may also come from XAGENT_BEARER_TOKEN. Setting user_id to
# the account's numeric id skips the /users/me lookup at startup.
api:
  base_url: https://api.twitter.com
  # user_id: "1234567890"

server:
  addr: 127.0.0.1:8790
`, opts.Plan, opts.LogPath, opts.DBPath)
}

// Validate ensures required fields are present without modifying files.
func Validate(opts InitOptions) error {
	applyDefaults(&opts)
	switch opts.Plan {
	case "free", "basic", "pro":
	default:
		return errors.New("plan must be free, basic or pro")
	}
	return nil
}
