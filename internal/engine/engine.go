// Package engine orchestrates posting, engagement and settlement runs. It
// ties together the budget ledger, dedup index, bandit learner and API
// client, and enforces the schedule and cadence gates.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/quietloop/xagent/internal/bandit"
	"github.com/quietloop/xagent/internal/budget"
	"github.com/quietloop/xagent/internal/config"
	"github.com/quietloop/xagent/internal/content"
	"github.com/quietloop/xagent/internal/dedup"
	"github.com/quietloop/xagent/internal/metrics"
	"github.com/quietloop/xagent/internal/store"
	"github.com/quietloop/xagent/internal/xapi"
)

// window bounds a named posting slot. Start after end means the window
// crosses midnight.
type window struct {
	start, end int // minutes since midnight
}

var windows = map[string]window{
	"morning":       {9 * 60, 12 * 60},
	"afternoon":     {13 * 60, 17 * 60},
	"evening":       {18 * 60, 21 * 60},
	"early-morning": {5 * 60, 8 * 60},
	"night":         {21 * 60, 23 * 60},
	"late-night":    {23 * 60, 2 * 60},
}

// Fetch sizes for the interaction pass. Reads are metered per post returned,
// so these double as the amounts asked of the budget ledger up front.
const (
	searchFetchSize    = 20
	watchlistFetchSize = 5
)

// API is the subset of the X client the engine drives.
type API interface {
	SelfID(ctx context.Context) (string, error)
	SearchRecent(ctx context.Context, query string, maxResults int) ([]xapi.Post, error)
	UserPosts(ctx context.Context, userID string, maxResults int) ([]xapi.Post, error)
	GetPost(ctx context.Context, id string) (*xapi.Post, error)
	CreatePost(ctx context.Context, text string) (string, error)
	Reply(ctx context.Context, inReplyTo, text string) (string, error)
	LikePost(ctx context.Context, postID string) error
	FollowUser(ctx context.Context, targetUserID string) error
	Repost(ctx context.Context, postID string) error
}

// Engine runs the agent's scheduled phases.
type Engine struct {
	cfg     *config.Config
	store   store.Store
	api     API
	ledger  *budget.Ledger
	index   *dedup.Index
	learner *bandit.Learner
	gen     *content.Generator
	logger  *log.Logger
	stats   *metrics.Collector

	// Injectable for tests.
	now   func() time.Time
	sleep func(time.Duration)
	rng   *rand.Rand
}

// New wires an engine from its parts. A nil logger logs to stderr.
func New(cfg *config.Config, st store.Store, api API, ledger *budget.Ledger, index *dedup.Index, learner *bandit.Learner, gen *content.Generator, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags|log.Lmicroseconds)
	}
	return &Engine{
		cfg:     cfg,
		store:   st,
		api:     api,
		ledger:  ledger,
		index:   index,
		learner: learner,
		gen:     gen,
		logger:  logger,
		stats:   metrics.NewCollector(),
		now:     time.Now,
		sleep:   time.Sleep,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetCollector swaps the metrics collector, letting callers share one with a
// status server.
func (e *Engine) SetCollector(c *metrics.Collector) {
	if c != nil {
		e.stats = c
	}
}

// CurrentSlot returns the named window containing now. When now falls in
// none of the configured windows a random one is returned so off-schedule
// manual runs still pick a slot. Empty input yields "".
func (e *Engine) CurrentSlot(names []string) string {
	if len(names) == 0 {
		return ""
	}
	minutes := e.now().Hour()*60 + e.now().Minute()
	for _, name := range names {
		w, ok := windows[name]
		if !ok {
			continue
		}
		if w.start <= w.end {
			if minutes >= w.start && minutes <= w.end {
				return name
			}
		} else {
			// Crosses midnight.
			if minutes >= w.start || minutes <= w.end {
				return name
			}
		}
	}
	return names[e.rng.Intn(len(names))]
}

// onCadence reports whether the given day is in the configured weekdays
// (ISO numbering, 1=Monday).
func (e *Engine) onCadence(t time.Time) bool {
	iso := int(t.Weekday())
	if iso == 0 {
		iso = 7
	}
	for _, d := range e.cfg.Cadence.Weekdays {
		if d == iso {
			return true
		}
	}
	return false
}

// Run executes one scheduled pass. Mode is "post", "interact" or "both".
// Runs outside the configured weekdays are skipped unless dry-run is set.
func (e *Engine) Run(ctx context.Context, mode string) error {
	if !e.cfg.DryRun && !e.onCadence(e.now()) {
		e.logger.Printf("outside configured weekdays, skipping run")
		return nil
	}
	switch mode {
	case "post", "interact", "both":
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
	if mode == "post" || mode == "both" {
		if err := e.RunPost(ctx); err != nil {
			return err
		}
	}
	if mode == "interact" || mode == "both" {
		if err := e.RunInteract(ctx); err != nil {
			return err
		}
	}
	return nil
}

// RunPost publishes at most one post for the current slot. Duplicate text
// and budget refusals skip the post without error.
func (e *Engine) RunPost(ctx context.Context) error {
	slot := e.CurrentSlot(e.cfg.Schedule.Windows)
	if slot == "" {
		slot = "morning"
	}
	allowMedia := config.ToggleEnabled(e.cfg.FeatureFlags.AllowMedia, false)

	if e.cfg.MaxPerWindow.Post > 0 {
		n, err := e.postsInWindow(ctx, slot)
		if err != nil {
			return fmt.Errorf("count window posts: %w", err)
		}
		if n >= e.cfg.MaxPerWindow.Post {
			e.logger.Printf("post quota for window %s reached (%d)", slot, n)
			e.stats.RecordDenied("window_quota")
			return nil
		}
	}

	topic, err := e.pickTopic(ctx, slot, allowMedia)
	if err != nil {
		return err
	}
	text, mediaPath := e.gen.MakePost(topic, slot, allowMedia)
	hasMedia := mediaPath != ""

	dup, err := e.index.IsDuplicate(ctx, text, dedup.DefaultWindowDays, dedup.DefaultJaccardThreshold)
	if err != nil {
		return fmt.Errorf("check duplicate: %w", err)
	}
	if dup {
		e.logger.Printf("skipping duplicate post (topic=%s slot=%s)", topic, slot)
		e.stats.RecordDenied("duplicate")
		return nil
	}

	ok, msg, err := e.ledger.CanWrite(ctx, 1)
	if err != nil {
		return fmt.Errorf("check write budget: %w", err)
	}
	if !ok {
		e.logger.Printf("write budget refused post: %s", msg)
		e.stats.RecordDenied("budget")
		return nil
	}

	if e.cfg.DryRun {
		e.logger.Printf("[dry-run] post (%s/%s): %s", topic, slot, text)
		return nil
	}

	postID, err := e.api.CreatePost(ctx, text)
	if err != nil {
		return fmt.Errorf("create post: %w", err)
	}
	if _, err := e.store.AppendAction(ctx, store.Action{
		PostID: postID,
		Kind:   store.KindPost,
		Text:   text,
		Topic:  topic,
		Slot:   slot,
		Media:  hasMedia,
	}); err != nil {
		return fmt.Errorf("record post action: %w", err)
	}
	if err := e.index.Store(ctx, text, postID, e.now()); err != nil {
		return fmt.Errorf("store fingerprint: %w", err)
	}
	if err := e.ledger.AddWrites(ctx, 1); err != nil {
		return fmt.Errorf("record write usage: %w", err)
	}
	e.logger.Printf("posted %s (topic=%s slot=%s)", postID, topic, slot)
	e.stats.RecordAction(string(store.KindPost))
	e.jitterSleep()
	return nil
}

// postsInWindow counts posts published in the current occurrence of the
// named window.
func (e *Engine) postsInWindow(ctx context.Context, slot string) (int, error) {
	actions, err := e.store.RecentActions(ctx, store.KindPost, 50)
	if err != nil {
		return 0, err
	}
	start := e.windowStart(slot)
	n := 0
	for _, a := range actions {
		if a.Slot == slot && !a.CreatedAt.Before(start) {
			n++
		}
	}
	return n, nil
}

// windowStart returns when the current occurrence of the window opened.
// For a midnight-crossing window observed before its end, that is yesterday.
func (e *Engine) windowStart(slot string) time.Time {
	now := e.now()
	w, ok := windows[slot]
	if !ok {
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	}
	start := time.Date(now.Year(), now.Month(), now.Day(), w.start/60, w.start%60, 0, 0, now.Location())
	if w.start > w.end && now.Hour()*60+now.Minute() <= w.end {
		start = start.AddDate(0, 0, -1)
	}
	return start
}

// pickTopic chooses a topic, via Thompson Sampling over the current slot's
// arms when learning is enabled, uniformly otherwise.
func (e *Engine) pickTopic(ctx context.Context, slot string, media bool) (string, error) {
	topics := e.cfg.Topics
	if len(topics) == 0 {
		return "", errors.New("no topics configured")
	}
	if !e.cfg.Learning.Enabled || e.learner == nil {
		return topics[e.rng.Intn(len(topics))], nil
	}
	arms := make([]string, len(topics))
	for i, t := range topics {
		arms[i] = bandit.ArmID(t, slot, media)
	}
	chosen, err := e.learner.Choose(ctx, arms)
	if err != nil {
		return "", fmt.Errorf("choose topic arm: %w", err)
	}
	topic, _, _, ok := bandit.ParseArmID(chosen)
	if !ok {
		return "", fmt.Errorf("malformed arm id %q", chosen)
	}
	return topic, nil
}

// limits holds remaining per-kind action quotas for one engagement pass.
type limits map[store.Kind]int

func (l limits) exhausted() bool {
	for _, v := range l {
		if v > 0 {
			return false
		}
	}
	return true
}

func (e *Engine) windowLimits() limits {
	l := limits{
		store.KindReply:  e.cfg.MaxPerWindow.Reply,
		store.KindLike:   e.cfg.MaxPerWindow.Like,
		store.KindFollow: e.cfg.MaxPerWindow.Follow,
		store.KindRepost: e.cfg.MaxPerWindow.Repost,
	}
	if !config.ToggleEnabled(e.cfg.FeatureFlags.AllowLikes, true) {
		l[store.KindLike] = 0
	}
	if !config.ToggleEnabled(e.cfg.FeatureFlags.AllowFollows, true) {
		l[store.KindFollow] = 0
	}
	return l
}

// RunInteract engages with watchlist users' latest posts, then with search
// results for each configured query. Each query gets a fresh quota copy.
func (e *Engine) RunInteract(ctx context.Context) error {
	if len(e.cfg.Queries) == 0 && len(e.cfg.WatchlistUserIDs) == 0 {
		e.logger.Printf("no queries or watchlist configured, skipping interaction phase")
		return nil
	}
	selfID, err := e.api.SelfID(ctx)
	if err != nil {
		return fmt.Errorf("resolve own user id: %w", err)
	}

	for _, uid := range e.cfg.WatchlistUserIDs {
		if ok, msg := e.canRead(ctx, watchlistFetchSize); !ok {
			e.logger.Printf("read budget stops watchlist: %s", msg)
			e.stats.RecordDenied("budget")
			break
		}
		posts, err := e.api.UserPosts(ctx, uid, watchlistFetchSize)
		if err != nil {
			e.logger.Printf("watchlist fetch for %s failed: %v", uid, err)
			continue
		}
		if len(posts) == 0 {
			continue
		}
		// The plan meters posts read, not requests made.
		if err := e.ledger.AddReads(ctx, int64(len(posts))); err != nil {
			return fmt.Errorf("record read usage: %w", err)
		}
		if err := e.actOnPosts(ctx, posts, e.windowLimits(), selfID); err != nil {
			return err
		}
	}

	base := e.windowLimits()
	for _, q := range e.cfg.Queries {
		if ok, msg := e.canRead(ctx, searchFetchSize); !ok {
			e.logger.Printf("read budget stops search: %s", msg)
			e.stats.RecordDenied("budget")
			break
		}
		posts, err := e.api.SearchRecent(ctx, q.Query, searchFetchSize)
		if err != nil {
			e.logger.Printf("search %q failed: %v", q.Query, err)
			continue
		}
		if len(posts) > 0 {
			if err := e.ledger.AddReads(ctx, int64(len(posts))); err != nil {
				return fmt.Errorf("record read usage: %w", err)
			}
		}
		quota := limits{}
		for _, name := range q.Actions {
			kind := store.Kind(name)
			quota[kind] = base[kind]
		}
		if err := e.actOnPosts(ctx, posts, quota, selfID); err != nil {
			return err
		}
	}
	return nil
}

// canRead asks the ledger whether a fetch returning up to n posts still fits
// the monthly read budget.
func (e *Engine) canRead(ctx context.Context, n int64) (bool, string) {
	ok, msg, err := e.ledger.CanRead(ctx, n)
	if err != nil {
		return false, err.Error()
	}
	return ok, msg
}

// actOnPosts walks the candidates in random order and performs each allowed
// action at most once per (post, kind), decrementing the quota as it goes.
// Self-authored posts are skipped. Stops once every quota hits zero.
func (e *Engine) actOnPosts(ctx context.Context, posts []xapi.Post, remaining limits, selfID string) error {
	shuffled := make([]xapi.Post, len(posts))
	copy(shuffled, posts)
	e.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	for _, p := range shuffled {
		if remaining.exhausted() {
			break
		}
		if p.AuthorID != "" && p.AuthorID == selfID {
			continue
		}

		var order []store.Kind
		for _, kind := range []store.Kind{store.KindReply, store.KindLike, store.KindFollow, store.KindRepost} {
			if remaining[kind] > 0 {
				order = append(order, kind)
			}
		}
		e.rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})

		for _, kind := range order {
			if remaining[kind] <= 0 {
				continue
			}
			acted, err := e.performAction(ctx, kind, p)
			if err != nil {
				e.logger.Printf("%s on %s failed: %v", kind, p.ID, err)
				continue
			}
			if acted {
				remaining[kind]--
				e.jitterSleep()
			}
		}
	}
	return nil
}

// performAction executes one engagement action if it has not been done
// before. Follows key on the author id rather than the post id.
func (e *Engine) performAction(ctx context.Context, kind store.Kind, p xapi.Post) (bool, error) {
	targetID := p.ID
	if kind == store.KindFollow {
		if p.AuthorID == "" {
			return false, nil
		}
		targetID = p.AuthorID
	}
	done, err := e.store.AlreadyActed(ctx, targetID, kind)
	if err != nil {
		return false, fmt.Errorf("check prior action: %w", err)
	}
	if done {
		return false, nil
	}
	if !e.cfg.DryRun {
		ok, msg, err := e.ledger.CanWrite(ctx, 1)
		if err != nil {
			return false, fmt.Errorf("check write budget: %w", err)
		}
		if !ok {
			e.logger.Printf("write budget refuses %s on %s: %s", kind, targetID, msg)
			e.stats.RecordDenied("budget")
			return false, nil
		}
	}

	action := store.Action{PostID: targetID, Kind: kind}
	switch kind {
	case store.KindReply:
		text := e.gen.HelpfulReply(p.Text)
		action.Text = text
		if e.cfg.DryRun {
			e.logger.Printf("[dry-run] reply to %s: %s", p.ID, text)
		} else {
			refID, err := e.api.Reply(ctx, p.ID, text)
			if err != nil {
				return false, err
			}
			action.RefID = refID
		}
	case store.KindLike:
		if e.cfg.DryRun {
			e.logger.Printf("[dry-run] like %s", p.ID)
		} else if err := e.api.LikePost(ctx, p.ID); err != nil {
			return false, err
		}
	case store.KindFollow:
		if e.cfg.DryRun {
			e.logger.Printf("[dry-run] follow %s", targetID)
		} else if err := e.api.FollowUser(ctx, targetID); err != nil {
			return false, err
		}
	case store.KindRepost:
		if e.cfg.DryRun {
			e.logger.Printf("[dry-run] repost %s", p.ID)
		} else if err := e.api.Repost(ctx, p.ID); err != nil {
			return false, err
		}
	default:
		return false, fmt.Errorf("unknown action kind %q", kind)
	}

	if e.cfg.DryRun {
		return true, nil
	}
	if _, err := e.store.AppendAction(ctx, action); err != nil {
		return false, fmt.Errorf("record %s action: %w", kind, err)
	}
	if err := e.ledger.AddWrites(ctx, 1); err != nil {
		return false, fmt.Errorf("record write usage: %w", err)
	}
	e.stats.RecordAction(string(kind))
	return true, nil
}

// Settle fetches engagement metrics for one post, stores them and updates
// the bandit arm.
func (e *Engine) Settle(ctx context.Context, postID, armID string) error {
	p, err := e.api.GetPost(ctx, postID)
	if err != nil {
		return fmt.Errorf("fetch metrics for %s: %w", postID, err)
	}
	if err := e.ledger.AddReads(ctx, 1); err != nil {
		return fmt.Errorf("record read usage: %w", err)
	}
	if p.Metrics == nil {
		return fmt.Errorf("no metrics for %s", postID)
	}
	m := p.Metrics
	reward := bandit.Reward(int64(m.LikeCount), int64(m.ReplyCount), int64(m.RetweetCount), int64(m.QuoteCount), int64(m.ImpressionCount))
	if err := e.store.UpsertMetrics(ctx, store.EngagementMetrics{
		PostID:      postID,
		Likes:       int64(m.LikeCount),
		Replies:     int64(m.ReplyCount),
		Reposts:     int64(m.RetweetCount),
		Quotes:      int64(m.QuoteCount),
		Impressions: int64(m.ImpressionCount),
		Reward:      reward,
	}); err != nil {
		return fmt.Errorf("store metrics for %s: %w", postID, err)
	}
	if _, err := e.learner.Update(ctx, armID, reward); err != nil {
		return fmt.Errorf("update arm %s: %w", armID, err)
	}
	e.stats.RecordSettlement(reward)
	e.logger.Printf("settled %s: reward=%.3f (likes=%d replies=%d reposts=%d)",
		postID, reward, m.LikeCount, m.ReplyCount, m.RetweetCount)
	return nil
}

// SettleAll settles recorded posts. Labeled posts credit their own arm;
// unlabeled ones fall back to learning.default_arm when configured and are
// skipped otherwise. Posts that already have stored metrics are skipped
// unless resettle is set. Returns the number settled; individual failures
// are logged and do not abort the pass.
func (e *Engine) SettleAll(ctx context.Context, resettle bool) (int, error) {
	actions, err := e.store.RecentActions(ctx, store.KindPost, 1000)
	if err != nil {
		return 0, fmt.Errorf("list posts: %w", err)
	}
	count := 0
	for _, a := range actions {
		if a.PostID == "" {
			continue
		}
		armID := e.cfg.Learning.DefaultArm
		if a.Topic != "" && a.Slot != "" {
			armID = bandit.ArmID(a.Topic, a.Slot, a.Media)
		}
		if armID == "" {
			continue
		}
		if !resettle {
			_, settled, err := e.store.Metrics(ctx, a.PostID)
			if err != nil {
				return count, fmt.Errorf("check metrics for %s: %w", a.PostID, err)
			}
			if settled {
				continue
			}
		}
		if err := e.Settle(ctx, a.PostID, armID); err != nil {
			e.logger.Printf("settle %s failed: %v", a.PostID, err)
			continue
		}
		count++
	}
	return count, nil
}

func (e *Engine) jitterSleep() {
	if len(e.cfg.JitterSeconds) != 2 {
		return
	}
	min, max := e.cfg.JitterSeconds[0], e.cfg.JitterSeconds[1]
	if max <= min {
		return
	}
	d := time.Duration(min+e.rng.Intn(max-min)) * time.Second
	e.sleep(d)
}
