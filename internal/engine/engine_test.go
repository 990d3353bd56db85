package engine

import (
	"context"
	"log"
	"math/rand"
	"os"
	"strconv"
	"testing"
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

type memStore struct {
	actions []store.Action
	usage   map[string]*store.MonthlyUsage
	fps     []store.Fingerprint
	arms    map[string]store.Arm
	metrics map[string]store.EngagementMetrics
}

func newMemStore() *memStore {
	return &memStore{
		usage:   map[string]*store.MonthlyUsage{},
		arms:    map[string]store.Arm{},
		metrics: map[string]store.EngagementMetrics{},
	}
}

func (m *memStore) AppendAction(ctx context.Context, a store.Action) (int64, error) {
	a.ID = int64(len(m.actions) + 1)
	m.actions = append(m.actions, a)
	return a.ID, nil
}

func (m *memStore) RecentActions(ctx context.Context, kind store.Kind, limit int) ([]store.Action, error) {
	var out []store.Action
	for i := len(m.actions) - 1; i >= 0 && len(out) < limit; i-- {
		if m.actions[i].Kind == kind {
			out = append(out, m.actions[i])
		}
	}
	return out, nil
}

func (m *memStore) AlreadyActed(ctx context.Context, postID string, kind store.Kind) (bool, error) {
	for _, a := range m.actions {
		if a.PostID == postID && a.Kind == kind {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) MonthlyUsage(ctx context.Context, period string) (store.MonthlyUsage, error) {
	if u, ok := m.usage[period]; ok {
		return *u, nil
	}
	return store.MonthlyUsage{Period: period}, nil
}

func (m *memStore) AddUsage(ctx context.Context, period string, creates, reads int64) error {
	u, ok := m.usage[period]
	if !ok {
		u = &store.MonthlyUsage{Period: period}
		m.usage[period] = u
	}
	u.CreateCount += creates
	u.ReadCount += reads
	return nil
}

func (m *memStore) StoreFingerprint(ctx context.Context, fp store.Fingerprint) error {
	m.fps = append(m.fps, fp)
	return nil
}

func (m *memStore) ExactMatch(ctx context.Context, hash string, since time.Time) (bool, error) {
	for _, fp := range m.fps {
		if fp.Hash == hash && !fp.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) RecentNormalized(ctx context.Context, since time.Time, limit int) ([]string, error) {
	var out []string
	for _, fp := range m.fps {
		if !fp.CreatedAt.Before(since) && len(out) < limit {
			out = append(out, fp.Normalized)
		}
	}
	return out, nil
}

func (m *memStore) Arm(ctx context.Context, id string) (store.Arm, error) {
	if a, ok := m.arms[id]; ok {
		return a, nil
	}
	return store.Arm{ID: id, Alpha: 1, Beta: 1}, nil
}

func (m *memStore) UpsertArm(ctx context.Context, arm store.Arm) error {
	m.arms[arm.ID] = arm
	return nil
}

func (m *memStore) ListArms(ctx context.Context) ([]store.Arm, error) {
	var out []store.Arm
	for _, a := range m.arms {
		out = append(out, a)
	}
	return out, nil
}

func (m *memStore) UpsertMetrics(ctx context.Context, em store.EngagementMetrics) error {
	m.metrics[em.PostID] = em
	return nil
}

func (m *memStore) Metrics(ctx context.Context, postID string) (store.EngagementMetrics, bool, error) {
	em, ok := m.metrics[postID]
	return em, ok, nil
}

func (m *memStore) Close() error { return nil }

type fakeAPI struct {
	selfID   string
	search   map[string][]xapi.Post
	userPost map[string][]xapi.Post
	posts    map[string]*xapi.Post

	created  []string
	replies  []string
	likes    []string
	follows  []string
	reposts  []string
	nextID   int
	searches []string
}

func (f *fakeAPI) SelfID(ctx context.Context) (string, error) { return f.selfID, nil }

func (f *fakeAPI) SearchRecent(ctx context.Context, query string, maxResults int) ([]xapi.Post, error) {
	f.searches = append(f.searches, query)
	return f.search[query], nil
}

func (f *fakeAPI) UserPosts(ctx context.Context, userID string, maxResults int) ([]xapi.Post, error) {
	return f.userPost[userID], nil
}

func (f *fakeAPI) GetPost(ctx context.Context, id string) (*xapi.Post, error) {
	return f.posts[id], nil
}

func (f *fakeAPI) CreatePost(ctx context.Context, text string) (string, error) {
	f.nextID++
	f.created = append(f.created, text)
	return "created-" + strconv.Itoa(f.nextID), nil
}

func (f *fakeAPI) Reply(ctx context.Context, inReplyTo, text string) (string, error) {
	f.replies = append(f.replies, inReplyTo)
	return "reply-ref", nil
}

func (f *fakeAPI) LikePost(ctx context.Context, postID string) error {
	f.likes = append(f.likes, postID)
	return nil
}

func (f *fakeAPI) FollowUser(ctx context.Context, targetUserID string) error {
	f.follows = append(f.follows, targetUserID)
	return nil
}

func (f *fakeAPI) Repost(ctx context.Context, postID string) error {
	f.reposts = append(f.reposts, postID)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Plan:   "free",
		Topics: []string{"automation"},
		Queries: []config.Query{
			{Query: "automation tips", Actions: []string{"like", "reply", "follow", "repost"}},
		},
		Schedule:      config.Schedule{Windows: []string{"morning"}},
		Cadence:       config.Cadence{Weekdays: []int{1, 2, 3, 4, 5, 6, 7}},
		MaxPerWindow:  config.MaxPerWindow{Post: 1, Reply: 1, Like: 1, Follow: 1, Repost: 1},
		JitterSeconds: []int{1, 2},
		Learning:      config.Learning{Enabled: false},
		Budget:        config.Budget{BufferPct: 0.05},
	}
}

func newTestEngine(t *testing.T, cfg *config.Config, st *memStore, api *fakeAPI) *Engine {
	t.Helper()
	ledger, err := budget.NewLedger(st, budget.Config{Plan: budget.Plan(cfg.Plan), BufferPct: cfg.Budget.BufferPct})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	e := New(cfg, st, api,
		ledger,
		dedup.NewIndex(st),
		bandit.NewLearner(st),
		content.New(cfg.Content.Templates, cfg.Content.Replies),
		log.New(os.Stderr, "[engine-test] ", 0),
	)
	e.rng = rand.New(rand.NewSource(7))
	e.sleep = func(time.Duration) {}
	return e
}

func atTime(e *Engine, hour, min int) {
	e.now = func() time.Time {
		return time.Date(2026, 3, 4, hour, min, 0, 0, time.UTC) // a Wednesday
	}
}

func TestCurrentSlotActiveWindow(t *testing.T) {
	e := newTestEngine(t, testConfig(), newMemStore(), &fakeAPI{})
	atTime(e, 10, 30)
	if got := e.CurrentSlot([]string{"morning", "evening"}); got != "morning" {
		t.Fatalf("slot = %q, want morning", got)
	}
	atTime(e, 19, 0)
	if got := e.CurrentSlot([]string{"morning", "evening"}); got != "evening" {
		t.Fatalf("slot = %q, want evening", got)
	}
}

func TestCurrentSlotCrossesMidnight(t *testing.T) {
	e := newTestEngine(t, testConfig(), newMemStore(), &fakeAPI{})
	atTime(e, 23, 30)
	if got := e.CurrentSlot([]string{"late-night"}); got != "late-night" {
		t.Fatalf("23:30 slot = %q", got)
	}
	atTime(e, 0, 45)
	if got := e.CurrentSlot([]string{"late-night"}); got != "late-night" {
		t.Fatalf("00:45 slot = %q", got)
	}
	atTime(e, 3, 0)
	// Outside every window: falls back to a random configured name.
	if got := e.CurrentSlot([]string{"late-night"}); got != "late-night" {
		t.Fatalf("fallback slot = %q", got)
	}

	// 02:01 is past the window's end. With a second configured window a
	// genuine match would always return late-night; the random fallback
	// eventually returns morning instead.
	atTime(e, 2, 1)
	sawMorning := false
	for seed := int64(0); seed < 20; seed++ {
		e.rng = rand.New(rand.NewSource(seed))
		if e.CurrentSlot([]string{"morning", "late-night"}) == "morning" {
			sawMorning = true
			break
		}
	}
	if !sawMorning {
		t.Fatal("02:01 treated as inside the late-night window")
	}

	// At 01:00 the window still matches regardless of the rng.
	atTime(e, 1, 0)
	for seed := int64(0); seed < 5; seed++ {
		e.rng = rand.New(rand.NewSource(seed))
		if got := e.CurrentSlot([]string{"morning", "late-night"}); got != "late-night" {
			t.Fatalf("01:00 slot = %q, want late-night", got)
		}
	}
}

func TestCurrentSlotEmpty(t *testing.T) {
	e := newTestEngine(t, testConfig(), newMemStore(), &fakeAPI{})
	if got := e.CurrentSlot(nil); got != "" {
		t.Fatalf("slot = %q, want empty", got)
	}
}

func TestRunPostHappyPath(t *testing.T) {
	st := newMemStore()
	api := &fakeAPI{selfID: "me"}
	e := newTestEngine(t, testConfig(), st, api)
	atTime(e, 10, 0)

	if err := e.RunPost(context.Background()); err != nil {
		t.Fatalf("RunPost: %v", err)
	}
	if len(api.created) != 1 {
		t.Fatalf("created = %d posts", len(api.created))
	}
	if len(st.actions) != 1 || st.actions[0].Kind != store.KindPost {
		t.Fatalf("actions = %+v", st.actions)
	}
	if st.actions[0].Topic != "automation" || st.actions[0].Slot != "morning" {
		t.Fatalf("action labels = %+v", st.actions[0])
	}
	if len(st.fps) != 1 {
		t.Fatalf("fingerprints = %d", len(st.fps))
	}
	u := st.usage[store.Period(time.Now())]
	if u == nil || u.CreateCount != 1 {
		t.Fatalf("usage = %+v", u)
	}
}

func TestRunPostSkipsDuplicate(t *testing.T) {
	st := newMemStore()
	api := &fakeAPI{selfID: "me"}
	cfg := testConfig()
	cfg.Content.Templates = map[string][]string{"automation": {"the only line"}}
	e := newTestEngine(t, cfg, st, api)
	atTime(e, 10, 0)

	idx := dedup.NewIndex(st)
	if err := idx.Store(context.Background(), "the only line", "old", time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("seed fingerprint: %v", err)
	}

	if err := e.RunPost(context.Background()); err != nil {
		t.Fatalf("RunPost: %v", err)
	}
	if len(api.created) != 0 {
		t.Fatal("duplicate should not be posted")
	}
	if u := st.usage[store.Period(time.Now())]; u != nil && u.CreateCount != 0 {
		t.Fatalf("duplicate consumed budget: %+v", u)
	}
}

func TestRunPostBudgetRefusal(t *testing.T) {
	st := newMemStore()
	api := &fakeAPI{selfID: "me"}
	e := newTestEngine(t, testConfig(), st, api)
	atTime(e, 10, 0)

	// Free plan hard write cap is 500.
	if err := st.AddUsage(context.Background(), store.Period(time.Now()), 500, 0); err != nil {
		t.Fatalf("seed usage: %v", err)
	}
	if err := e.RunPost(context.Background()); err != nil {
		t.Fatalf("RunPost: %v", err)
	}
	if len(api.created) != 0 {
		t.Fatal("over-budget post should be refused")
	}
}

func TestRunPostDryRun(t *testing.T) {
	st := newMemStore()
	api := &fakeAPI{selfID: "me"}
	cfg := testConfig()
	cfg.DryRun = true
	e := newTestEngine(t, cfg, st, api)
	atTime(e, 10, 0)

	if err := e.RunPost(context.Background()); err != nil {
		t.Fatalf("RunPost: %v", err)
	}
	if len(api.created) != 0 || len(st.actions) != 0 || len(st.fps) != 0 {
		t.Fatal("dry run must not write")
	}
}

func TestRunInteractSkipsSelfAndActsOnce(t *testing.T) {
	st := newMemStore()
	api := &fakeAPI{
		selfID: "me",
		search: map[string][]xapi.Post{
			"automation tips": {
				{ID: "p1", Text: "mine", AuthorID: "me"},
				{ID: "p2", Text: "theirs", AuthorID: "other"},
			},
		},
	}
	e := newTestEngine(t, testConfig(), st, api)
	atTime(e, 10, 0)

	if err := e.RunInteract(context.Background()); err != nil {
		t.Fatalf("RunInteract: %v", err)
	}
	if len(api.replies) != 1 || api.replies[0] != "p2" {
		t.Fatalf("replies = %v", api.replies)
	}
	if len(api.likes) != 1 || api.likes[0] != "p2" {
		t.Fatalf("likes = %v", api.likes)
	}
	if len(api.follows) != 1 || api.follows[0] != "other" {
		t.Fatalf("follows = %v", api.follows)
	}
	if len(api.reposts) != 1 || api.reposts[0] != "p2" {
		t.Fatalf("reposts = %v", api.reposts)
	}
	// Two posts read plus four writes booked.
	u := st.usage[store.Period(time.Now())]
	if u == nil || u.ReadCount != 2 || u.CreateCount != 4 {
		t.Fatalf("usage = %+v", u)
	}

	// A second pass must not repeat any action on the same targets.
	if err := e.RunInteract(context.Background()); err != nil {
		t.Fatalf("second RunInteract: %v", err)
	}
	if len(api.replies) != 1 || len(api.likes) != 1 || len(api.follows) != 1 || len(api.reposts) != 1 {
		t.Fatal("actions repeated on already-acted targets")
	}
}

func TestRunInteractFeatureFlagsZeroQuotas(t *testing.T) {
	st := newMemStore()
	api := &fakeAPI{
		selfID: "me",
		search: map[string][]xapi.Post{
			"automation tips": {{ID: "p2", Text: "theirs", AuthorID: "other"}},
		},
	}
	cfg := testConfig()
	cfg.FeatureFlags.AllowLikes = "off"
	cfg.FeatureFlags.AllowFollows = "off"
	e := newTestEngine(t, cfg, st, api)
	atTime(e, 10, 0)

	if err := e.RunInteract(context.Background()); err != nil {
		t.Fatalf("RunInteract: %v", err)
	}
	if len(api.likes) != 0 || len(api.follows) != 0 {
		t.Fatalf("flags off but likes=%v follows=%v", api.likes, api.follows)
	}
	if len(api.replies) != 1 || len(api.reposts) != 1 {
		t.Fatalf("replies=%v reposts=%v", api.replies, api.reposts)
	}
}

func TestRunInteractQueryActionsLimitKinds(t *testing.T) {
	st := newMemStore()
	api := &fakeAPI{
		selfID: "me",
		search: map[string][]xapi.Post{
			"automation tips": {{ID: "p2", Text: "theirs", AuthorID: "other"}},
		},
	}
	cfg := testConfig()
	cfg.Queries[0].Actions = []string{"like"}
	e := newTestEngine(t, cfg, st, api)
	atTime(e, 10, 0)

	if err := e.RunInteract(context.Background()); err != nil {
		t.Fatalf("RunInteract: %v", err)
	}
	if len(api.likes) != 1 {
		t.Fatalf("likes = %v", api.likes)
	}
	if len(api.replies) != 0 || len(api.follows) != 0 || len(api.reposts) != 0 {
		t.Fatal("actions outside the query's list were taken")
	}
}

func TestRunInteractWatchlist(t *testing.T) {
	st := newMemStore()
	api := &fakeAPI{
		selfID: "me",
		userPost: map[string][]xapi.Post{
			"friend": {{ID: "w1", Text: "from watchlist", AuthorID: "friend"}},
		},
	}
	cfg := testConfig()
	cfg.Queries = nil
	cfg.WatchlistUserIDs = []string{"friend"}
	e := newTestEngine(t, cfg, st, api)
	atTime(e, 10, 0)

	if err := e.RunInteract(context.Background()); err != nil {
		t.Fatalf("RunInteract: %v", err)
	}
	if len(api.likes) != 1 || api.likes[0] != "w1" {
		t.Fatalf("likes = %v", api.likes)
	}
}

func TestInteractBooksReadsPerPostReturned(t *testing.T) {
	st := newMemStore()
	api := &fakeAPI{
		selfID: "me",
		search: map[string][]xapi.Post{
			"automation tips": {
				{ID: "p1", Text: "one", AuthorID: "me"},
				{ID: "p2", Text: "two", AuthorID: "me"},
				{ID: "p3", Text: "three", AuthorID: "me"},
			},
		},
	}
	e := newTestEngine(t, testConfig(), st, api)
	atTime(e, 10, 0)

	if err := e.RunInteract(context.Background()); err != nil {
		t.Fatalf("RunInteract: %v", err)
	}
	u := st.usage[store.Period(time.Now())]
	if u == nil || u.ReadCount != 3 {
		t.Fatalf("usage = %+v, want 3 reads for 3 posts", u)
	}
	if u.CreateCount != 0 {
		t.Fatalf("self-authored posts consumed writes: %+v", u)
	}
}

func TestInteractHonorsWriteBudget(t *testing.T) {
	st := newMemStore()
	api := &fakeAPI{
		selfID: "me",
		search: map[string][]xapi.Post{
			"automation tips": {{ID: "p1", Text: "theirs", AuthorID: "other"}},
		},
	}
	e := newTestEngine(t, testConfig(), st, api)
	atTime(e, 10, 0)
	stats := metrics.NewCollector()
	e.SetCollector(stats)

	// Exhaust the free plan's monthly write cap.
	ctx := context.Background()
	if err := st.AddUsage(ctx, store.Period(time.Now()), 500, 0); err != nil {
		t.Fatalf("seed usage: %v", err)
	}

	if err := e.RunInteract(ctx); err != nil {
		t.Fatalf("RunInteract: %v", err)
	}
	if len(api.replies)+len(api.likes)+len(api.follows)+len(api.reposts) != 0 {
		t.Fatalf("writes executed over budget: replies=%v likes=%v follows=%v reposts=%v",
			api.replies, api.likes, api.follows, api.reposts)
	}
	u := st.usage[store.Period(time.Now())]
	if u.CreateCount != 500 {
		t.Fatalf("write count moved: %+v", u)
	}
	if got := stats.GetSnapshot().ActionsDenied["budget"]; got == 0 {
		t.Fatal("budget refusals not recorded")
	}
}

func TestSettleAllUpdatesArms(t *testing.T) {
	st := newMemStore()
	api := &fakeAPI{
		selfID: "me",
		posts: map[string]*xapi.Post{
			"post-1": {ID: "post-1", Metrics: &xapi.PublicMetrics{
				LikeCount: 4, ReplyCount: 2, RetweetCount: 1, QuoteCount: 0, ImpressionCount: 100,
			}},
		},
	}
	e := newTestEngine(t, testConfig(), st, api)
	atTime(e, 10, 0)

	ctx := context.Background()
	if _, err := st.AppendAction(ctx, store.Action{
		PostID: "post-1", Kind: store.KindPost, Topic: "automation", Slot: "morning",
	}); err != nil {
		t.Fatalf("seed action: %v", err)
	}
	// Posts without labels are skipped when no default arm is configured.
	if _, err := st.AppendAction(ctx, store.Action{PostID: "post-2", Kind: store.KindPost}); err != nil {
		t.Fatalf("seed unlabeled action: %v", err)
	}

	n, err := e.SettleAll(ctx, false)
	if err != nil {
		t.Fatalf("SettleAll: %v", err)
	}
	if n != 1 {
		t.Fatalf("settled = %d, want 1", n)
	}
	// reward = (4 + 2*2 + 2*1 + 0) / 100 = 0.10
	em, ok, _ := st.Metrics(ctx, "post-1")
	if !ok || em.Reward < 0.099 || em.Reward > 0.101 {
		t.Fatalf("metrics = %+v", em)
	}
	arm := st.arms[bandit.ArmID("automation", "morning", false)]
	if arm.Alpha < 1.099 || arm.Alpha > 1.101 || arm.Beta < 1.899 || arm.Beta > 1.901 {
		t.Fatalf("arm = %+v", arm)
	}
}

func TestSettleAllDefaultArmForUnlabeledPosts(t *testing.T) {
	st := newMemStore()
	api := &fakeAPI{
		selfID: "me",
		posts: map[string]*xapi.Post{
			"post-1": {ID: "post-1", Metrics: &xapi.PublicMetrics{
				LikeCount: 10, ImpressionCount: 100,
			}},
		},
	}
	cfg := testConfig()
	cfg.Learning.DefaultArm = bandit.ArmID("general", "morning", false)
	e := newTestEngine(t, cfg, st, api)
	atTime(e, 10, 0)

	ctx := context.Background()
	if _, err := st.AppendAction(ctx, store.Action{PostID: "post-1", Kind: store.KindPost}); err != nil {
		t.Fatalf("seed action: %v", err)
	}

	n, err := e.SettleAll(ctx, false)
	if err != nil {
		t.Fatalf("SettleAll: %v", err)
	}
	if n != 1 {
		t.Fatalf("settled = %d, want 1", n)
	}
	arm := st.arms[cfg.Learning.DefaultArm]
	if arm.Alpha <= 1 {
		t.Fatalf("default arm not credited: %+v", arm)
	}
}

func TestSettleAllSkipsAlreadySettled(t *testing.T) {
	st := newMemStore()
	api := &fakeAPI{
		selfID: "me",
		posts: map[string]*xapi.Post{
			"post-1": {ID: "post-1", Metrics: &xapi.PublicMetrics{
				LikeCount: 10, ImpressionCount: 100,
			}},
		},
	}
	e := newTestEngine(t, testConfig(), st, api)
	atTime(e, 10, 0)

	ctx := context.Background()
	if _, err := st.AppendAction(ctx, store.Action{
		PostID: "post-1", Kind: store.KindPost, Topic: "automation", Slot: "morning",
	}); err != nil {
		t.Fatalf("seed action: %v", err)
	}

	if n, _ := e.SettleAll(ctx, false); n != 1 {
		t.Fatalf("first pass settled %d, want 1", n)
	}
	if n, _ := e.SettleAll(ctx, false); n != 0 {
		t.Fatalf("second pass re-settled %d posts", n)
	}
	// Forcing a re-settle fetches fresh metrics again.
	if n, _ := e.SettleAll(ctx, true); n != 1 {
		t.Fatal("resettle should revisit settled posts")
	}
}

func TestRunSkipsOffCadence(t *testing.T) {
	st := newMemStore()
	api := &fakeAPI{selfID: "me"}
	cfg := testConfig()
	cfg.Cadence.Weekdays = []int{1} // Mondays only
	e := newTestEngine(t, cfg, st, api)
	atTime(e, 10, 0) // a Wednesday

	if err := e.Run(context.Background(), "both"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(api.created) != 0 || len(api.searches) != 0 {
		t.Fatal("off-cadence run should do nothing")
	}
}

func TestRunRejectsUnknownMode(t *testing.T) {
	e := newTestEngine(t, testConfig(), newMemStore(), &fakeAPI{selfID: "me"})
	atTime(e, 10, 0)
	if err := e.Run(context.Background(), "panic"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestCollectorRecordsActions(t *testing.T) {
	st := newMemStore()
	api := &fakeAPI{selfID: "me"}
	cfg := testConfig()
	cfg.Content.Templates = map[string][]string{"automation": {"Fixed text about workflows."}}
	e := newTestEngine(t, cfg, st, api)
	atTime(e, 10, 0)

	collector := metrics.NewCollector()
	e.SetCollector(collector)

	if err := e.RunPost(context.Background()); err != nil {
		t.Fatalf("RunPost: %v", err)
	}
	snap := collector.GetSnapshot()
	if snap.Actions["post"] != 1 {
		t.Fatalf("post actions = %d, want 1", snap.Actions["post"])
	}

	// Re-stamp the fingerprint so it sits inside the dedup window relative
	// to the wall clock the index consults.
	for i := range st.fps {
		st.fps[i].CreatedAt = time.Now().UTC()
	}

	// A second pass trips the dedup index and records a denial.
	if err := e.RunPost(context.Background()); err != nil {
		t.Fatalf("second RunPost: %v", err)
	}
	snap = collector.GetSnapshot()
	if snap.Actions["post"] != 1 {
		t.Fatalf("post actions after dup = %d, want 1", snap.Actions["post"])
	}
	if snap.ActionsDenied["duplicate"] != 1 {
		t.Fatalf("duplicate denials = %d, want 1", snap.ActionsDenied["duplicate"])
	}
}

func TestRunPostHonorsWindowQuota(t *testing.T) {
	st := newMemStore()
	api := &fakeAPI{selfID: "me"}
	cfg := testConfig()
	e := newTestEngine(t, cfg, st, api)
	atTime(e, 10, 0)

	// One post already published inside this morning window.
	st.actions = append(st.actions, store.Action{
		ID:        1,
		PostID:    "earlier",
		Kind:      store.KindPost,
		Slot:      "morning",
		CreatedAt: time.Date(2026, 3, 4, 9, 15, 0, 0, time.UTC),
	})

	if err := e.RunPost(context.Background()); err != nil {
		t.Fatalf("RunPost: %v", err)
	}
	if len(api.created) != 0 {
		t.Fatalf("expected no post, created %v", api.created)
	}

	// A post from yesterday's occurrence does not count.
	st.actions[0].CreatedAt = time.Date(2026, 3, 3, 9, 15, 0, 0, time.UTC)
	if err := e.RunPost(context.Background()); err != nil {
		t.Fatalf("second RunPost: %v", err)
	}
	if len(api.created) != 1 {
		t.Fatalf("expected one post, created %v", api.created)
	}
}
