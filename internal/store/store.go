package store

import (
	"context"
	"strings"
	"time"
)

// Kind identifies the type of an action recorded in the log.
type Kind string

const (
	KindPost   Kind = "post"
	KindReply  Kind = "reply"
	KindLike   Kind = "like"
	KindFollow Kind = "follow"
	KindRepost Kind = "repost"
)

// Action represents a single attempted API action, successful or not.
// Rows are append-only and never mutated after insert.
type Action struct {
	ID        int64     `json:"id"`
	PostID    string    `json:"post_id"`
	Kind      Kind      `json:"kind"`
	RefID     string    `json:"ref_id,omitempty"`
	Text      string    `json:"text,omitempty"`
	Topic     string    `json:"topic,omitempty"`
	Slot      string    `json:"slot,omitempty"`
	Media     bool      `json:"media"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// MonthlyUsage tracks read/write calls for one calendar month keyed by
// "YYYY-MM". Counts only ever increase; a new period gets a fresh row.
type MonthlyUsage struct {
	Period      string `json:"period"`
	CreateCount int64  `json:"create_count"`
	ReadCount   int64  `json:"read_count"`
}

// Fingerprint is a normalized-text hash recorded alongside posted content,
// queried by the dedup index within a trailing window.
type Fingerprint struct {
	Hash       string    `json:"hash"`
	PostID     string    `json:"post_id,omitempty"`
	Text       string    `json:"text"`
	Normalized string    `json:"normalized"`
	CreatedAt  time.Time `json:"created_at"`
}

// Arm holds Thompson-Sampling statistics for one content strategy.
// Alpha and Beta start at the Beta(1,1) prior and never drop below 1.
type Arm struct {
	ID        string    `json:"arm"`
	Alpha     float64   `json:"alpha"`
	Beta      float64   `json:"beta"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EngagementMetrics captures the latest fetched public metrics for a post.
type EngagementMetrics struct {
	PostID      string    `json:"post_id"`
	Likes       int64     `json:"likes"`
	Replies     int64     `json:"replies"`
	Reposts     int64     `json:"reposts"`
	Quotes      int64     `json:"quotes"`
	Impressions int64     `json:"impressions"`
	Reward      float64   `json:"reward"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ActionStore persists the append-only action log.
type ActionStore interface {
	AppendAction(ctx context.Context, a Action) (int64, error)
	RecentActions(ctx context.Context, kind Kind, limit int) ([]Action, error)
	AlreadyActed(ctx context.Context, postID string, kind Kind) (bool, error)
}

// UsageStore persists monthly read/write counters.
type UsageStore interface {
	MonthlyUsage(ctx context.Context, period string) (MonthlyUsage, error)
	AddUsage(ctx context.Context, period string, creates, reads int64) error
}

// FingerprintStore persists text fingerprints for dedup lookups.
type FingerprintStore interface {
	StoreFingerprint(ctx context.Context, fp Fingerprint) error
	ExactMatch(ctx context.Context, hash string, since time.Time) (bool, error)
	RecentNormalized(ctx context.Context, since time.Time, limit int) ([]string, error)
}

// BanditStore persists per-arm Beta statistics.
type BanditStore interface {
	Arm(ctx context.Context, id string) (Arm, error)
	UpsertArm(ctx context.Context, arm Arm) error
	ListArms(ctx context.Context) ([]Arm, error)
}

// MetricsStore persists fetched engagement metrics.
type MetricsStore interface {
	UpsertMetrics(ctx context.Context, m EngagementMetrics) error
	Metrics(ctx context.Context, postID string) (EngagementMetrics, bool, error)
}

// Store aggregates all persistence concerns behind one connection.
type Store interface {
	ActionStore
	UsageStore
	FingerprintStore
	BanditStore
	MetricsStore
	Close() error
}

// NormalizeText lowercases and collapses internal whitespace so that
// trivially reformatted content hashes identically.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// Period formats t as the monthly usage key.
func Period(t time.Time) string {
	return t.UTC().Format("2006-01")
}
