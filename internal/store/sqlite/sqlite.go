package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/quietloop/xagent/internal/store"
)

// Store implements store.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite store at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS actions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	post_id TEXT,
	kind TEXT NOT NULL,
	ref_id TEXT,
	text TEXT,
	topic TEXT,
	slot TEXT,
	media INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'success',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_actions_created ON actions(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_actions_kind ON actions(kind);
CREATE INDEX IF NOT EXISTS idx_actions_post ON actions(post_id, kind);

CREATE TABLE IF NOT EXISTS usage_monthly (
	period TEXT PRIMARY KEY,
	create_count INTEGER NOT NULL DEFAULT 0,
	read_count INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS text_hashes (
	text_hash TEXT PRIMARY KEY,
	post_id TEXT,
	text TEXT,
	text_norm TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_text_hashes_created ON text_hashes(created_at DESC);

CREATE TABLE IF NOT EXISTS bandit (
	arm TEXT PRIMARY KEY,
	alpha REAL NOT NULL DEFAULT 1.0,
	beta REAL NOT NULL DEFAULT 1.0,
	updated_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS engagement_metrics (
	post_id TEXT PRIMARY KEY,
	likes INTEGER NOT NULL DEFAULT 0,
	replies INTEGER NOT NULL DEFAULT 0,
	reposts INTEGER NOT NULL DEFAULT 0,
	quotes INTEGER NOT NULL DEFAULT 0,
	impressions INTEGER NOT NULL DEFAULT 0,
	reward REAL NOT NULL DEFAULT 0.0,
	updated_at TIMESTAMP
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// AppendAction inserts a new action log row.
func (s *Store) AppendAction(ctx context.Context, a store.Action) (int64, error) {
	if a.Kind == "" {
		return 0, errors.New("action requires kind")
	}
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO actions(post_id, kind, ref_id, text, topic, slot, media, status, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.PostID,
		string(a.Kind),
		a.RefID,
		a.Text,
		a.Topic,
		a.Slot,
		boolToInt(a.Media),
		a.Status,
		created,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecentActions returns the latest actions, optionally filtered by kind.
func (s *Store) RecentActions(ctx context.Context, kind store.Kind, limit int) ([]store.Action, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
SELECT id, post_id, kind, ref_id, text, topic, slot, media, status, created_at
FROM actions`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []store.Action
	for rows.Next() {
		var a store.Action
		var kind string
		var media int
		if err := rows.Scan(&a.ID, &a.PostID, &kind, &a.RefID, &a.Text, &a.Topic, &a.Slot, &media, &a.Status, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Kind = store.Kind(kind)
		a.Media = media != 0
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// AlreadyActed reports whether an action of this kind was ever logged for the post.
func (s *Store) AlreadyActed(ctx context.Context, postID string, kind store.Kind) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM actions WHERE post_id = ? AND kind = ? LIMIT 1`,
		postID, string(kind))
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// MonthlyUsage returns counters for the period, zero-valued if absent.
func (s *Store) MonthlyUsage(ctx context.Context, period string) (store.MonthlyUsage, error) {
	usage := store.MonthlyUsage{Period: period}
	row := s.db.QueryRowContext(ctx,
		`SELECT create_count, read_count FROM usage_monthly WHERE period = ?`, period)
	if err := row.Scan(&usage.CreateCount, &usage.ReadCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return usage, nil
		}
		return store.MonthlyUsage{}, err
	}
	return usage, nil
}

// AddUsage adds to the counters for the period, creating the row on first use.
// Counters are additive only; callers never pass negative deltas.
func (s *Store) AddUsage(ctx context.Context, period string, creates, reads int64) error {
	if period == "" {
		return errors.New("usage period required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO usage_monthly(period, create_count, read_count, updated_at)
VALUES(?, ?, ?, ?)
ON CONFLICT(period) DO UPDATE SET
	create_count = create_count + excluded.create_count,
	read_count = read_count + excluded.read_count,
	updated_at = excluded.updated_at`,
		period, creates, reads, time.Now().UTC())
	return err
}

// StoreFingerprint records a text fingerprint for dedup lookups.
func (s *Store) StoreFingerprint(ctx context.Context, fp store.Fingerprint) error {
	if fp.Hash == "" {
		return errors.New("fingerprint requires hash")
	}
	created := fp.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT OR REPLACE INTO text_hashes(text_hash, post_id, text, text_norm, created_at)
VALUES(?, ?, ?, ?, ?)`,
		fp.Hash, fp.PostID, fp.Text, fp.Normalized, created)
	return err
}

// ExactMatch reports whether the hash was recorded at or after the cutoff.
func (s *Store) ExactMatch(ctx context.Context, hash string, since time.Time) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM text_hashes WHERE text_hash = ? AND created_at >= ? LIMIT 1`,
		hash, since)
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// RecentNormalized returns normalized texts recorded at or after the cutoff,
// newest first, capped at limit.
func (s *Store) RecentNormalized(ctx context.Context, since time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT text_norm FROM text_hashes
WHERE created_at >= ?
ORDER BY created_at DESC
LIMIT ?`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var texts []string
	for rows.Next() {
		var norm string
		if err := rows.Scan(&norm); err != nil {
			return nil, err
		}
		texts = append(texts, norm)
	}
	return texts, rows.Err()
}

// Arm returns the stored statistics for an arm, or the Beta(1,1) prior when
// the arm has never been updated.
func (s *Store) Arm(ctx context.Context, id string) (store.Arm, error) {
	arm := store.Arm{ID: id, Alpha: 1, Beta: 1}
	row := s.db.QueryRowContext(ctx,
		`SELECT alpha, beta, updated_at FROM bandit WHERE arm = ?`, id)
	var updated sql.NullTime
	if err := row.Scan(&arm.Alpha, &arm.Beta, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return arm, nil
		}
		return store.Arm{}, err
	}
	if updated.Valid {
		arm.UpdatedAt = updated.Time
	}
	return arm, nil
}

// UpsertArm writes the arm statistics.
func (s *Store) UpsertArm(ctx context.Context, arm store.Arm) error {
	if arm.ID == "" {
		return errors.New("arm id required")
	}
	updated := arm.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO bandit(arm, alpha, beta, updated_at) VALUES(?, ?, ?, ?)
ON CONFLICT(arm) DO UPDATE SET alpha = excluded.alpha, beta = excluded.beta, updated_at = excluded.updated_at`,
		arm.ID, arm.Alpha, arm.Beta, updated)
	return err
}

// ListArms returns all arms ordered by id.
func (s *Store) ListArms(ctx context.Context) ([]store.Arm, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT arm, alpha, beta, updated_at FROM bandit ORDER BY arm`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var arms []store.Arm
	for rows.Next() {
		var arm store.Arm
		var updated sql.NullTime
		if err := rows.Scan(&arm.ID, &arm.Alpha, &arm.Beta, &updated); err != nil {
			return nil, err
		}
		if updated.Valid {
			arm.UpdatedAt = updated.Time
		}
		arms = append(arms, arm)
	}
	return arms, rows.Err()
}

// UpsertMetrics writes the latest engagement metrics for a post.
func (s *Store) UpsertMetrics(ctx context.Context, m store.EngagementMetrics) error {
	if m.PostID == "" {
		return errors.New("metrics require post id")
	}
	updated := m.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO engagement_metrics(post_id, likes, replies, reposts, quotes, impressions, reward, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(post_id) DO UPDATE SET
	likes = excluded.likes,
	replies = excluded.replies,
	reposts = excluded.reposts,
	quotes = excluded.quotes,
	impressions = excluded.impressions,
	reward = excluded.reward,
	updated_at = excluded.updated_at`,
		m.PostID, m.Likes, m.Replies, m.Reposts, m.Quotes, m.Impressions, m.Reward, updated)
	return err
}

// Metrics returns stored metrics for the post and whether a row exists.
func (s *Store) Metrics(ctx context.Context, postID string) (store.EngagementMetrics, bool, error) {
	var m store.EngagementMetrics
	m.PostID = postID
	row := s.db.QueryRowContext(ctx, `
SELECT likes, replies, reposts, quotes, impressions, reward, updated_at
FROM engagement_metrics WHERE post_id = ?`, postID)
	var updated sql.NullTime
	if err := row.Scan(&m.Likes, &m.Replies, &m.Reposts, &m.Quotes, &m.Impressions, &m.Reward, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.EngagementMetrics{}, false, nil
		}
		return store.EngagementMetrics{}, false, err
	}
	if updated.Valid {
		m.UpdatedAt = updated.Time
	}
	return m, true, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
