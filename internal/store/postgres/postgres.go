package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/quietloop/xagent/internal/store"
)

// Store implements store.Store backed by PostgreSQL, for deployments that
// point multiple tools at one shared database. Concurrent agent processes
// sharing one store are not coordinated; see DESIGN.md.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL-backed store using the provided DSN and pool settings.
func New(dsn string, maxOpen, maxIdle int) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
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
	id BIGSERIAL PRIMARY KEY,
	post_id TEXT,
	kind TEXT NOT NULL,
	ref_id TEXT,
	text TEXT,
	topic TEXT,
	slot TEXT,
	media BOOLEAN NOT NULL DEFAULT FALSE,
	status TEXT NOT NULL DEFAULT 'success',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_actions_created ON actions(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_actions_kind ON actions(kind);
CREATE INDEX IF NOT EXISTS idx_actions_post ON actions(post_id, kind);

CREATE TABLE IF NOT EXISTS usage_monthly (
	period TEXT PRIMARY KEY,
	create_count BIGINT NOT NULL DEFAULT 0,
	read_count BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS text_hashes (
	text_hash TEXT PRIMARY KEY,
	post_id TEXT,
	text TEXT,
	text_norm TEXT,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_text_hashes_created ON text_hashes(created_at DESC);

CREATE TABLE IF NOT EXISTS bandit (
	arm TEXT PRIMARY KEY,
	alpha DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	beta DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	updated_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS engagement_metrics (
	post_id TEXT PRIMARY KEY,
	likes BIGINT NOT NULL DEFAULT 0,
	replies BIGINT NOT NULL DEFAULT 0,
	reposts BIGINT NOT NULL DEFAULT 0,
	quotes BIGINT NOT NULL DEFAULT 0,
	impressions BIGINT NOT NULL DEFAULT 0,
	reward DOUBLE PRECISION NOT NULL DEFAULT 0.0,
	updated_at TIMESTAMPTZ
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
	var id int64
	err := s.db.QueryRowContext(ctx, `
INSERT INTO actions(post_id, kind, ref_id, text, topic, slot, media, status, created_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id`,
		a.PostID, string(a.Kind), a.RefID, a.Text, a.Topic, a.Slot, a.Media, a.Status, created,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
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
		query += ` WHERE kind = $1 ORDER BY created_at DESC LIMIT $2`
		args = append(args, string(kind), limit)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []store.Action
	for rows.Next() {
		var a store.Action
		var k string
		if err := rows.Scan(&a.ID, &a.PostID, &k, &a.RefID, &a.Text, &a.Topic, &a.Slot, &a.Media, &a.Status, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Kind = store.Kind(k)
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// AlreadyActed reports whether an action of this kind was ever logged for the post.
func (s *Store) AlreadyActed(ctx context.Context, postID string, kind store.Kind) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM actions WHERE post_id = $1 AND kind = $2 LIMIT 1`,
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
		`SELECT create_count, read_count FROM usage_monthly WHERE period = $1`, period)
	if err := row.Scan(&usage.CreateCount, &usage.ReadCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return usage, nil
		}
		return store.MonthlyUsage{}, err
	}
	return usage, nil
}

// AddUsage adds to the counters for the period, creating the row on first use.
func (s *Store) AddUsage(ctx context.Context, period string, creates, reads int64) error {
	if period == "" {
		return errors.New("usage period required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO usage_monthly(period, create_count, read_count, updated_at)
VALUES($1, $2, $3, $4)
ON CONFLICT(period) DO UPDATE SET
	create_count = usage_monthly.create_count + EXCLUDED.create_count,
	read_count = usage_monthly.read_count + EXCLUDED.read_count,
	updated_at = EXCLUDED.updated_at`,
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
INSERT INTO text_hashes(text_hash, post_id, text, text_norm, created_at)
VALUES($1, $2, $3, $4, $5)
ON CONFLICT(text_hash) DO UPDATE SET
	post_id = EXCLUDED.post_id,
	text = EXCLUDED.text,
	text_norm = EXCLUDED.text_norm,
	created_at = EXCLUDED.created_at`,
		fp.Hash, fp.PostID, fp.Text, fp.Normalized, created)
	return err
}

// ExactMatch reports whether the hash was recorded at or after the cutoff.
func (s *Store) ExactMatch(ctx context.Context, hash string, since time.Time) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM text_hashes WHERE text_hash = $1 AND created_at >= $2 LIMIT 1`,
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

// RecentNormalized returns normalized texts recorded at or after the cutoff.
func (s *Store) RecentNormalized(ctx context.Context, since time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT text_norm FROM text_hashes
WHERE created_at >= $1
ORDER BY created_at DESC
LIMIT $2`, since, limit)
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

// Arm returns the stored statistics for an arm, defaulting to the Beta(1,1) prior.
func (s *Store) Arm(ctx context.Context, id string) (store.Arm, error) {
	arm := store.Arm{ID: id, Alpha: 1, Beta: 1}
	row := s.db.QueryRowContext(ctx,
		`SELECT alpha, beta, updated_at FROM bandit WHERE arm = $1`, id)
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
INSERT INTO bandit(arm, alpha, beta, updated_at) VALUES($1, $2, $3, $4)
ON CONFLICT(arm) DO UPDATE SET alpha = EXCLUDED.alpha, beta = EXCLUDED.beta, updated_at = EXCLUDED.updated_at`,
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
VALUES($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT(post_id) DO UPDATE SET
	likes = EXCLUDED.likes,
	replies = EXCLUDED.replies,
	reposts = EXCLUDED.reposts,
	quotes = EXCLUDED.quotes,
	impressions = EXCLUDED.impressions,
	reward = EXCLUDED.reward,
	updated_at = EXCLUDED.updated_at`,
		m.PostID, m.Likes, m.Replies, m.Reposts, m.Quotes, m.Impressions, m.Reward, updated)
	return err
}

// Metrics returns stored metrics for the post and whether a row exists.
func (s *Store) Metrics(ctx context.Context, postID string) (store.EngagementMetrics, bool, error) {
	var m store.EngagementMetrics
	m.PostID = postID
	row := s.db.QueryRowContext(ctx, `
SELECT likes, replies, reposts, quotes, impressions, reward, updated_at
FROM engagement_metrics WHERE post_id = $1`, postID)
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
