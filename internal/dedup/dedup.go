// Package dedup rejects content that exactly or nearly repeats anything
// posted within a trailing window.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quietloop/xagent/internal/store"
)

// ErrDuplicate marks dedup rejections so callers can skip instead of abort.
var ErrDuplicate = errors.New("duplicate content")

const (
	// DefaultWindowDays bounds how far back lookups reach.
	DefaultWindowDays = 7
	// DefaultJaccardThreshold is the minimum token-set similarity treated
	// as a near-duplicate.
	DefaultJaccardThreshold = 0.9
	// nearDupCandidates caps how many recent fingerprints the Jaccard pass scans.
	nearDupCandidates = 200
)

// Index performs exact and near-duplicate checks over stored fingerprints.
type Index struct {
	fps store.FingerprintStore
	now func() time.Time
}

// NewIndex builds an index over the given fingerprint store.
func NewIndex(fps store.FingerprintStore) *Index {
	return &Index{fps: fps, now: time.Now}
}

// HashText returns the fingerprint hash of the raw text.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// IsDuplicate reports whether text repeats any fingerprint recorded within
// the trailing window. Exact hash match first, then token-set Jaccard against
// the most recent candidates. Non-positive days/threshold use the defaults.
func (i *Index) IsDuplicate(ctx context.Context, text string, days int, threshold float64) (bool, error) {
	if days <= 0 {
		days = DefaultWindowDays
	}
	if threshold <= 0 {
		threshold = DefaultJaccardThreshold
	}
	since := i.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)

	match, err := i.fps.ExactMatch(ctx, HashText(text), since)
	if err != nil {
		return false, fmt.Errorf("exact match lookup: %w", err)
	}
	if match {
		return true, nil
	}

	tokens := tokenSet(store.NormalizeText(text))
	if len(tokens) == 0 {
		return false, nil
	}

	recent, err := i.fps.RecentNormalized(ctx, since, nearDupCandidates)
	if err != nil {
		return false, fmt.Errorf("recent fingerprint scan: %w", err)
	}
	for _, norm := range recent {
		other := tokenSet(norm)
		if len(other) == 0 {
			continue
		}
		if jaccard(tokens, other) >= threshold {
			return true, nil
		}
	}
	return false, nil
}

// Store records a fingerprint for content that was actually sent.
func (i *Index) Store(ctx context.Context, text, postID string, ts time.Time) error {
	if ts.IsZero() {
		ts = i.now().UTC()
	}
	return i.fps.StoreFingerprint(ctx, store.Fingerprint{
		Hash:       HashText(text),
		PostID:     postID,
		Text:       text,
		Normalized: store.NormalizeText(text),
		CreatedAt:  ts,
	})
}

func tokenSet(norm string) map[string]struct{} {
	fields := strings.Fields(norm)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union <= 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
