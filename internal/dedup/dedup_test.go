package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/quietloop/xagent/internal/store"
)

type memFingerprints struct {
	fps []store.Fingerprint
}

func (m *memFingerprints) StoreFingerprint(_ context.Context, fp store.Fingerprint) error {
	m.fps = append(m.fps, fp)
	return nil
}

func (m *memFingerprints) ExactMatch(_ context.Context, hash string, since time.Time) (bool, error) {
	for _, fp := range m.fps {
		if fp.Hash == hash && !fp.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memFingerprints) RecentNormalized(_ context.Context, since time.Time, limit int) ([]string, error) {
	var out []string
	for i := len(m.fps) - 1; i >= 0 && len(out) < limit; i-- {
		if !m.fps[i].CreatedAt.Before(since) {
			out = append(out, m.fps[i].Normalized)
		}
	}
	return out, nil
}

func newTestIndex(mem *memFingerprints) *Index {
	idx := NewIndex(mem)
	idx.now = func() time.Time { return time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC) }
	return idx
}

func TestExactDuplicateWithinWindow(t *testing.T) {
	mem := &memFingerprints{}
	idx := newTestIndex(mem)
	ctx := context.Background()

	text := "Automate the boring parts first."
	if err := idx.Store(ctx, text, "1", time.Time{}); err != nil {
		t.Fatalf("Store: %v", err)
	}

	dup, err := idx.IsDuplicate(ctx, text, 7, 0.9)
	if err != nil {
		t.Fatalf("IsDuplicate: %v", err)
	}
	if !dup {
		t.Fatal("stored text should be an exact duplicate")
	}
}

func TestExactMatchOutsideWindowIgnored(t *testing.T) {
	mem := &memFingerprints{}
	idx := newTestIndex(mem)
	ctx := context.Background()

	text := "Old content from long ago"
	if err := idx.Store(ctx, text, "1", idx.now().Add(-8*24*time.Hour)); err != nil {
		t.Fatalf("Store: %v", err)
	}

	dup, err := idx.IsDuplicate(ctx, text, 7, 0.9)
	if err != nil {
		t.Fatalf("IsDuplicate: %v", err)
	}
	if dup {
		t.Fatal("fingerprint outside trailing window should not count")
	}
}

func TestNearDuplicateAtThreshold(t *testing.T) {
	mem := &memFingerprints{}
	idx := newTestIndex(mem)
	ctx := context.Background()

	// 9 shared tokens out of a 10-token union: Jaccard = 0.9 exactly.
	if err := idx.Store(ctx, "a b c d e f g h i j", "1", time.Time{}); err != nil {
		t.Fatalf("Store: %v", err)
	}

	dup, err := idx.IsDuplicate(ctx, "a b c d e f g h i", 7, 0.9)
	if err != nil {
		t.Fatalf("IsDuplicate: %v", err)
	}
	if !dup {
		t.Fatal("similarity exactly at threshold should count as duplicate")
	}
}

func TestBelowThresholdNotDuplicate(t *testing.T) {
	mem := &memFingerprints{}
	idx := newTestIndex(mem)
	ctx := context.Background()

	if err := idx.Store(ctx, "a b c d e f g h i j", "1", time.Time{}); err != nil {
		t.Fatalf("Store: %v", err)
	}

	// 8 shared tokens over a union of 10: Jaccard = 0.8.
	dup, err := idx.IsDuplicate(ctx, "a b c d e f g h", 7, 0.9)
	if err != nil {
		t.Fatalf("IsDuplicate: %v", err)
	}
	if dup {
		t.Fatal("similarity below threshold should not count")
	}
}

func TestCaseAndWhitespaceInsensitiveNearMatch(t *testing.T) {
	mem := &memFingerprints{}
	idx := newTestIndex(mem)
	ctx := context.Background()

	if err := idx.Store(ctx, "Data viz tip: label directly, minimize legends.", "1", time.Time{}); err != nil {
		t.Fatalf("Store: %v", err)
	}

	dup, err := idx.IsDuplicate(ctx, "  data VIZ tip:   label directly, minimize legends.", 7, 0.9)
	if err != nil {
		t.Fatalf("IsDuplicate: %v", err)
	}
	if !dup {
		t.Fatal("reformatted text should match")
	}
}

func TestEmptyTokenSetNeverForcesMatch(t *testing.T) {
	mem := &memFingerprints{}
	idx := newTestIndex(mem)
	ctx := context.Background()

	if err := idx.Store(ctx, "some stored text", "1", time.Time{}); err != nil {
		t.Fatalf("Store: %v", err)
	}

	dup, err := idx.IsDuplicate(ctx, "   ", 7, 0.9)
	if err != nil {
		t.Fatalf("IsDuplicate: %v", err)
	}
	if dup {
		t.Fatal("empty candidate must never match")
	}
}
