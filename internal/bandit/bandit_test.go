package bandit

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/quietloop/xagent/internal/store"
)

type memArms struct {
	arms map[string]store.Arm
}

func newMemArms() *memArms {
	return &memArms{arms: make(map[string]store.Arm)}
}

func (m *memArms) Arm(_ context.Context, id string) (store.Arm, error) {
	if arm, ok := m.arms[id]; ok {
		return arm, nil
	}
	return store.Arm{ID: id, Alpha: 1, Beta: 1}, nil
}

func (m *memArms) UpsertArm(_ context.Context, arm store.Arm) error {
	m.arms[arm.ID] = arm
	return nil
}

func (m *memArms) ListArms(_ context.Context) ([]store.Arm, error) {
	var out []store.Arm
	for _, arm := range m.arms {
		out = append(out, arm)
	}
	return out, nil
}

func newTestLearner(arms store.BanditStore, seed int64) *Learner {
	l := NewLearner(arms)
	l.rng = rand.New(rand.NewSource(seed))
	return l
}

func TestArmIDRoundTrip(t *testing.T) {
	id := ArmID("data-viz", "morning", false)
	if id != "data-viz|morning|false" {
		t.Fatalf("unexpected arm id %q", id)
	}
	topic, slot, media, ok := ParseArmID(id)
	if !ok {
		t.Fatal("ParseArmID failed")
	}
	if topic != "data-viz" || slot != "morning" || media {
		t.Fatalf("unexpected parse %q %q %v", topic, slot, media)
	}
	if _, _, _, ok := ParseArmID("bogus"); ok {
		t.Fatal("malformed id should not parse")
	}
}

func TestUpdateClampsReward(t *testing.T) {
	mem := newMemArms()
	l := newTestLearner(mem, 1)

	arm, err := l.Update(context.Background(), "topic|morning|false", 2.5)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if arm.Alpha != 2.0 {
		t.Fatalf("alpha = %v, want 2.0", arm.Alpha)
	}
	if arm.Beta != 1.0 {
		t.Fatalf("beta = %v, want 1.0", arm.Beta)
	}
}

func TestUpdateNegativeRewardClampsToZero(t *testing.T) {
	mem := newMemArms()
	l := newTestLearner(mem, 1)

	arm, err := l.Update(context.Background(), "a|morning|false", -3)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if arm.Alpha != 1.0 || arm.Beta != 2.0 {
		t.Fatalf("unexpected arm %+v", arm)
	}
}

func TestUpdateAccumulates(t *testing.T) {
	mem := newMemArms()
	l := newTestLearner(mem, 1)
	ctx := context.Background()

	if _, err := l.Update(ctx, "a|morning|false", 1); err != nil {
		t.Fatalf("Update: %v", err)
	}
	arm, err := l.Update(ctx, "a|morning|false", 0.25)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if math.Abs(arm.Alpha-2.25) > 1e-9 {
		t.Fatalf("alpha = %v, want 2.25", arm.Alpha)
	}
	if math.Abs(arm.Beta-1.75) > 1e-9 {
		t.Fatalf("beta = %v, want 1.75", arm.Beta)
	}
}

func TestChoosePrefersStrongArm(t *testing.T) {
	mem := newMemArms()
	mem.arms["good|morning|false"] = store.Arm{ID: "good|morning|false", Alpha: 50, Beta: 2}
	mem.arms["bad|morning|false"] = store.Arm{ID: "bad|morning|false", Alpha: 2, Beta: 50}
	l := newTestLearner(mem, 7)
	ctx := context.Background()

	ids := []string{"good|morning|false", "bad|morning|false"}
	wins := 0
	for i := 0; i < 100; i++ {
		chosen, err := l.Choose(ctx, ids)
		if err != nil {
			t.Fatalf("Choose: %v", err)
		}
		if chosen == "good|morning|false" {
			wins++
		}
	}
	if wins < 90 {
		t.Fatalf("strong arm won only %d/100 draws", wins)
	}
}

func TestChooseEmptyCandidates(t *testing.T) {
	l := newTestLearner(newMemArms(), 1)
	if _, err := l.Choose(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty candidate set")
	}
}

func TestGammaVariatePositiveAndFinite(t *testing.T) {
	l := newTestLearner(newMemArms(), 3)
	for _, shape := range []float64{0.3, 1, 2.5, 40} {
		for i := 0; i < 200; i++ {
			v := l.gamma(shape)
			if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("gamma(%v) produced %v", shape, v)
			}
		}
	}
}

func TestReward(t *testing.T) {
	cases := []struct {
		name                                  string
		likes, replies, reposts, quotes, imps int64
		want                                  float64
	}{
		{"impressions denominator", 10, 5, 0, 0, 100, 0.2},
		{"no impressions uses engagement total", 2, 1, 1, 0, 0, 1},
		{"zero engagement", 0, 0, 0, 0, 0, 0},
		{"clamped to one", 0, 50, 50, 0, 10, 1},
	}
	for _, c := range cases {
		got := Reward(c.likes, c.replies, c.reposts, c.quotes, c.imps)
		if math.Abs(got-c.want) > 1e-9 {
			t.Errorf("%s: Reward = %v, want %v", c.name, got, c.want)
		}
	}
}
