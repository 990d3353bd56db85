// Package bandit implements Thompson Sampling over discrete content
// strategies keyed by topic, time slot and media flag.
package bandit

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/quietloop/xagent/internal/store"
)

// ArmID builds the canonical arm key for a (topic, slot, media) triple.
func ArmID(topic, slot string, media bool) string {
	return fmt.Sprintf("%s|%s|%s", topic, slot, strconv.FormatBool(media))
}

// ParseArmID splits an arm key back into its components.
func ParseArmID(id string) (topic, slot string, media bool, ok bool) {
	parts := strings.Split(id, "|")
	if len(parts) != 3 {
		return "", "", false, false
	}
	m, err := strconv.ParseBool(parts[2])
	if err != nil {
		return "", "", false, false
	}
	return parts[0], parts[1], m, true
}

// Learner selects and updates arms backed by a persistent store.
// Arm statistics accumulate for the lifetime of the store; no decay is applied.
type Learner struct {
	arms store.BanditStore
	rng  *rand.Rand
}

// NewLearner builds a learner over the given arm store.
func NewLearner(arms store.BanditStore) *Learner {
	return &Learner{
		arms: arms,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Choose samples each candidate arm from its Beta posterior and returns the
// arm with the highest draw. Unseen arms sample from the Beta(1,1) prior.
func (l *Learner) Choose(ctx context.Context, ids []string) (string, error) {
	if len(ids) == 0 {
		return "", fmt.Errorf("no candidate arms")
	}
	best := ids[0]
	bestScore := -1.0
	for _, id := range ids {
		arm, err := l.arms.Arm(ctx, id)
		if err != nil {
			return "", fmt.Errorf("load arm %s: %w", id, err)
		}
		score := l.sampleBeta(arm.Alpha, arm.Beta)
		if score > bestScore {
			best = id
			bestScore = score
		}
	}
	return best, nil
}

// Update clamps reward to [0,1] and applies the Beta posterior update.
// The alpha/beta floor of 1 is preserved because rewards are non-negative.
func (l *Learner) Update(ctx context.Context, id string, reward float64) (store.Arm, error) {
	reward = clamp01(reward)
	arm, err := l.arms.Arm(ctx, id)
	if err != nil {
		return store.Arm{}, fmt.Errorf("load arm %s: %w", id, err)
	}
	arm.Alpha += reward
	arm.Beta += 1 - reward
	arm.UpdatedAt = time.Now().UTC()
	if err := l.arms.UpsertArm(ctx, arm); err != nil {
		return store.Arm{}, fmt.Errorf("persist arm %s: %w", id, err)
	}
	return arm, nil
}

// Reward converts engagement counts into a [0,1] reward. Replies and reposts
// weigh double; impressions normalize when available, otherwise the raw
// engagement total (floored at 1) serves as the denominator.
func Reward(likes, replies, reposts, quotes, impressions int64) float64 {
	numer := float64(likes + 2*replies + 2*reposts + quotes)
	var denom float64
	if impressions > 0 {
		denom = float64(impressions)
	} else {
		total := likes + replies + reposts + quotes
		if total < 1 {
			total = 1
		}
		denom = float64(total)
	}
	return clamp01(numer / denom)
}

// sampleBeta draws from Beta(alpha, beta) via two Gamma variates.
func (l *Learner) sampleBeta(alpha, beta float64) float64 {
	a := l.gamma(alpha)
	b := l.gamma(beta)
	if a+b <= 0 {
		return 0.5
	}
	return a / (a + b)
}

// gamma draws a Gamma(shape, 1) variate using the Marsaglia-Tsang method,
// with the standard boost for shape < 1.
func (l *Learner) gamma(shape float64) float64 {
	if shape <= 0 {
		return 0
	}
	if shape < 1 {
		u := l.rng.Float64()
		for u == 0 {
			u = l.rng.Float64()
		}
		return l.gamma(shape+1) * math.Pow(u, 1/shape)
	}
	d := shape - 1.0/3.0
	c := 1 / math.Sqrt(9*d)
	for {
		x := l.rng.NormFloat64()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := l.rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
