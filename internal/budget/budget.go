// Package budget enforces monthly read/write caps against the platform plan.
//
// Each plan carries a hard cap per call class and a configurable safety
// buffer below it; the soft cap is the binding limit in normal operation.
package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quietloop/xagent/internal/store"
)

// Plan identifies the API subscription tier.
type Plan string

const (
	PlanFree  Plan = "free"
	PlanBasic Plan = "basic"
	PlanPro   Plan = "pro"
)

// ErrBudgetExceeded marks admission rejections so callers can skip instead of abort.
var ErrBudgetExceeded = errors.New("budget exceeded")

type caps struct {
	reads  int64
	writes int64
}

// Monthly caps per plan tier.
var planCaps = map[Plan]caps{
	PlanFree:  {reads: 100, writes: 500},
	PlanBasic: {reads: 15000, writes: 50000},
	PlanPro:   {reads: 1000000, writes: 300000},
}

// Config describes ledger construction. Caps are fixed at construction; there
// is no process-wide mutable cap state.
type Config struct {
	Plan      Plan
	BufferPct float64 // e.g. 0.05 keeps 5% headroom under the hard caps
	// Optional overrides; zero means use the plan default.
	ReadCap  int64
	WriteCap int64
}

// Ledger tracks monthly usage against plan caps with a safety buffer.
type Ledger struct {
	usage     store.UsageStore
	plan      Plan
	bufferPct float64

	readCap      int64
	writeCap     int64
	softReadCap  int64
	softWriteCap int64

	now func() time.Time
}

// Usage is a point-in-time budget snapshot.
type Usage struct {
	Period         string  `json:"period"`
	Plan           Plan    `json:"plan"`
	Reads          int64   `json:"reads"`
	Writes         int64   `json:"writes"`
	ReadCap        int64   `json:"read_cap"`
	WriteCap       int64   `json:"write_cap"`
	SoftReadCap    int64   `json:"soft_read_cap"`
	SoftWriteCap   int64   `json:"soft_write_cap"`
	ReadRemaining  int64   `json:"read_remaining"`
	WriteRemaining int64   `json:"write_remaining"`
	ReadPct        float64 `json:"read_pct"`
	WritePct       float64 `json:"write_pct"`
}

// NewLedger builds a ledger for the given plan over a usage store.
func NewLedger(usage store.UsageStore, cfg Config) (*Ledger, error) {
	base, ok := planCaps[cfg.Plan]
	if !ok {
		return nil, fmt.Errorf("unknown plan %q", cfg.Plan)
	}
	if cfg.BufferPct < 0 || cfg.BufferPct >= 1 {
		return nil, fmt.Errorf("buffer_pct %v out of range [0,1)", cfg.BufferPct)
	}
	readCap := base.reads
	if cfg.ReadCap > 0 {
		readCap = cfg.ReadCap
	}
	writeCap := base.writes
	if cfg.WriteCap > 0 {
		writeCap = cfg.WriteCap
	}
	return &Ledger{
		usage:        usage,
		plan:         cfg.Plan,
		bufferPct:    cfg.BufferPct,
		readCap:      readCap,
		writeCap:     writeCap,
		softReadCap:  int64(float64(readCap) * (1 - cfg.BufferPct)),
		softWriteCap: int64(float64(writeCap) * (1 - cfg.BufferPct)),
		now:          time.Now,
	}, nil
}

func (l *Ledger) period() string {
	return store.Period(l.now())
}

// CanRead reports whether n more read calls fit the current month's budget.
// The returned message explains the decision either way.
func (l *Ledger) CanRead(ctx context.Context, n int64) (bool, string, error) {
	usage, err := l.usage.MonthlyUsage(ctx, l.period())
	if err != nil {
		return false, "", fmt.Errorf("load monthly usage: %w", err)
	}
	return l.admit(usage.ReadCount+n, l.readCap, l.softReadCap, "reads")
}

// CanWrite reports whether n more write calls fit the current month's budget.
func (l *Ledger) CanWrite(ctx context.Context, n int64) (bool, string, error) {
	usage, err := l.usage.MonthlyUsage(ctx, l.period())
	if err != nil {
		return false, "", fmt.Errorf("load monthly usage: %w", err)
	}
	return l.admit(usage.CreateCount+n, l.writeCap, l.softWriteCap, "writes")
}

func (l *Ledger) admit(newTotal, hard, soft int64, class string) (bool, string, error) {
	if newTotal > hard {
		return false, fmt.Sprintf("Hard cap exceeded: %d > %d %s", newTotal, hard, class), nil
	}
	if newTotal > soft {
		return false, fmt.Sprintf("Soft cap exceeded: %d > %d %s (buffer: %.0f%%)", newTotal, soft, class, l.bufferPct*100), nil
	}
	return true, fmt.Sprintf("OK: %d/%d %s", newTotal, soft, class), nil
}

// AddReads commits n read calls to the current period. Never decremented.
func (l *Ledger) AddReads(ctx context.Context, n int64) error {
	if n <= 0 {
		return nil
	}
	return l.usage.AddUsage(ctx, l.period(), 0, n)
}

// AddWrites commits n write calls to the current period.
func (l *Ledger) AddWrites(ctx context.Context, n int64) error {
	if n <= 0 {
		return nil
	}
	return l.usage.AddUsage(ctx, l.period(), n, 0)
}

// Usage returns the current budget snapshot.
func (l *Ledger) Usage(ctx context.Context) (Usage, error) {
	period := l.period()
	usage, err := l.usage.MonthlyUsage(ctx, period)
	if err != nil {
		return Usage{}, fmt.Errorf("load monthly usage: %w", err)
	}
	u := Usage{
		Period:         period,
		Plan:           l.plan,
		Reads:          usage.ReadCount,
		Writes:         usage.CreateCount,
		ReadCap:        l.readCap,
		WriteCap:       l.writeCap,
		SoftReadCap:    l.softReadCap,
		SoftWriteCap:   l.softWriteCap,
		ReadRemaining:  l.readCap - usage.ReadCount,
		WriteRemaining: l.writeCap - usage.CreateCount,
	}
	if l.readCap > 0 {
		u.ReadPct = float64(usage.ReadCount) / float64(l.readCap) * 100
	}
	if l.writeCap > 0 {
		u.WritePct = float64(usage.CreateCount) / float64(l.writeCap) * 100
	}
	return u, nil
}
