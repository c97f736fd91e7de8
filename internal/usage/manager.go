package usage

import (
	"context"
	"fmt"
	"io"
	"time"
)

// LimitsConfig configures spending limits.
type LimitsConfig struct {
	// Enabled controls whether limits are enforced at all. When false,
	// CheckAllLimits always allows the caller to proceed.
	Enabled bool `yaml:"enabled"`

	// DailyLimitUSD and MonthlyLimitUSD cap estimated spend. A zero limit
	// contributes 0% used rather than an error.
	DailyLimitUSD   float64 `yaml:"daily_limit_usd"`
	MonthlyLimitUSD float64 `yaml:"monthly_limit_usd"`

	// WarnThreshold and BlockThreshold are fractions of the tighter limit.
	WarnThreshold  float64 `yaml:"warn_threshold"`
	BlockThreshold float64 `yaml:"block_threshold"`
}

// DefaultLimitsConfig returns the default spending limits.
func DefaultLimitsConfig() LimitsConfig {
	return LimitsConfig{
		Enabled:         true,
		DailyLimitUSD:   5,
		MonthlyLimitUSD: 50,
		WarnThreshold:   0.80,
		BlockThreshold:  1.00,
	}
}

// Manager records per-invocation usage and answers pre-flight limit checks.
type Manager struct {
	store   Store
	pricing map[string]Pricing
	limits  LimitsConfig
	now     func() time.Time
}

// NewManager creates a cost manager. A nil pricing table uses the built-in
// defaults.
func NewManager(store Store, pricing map[string]Pricing, limits LimitsConfig) *Manager {
	if pricing == nil {
		pricing = DefaultPricing()
	}
	if limits.WarnThreshold <= 0 {
		limits.WarnThreshold = 0.80
	}
	if limits.BlockThreshold <= 0 {
		limits.BlockThreshold = 1.00
	}
	return &Manager{
		store:   store,
		pricing: pricing,
		limits:  limits,
		now:     time.Now,
	}
}

// RecordUsage appends a usage record dated to the current day, with cost
// derived from the pricing table. Unknown models use the default model's
// pricing.
func (m *Manager) RecordUsage(ctx context.Context, model string, inputTokens, outputTokens int64) (Record, error) {
	rec := Record{
		Model:            model,
		InputTokens:      inputTokens,
		OutputTokens:     outputTokens,
		Date:             DayOf(m.now()),
		EstimatedCostUSD: PriceFor(m.pricing, model).Cost(inputTokens, outputTokens),
	}
	if err := m.store.Append(ctx, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// LimitCheck is the result of a pre-flight spending check.
type LimitCheck struct {
	CanProceed  bool    `json:"can_proceed"`
	PercentUsed float64 `json:"percent_used"`
	Message     string  `json:"message"`
}

// CheckAllLimits evaluates daily and monthly spend against the configured
// limits. PercentUsed reflects whichever limit is closer to exhaustion.
func (m *Manager) CheckAllLimits(ctx context.Context) (LimitCheck, error) {
	if !m.limits.Enabled {
		return LimitCheck{CanProceed: true, Message: "cost limits disabled"}, nil
	}

	now := m.now()
	day := DayOf(now)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	monthEnd := monthStart.AddDate(0, 1, 0)

	dailyCost, err := m.store.SumCost(ctx, day, day.AddDate(0, 0, 1))
	if err != nil {
		return LimitCheck{}, fmt.Errorf("daily cost: %w", err)
	}
	monthlyCost, err := m.store.SumCost(ctx, monthStart, monthEnd)
	if err != nil {
		return LimitCheck{}, fmt.Errorf("monthly cost: %w", err)
	}

	dailyPct := percentUsed(dailyCost, m.limits.DailyLimitUSD)
	monthlyPct := percentUsed(monthlyCost, m.limits.MonthlyLimitUSD)

	pct := dailyPct
	scope := "daily"
	used, limit := dailyCost, m.limits.DailyLimitUSD
	if monthlyPct > pct {
		pct = monthlyPct
		scope = "monthly"
		used, limit = monthlyCost, m.limits.MonthlyLimitUSD
	}

	check := LimitCheck{CanProceed: true, PercentUsed: pct}
	switch {
	case pct >= m.limits.BlockThreshold*100:
		check.CanProceed = false
		check.Message = fmt.Sprintf("%s cost limit reached: $%.4f of $%.2f used", scope, used, limit)
	case pct >= m.limits.WarnThreshold*100:
		check.Message = fmt.Sprintf("approaching %s cost limit: %.0f%% used", scope, pct)
	default:
		check.Message = fmt.Sprintf("%.0f%% of %s cost limit used", pct, scope)
	}
	return check, nil
}

// percentUsed guards division by a zero limit, defined as 0% used.
func percentUsed(cost, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return cost / limit * 100
}

// ExportCSV writes all usage records as CSV ordered by date ascending.
func (m *Manager) ExportCSV(ctx context.Context, w io.Writer) error {
	records, err := m.store.List(ctx)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, "Date,Model,Input Tokens,Output Tokens,Cost (USD)"); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range records {
		_, err := fmt.Fprintf(w, "%s,%s,%d,%d,%.6f\n",
			r.Date.Format("2006-01-02"), r.Model, r.InputTokens, r.OutputTokens, r.EstimatedCostUSD)
		if err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	return nil
}
