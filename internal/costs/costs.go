// Package costs estimates, records, and guards the money side of routing.
// Usage records are append-only; the guardrail vetoes execution when a
// tenant's forecast spend would exceed a fixed share of their revenue.
package costs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/analyzer"
	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/registry"
)

// Tier is the pricing ladder used by the estimator. The first three tiers are
// reachable from complexity classes; expert exists only for explicit callers.
type Tier int

const (
	TierSimple Tier = iota
	TierModerate
	TierAdvanced
	TierExpert
)

func (t Tier) String() string {
	switch t {
	case TierSimple:
		return "simple"
	case TierModerate:
		return "moderate"
	case TierAdvanced:
		return "advanced"
	case TierExpert:
		return "expert"
	default:
		return "unknown"
	}
}

// Multiplier returns the cost multiplier for the tier.
func (t Tier) Multiplier() float64 {
	switch t {
	case TierModerate:
		return 2
	case TierAdvanced:
		return 4
	case TierExpert:
		return 8
	default:
		return 1
	}
}

// TierFor maps a complexity class onto the pricing ladder.
func TierFor(c analyzer.Complexity) Tier {
	switch c {
	case analyzer.Moderate:
		return TierModerate
	case analyzer.Complex:
		return TierAdvanced
	default:
		return TierSimple
	}
}

// UsageRecord is one append-only accounting entry.
type UsageRecord struct {
	ID          string
	TenantID    string
	ProviderID  string
	InputUnits  int
	OutputUnits int
	CostUSD     float64
	Timestamp   time.Time
}

// Sink persists usage records. Appends never mutate prior records.
type Sink interface {
	Append(ctx context.Context, rec UsageRecord) error
}

// Estimator produces tiered cost estimates for a provider call.
type Estimator struct {
	baseUnitTokens float64
}

// NewEstimator creates an estimator. baseUnitTokens is the assumed token
// volume of a base-tier call; 0 means 1000 (one full pricing unit).
func NewEstimator(baseUnitTokens float64) *Estimator {
	if baseUnitTokens <= 0 {
		baseUnitTokens = 1000
	}
	return &Estimator{baseUnitTokens: baseUnitTokens}
}

// Estimate returns the forecast cost of one call to the provider at the tier.
func (e *Estimator) Estimate(d registry.Descriptor, tier Tier) float64 {
	base := d.PricePer1K() * e.baseUnitTokens / 1000
	return base * tier.Multiplier()
}

// TrackerConfig contains tracker and guardrail configuration.
type TrackerConfig struct {
	// GuardrailRatio is the maximum allowed forecast/revenue share.
	GuardrailRatio float64
	// TenantRevenue maps tenant IDs to their monthly revenue in USD.
	TenantRevenue map[string]float64
	// DefaultMonthlyRevenue applies to tenants absent from TenantRevenue.
	// Zero means unknown tenants fail closed on any positive forecast.
	DefaultMonthlyRevenue float64
	Logger                *slog.Logger
}

// Tracker records usage and evaluates the budget guardrail.
type Tracker struct {
	sink    Sink
	cfg     TrackerConfig
	logger  *slog.Logger
	onSpend func(rec UsageRecord)

	// Month-scoped spend aggregates, keyed tenant:YYYY-MM. Entries expire
	// on their own once the month is no longer interesting.
	aggMu sync.Mutex
	agg   *gocache.Cache

	now func() time.Time
}

const aggregateTTL = 62 * 24 * time.Hour

// NewTracker creates a tracker writing to the given sink.
func NewTracker(sink Sink, cfg TrackerConfig) *Tracker {
	if cfg.GuardrailRatio <= 0 {
		cfg.GuardrailRatio = 0.70
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		sink:   sink,
		cfg:    cfg,
		logger: logger,
		agg:    gocache.New(aggregateTTL, 24*time.Hour),
		now:    time.Now,
	}
}

// OnSpend sets a callback invoked after every recorded usage entry, used to
// feed cost metrics without coupling the tracker to the metrics package.
func (t *Tracker) OnSpend(fn func(rec UsageRecord)) {
	t.onSpend = fn
}

// Record appends a usage record and folds its cost into the tenant's
// current-month aggregate. Records are never updated in place.
func (t *Tracker) Record(ctx context.Context, rec UsageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = t.now().UTC()
	}

	if err := t.sink.Append(ctx, rec); err != nil {
		// The aggregate is still advanced: losing a persisted row must not
		// loosen the guardrail.
		t.logger.Warn("usage sink append failed", "error", err, "tenant", rec.TenantID)
	}

	key := aggregateKey(rec.TenantID, rec.Timestamp)
	t.aggMu.Lock()
	current := 0.0
	if v, ok := t.agg.Get(key); ok {
		current = v.(float64)
	}
	t.agg.Set(key, current+rec.CostUSD, gocache.DefaultExpiration)
	t.aggMu.Unlock()

	if t.onSpend != nil {
		t.onSpend(rec)
	}
	return nil
}

// MonthSpend returns the tenant's recorded spend for the current month.
func (t *Tracker) MonthSpend(tenantID string) float64 {
	key := aggregateKey(tenantID, t.now().UTC())
	t.aggMu.Lock()
	defer t.aggMu.Unlock()
	if v, ok := t.agg.Get(key); ok {
		return v.(float64)
	}
	return 0
}

// Forecast returns the tenant's projected month spend if a call with the
// given estimated cost were executed now.
func (t *Tracker) Forecast(tenantID string, estimatedCostUSD float64) float64 {
	return t.MonthSpend(tenantID) + estimatedCostUSD
}

// WouldExceedBudget reports whether the forecast spend crosses the guardrail,
// strictly: a forecast at exactly the guardrail share is allowed. The
// computed ratio is returned for diagnostics. Tenants with no known revenue
// fail closed on any positive forecast.
func (t *Tracker) WouldExceedBudget(tenantID string, forecastCostUSD float64) (bool, float64) {
	revenue, ok := t.cfg.TenantRevenue[tenantID]
	if !ok {
		revenue = t.cfg.DefaultMonthlyRevenue
	}
	if revenue <= 0 {
		if forecastCostUSD > 0 {
			return true, 1
		}
		return false, 0
	}

	ratio := forecastCostUSD / revenue
	return ratio > t.cfg.GuardrailRatio, ratio
}

func aggregateKey(tenantID string, ts time.Time) string {
	return fmt.Sprintf("%s:%s", tenantID, ts.Format("2006-01"))
}
