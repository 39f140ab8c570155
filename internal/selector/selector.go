// Package selector picks one provider and an ordered fallback chain for a
// request, according to the chosen optimization strategy.
package selector

import (
	"fmt"
	"math"
	"sort"

	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/analyzer"
	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/costs"
	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/registry"
	routeerrors "github.com/deedk822-lang/The-lab-verse-monitoring--sub007/pkg/errors"
)

// Strategy defines the optimization strategy for route selection.
type Strategy string

const (
	// StrategyCost picks the cheapest provider meeting a complexity-derived
	// quality floor.
	StrategyCost Strategy = "cost"
	// StrategyQuality picks the highest quality score; no cost filter is
	// applied, the caller accepts the cost risk.
	StrategyQuality Strategy = "quality"
	// StrategySpeed prefers providers from a fixed low-latency tier.
	StrategySpeed Strategy = "speed"
	// StrategyBalanced maximizes quality per estimated dollar, scaled by
	// complexity.
	StrategyBalanced Strategy = "balanced"
)

// ParseStrategy validates a strategy name. Empty input means balanced.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyCost, StrategyQuality, StrategySpeed, StrategyBalanced:
		return Strategy(s), nil
	case "":
		return StrategyBalanced, nil
	default:
		return "", routeerrors.NewValidationError(fmt.Sprintf("unknown strategy %q", s))
	}
}

// Quality floors for the cost strategy.
const (
	qualityFloorComplex = 0.80
	qualityFloorDefault = 0.65
)

// Balanced-score complexity multipliers.
func balancedMultiplier(c analyzer.Complexity) float64 {
	switch c {
	case analyzer.Simple:
		return 0.5
	case analyzer.Complex:
		return 2.0
	default:
		return 1.0
	}
}

// Decision is the selector's output: a primary provider, its ordered fallback
// chain, and the forecast cost of the primary.
type Decision struct {
	ProviderID       string
	FallbackChain    []string
	EstimatedCostUSD float64
	Reason           string
}

// Config contains selector tuning.
type Config struct {
	// ChainLength caps the fallback chain. Zero means the default of 3.
	ChainLength int
	// SpeedTier lists provider IDs considered low-latency, in preference
	// order.
	SpeedTier []string
}

// Selector ranks candidates per strategy.
type Selector struct {
	estimator *costs.Estimator
	cfg       Config
}

// New creates a selector.
func New(estimator *costs.Estimator, cfg Config) *Selector {
	if cfg.ChainLength <= 0 {
		cfg.ChainLength = 3
	}
	return &Selector{estimator: estimator, cfg: cfg}
}

type scored struct {
	desc     registry.Descriptor
	estimate float64
}

// Select ranks the candidates under the strategy and returns the decision.
// Candidates must already be the enabled set in registry order; ties are
// broken by that order (first-listed wins) so selection is deterministic.
func (s *Selector) Select(strategy Strategy, complexity analyzer.Complexity, candidates []registry.Descriptor, maxCostUSD *float64) (*Decision, error) {
	if len(candidates) == 0 {
		return nil, routeerrors.NewNoEligibleProviderError("no enabled providers")
	}

	tier := costs.TierFor(complexity)
	pool := make([]scored, 0, len(candidates))
	for _, d := range candidates {
		pool = append(pool, scored{desc: d, estimate: s.estimator.Estimate(d, tier)})
	}

	var (
		ordered []scored
		reason  string
		err     error
	)

	switch strategy {
	case StrategyCost:
		ordered, reason, err = s.rankByCost(pool, complexity, maxCostUSD)
	case StrategyQuality:
		ordered, reason = s.rankByQuality(pool)
	case StrategySpeed:
		ordered, reason = s.rankBySpeed(pool)
	case StrategyBalanced:
		ordered, reason, err = s.rankBalanced(pool, complexity, maxCostUSD)
	default:
		return nil, routeerrors.NewValidationError(fmt.Sprintf("unknown strategy %q", strategy))
	}
	if err != nil {
		return nil, err
	}
	if len(ordered) == 0 {
		return nil, routeerrors.NewNoEligibleProviderError("no provider matches the selection constraints")
	}

	winner := ordered[0]
	chain := make([]string, 0, s.cfg.ChainLength)
	for _, c := range ordered[1:] {
		if len(chain) == s.cfg.ChainLength {
			break
		}
		chain = append(chain, c.desc.ID)
	}

	return &Decision{
		ProviderID:       winner.desc.ID,
		FallbackChain:    chain,
		EstimatedCostUSD: winner.estimate,
		Reason:           reason,
	}, nil
}

// rankByCost filters by the complexity-derived quality floor and the optional
// cost ceiling, then sorts ascending by combined per-1k price.
func (s *Selector) rankByCost(pool []scored, complexity analyzer.Complexity, maxCostUSD *float64) ([]scored, string, error) {
	floor := qualityFloorDefault
	if complexity == analyzer.Complex {
		floor = qualityFloorComplex
	}

	eligible := make([]scored, 0, len(pool))
	for _, c := range pool {
		if c.desc.QualityScore < floor {
			continue
		}
		if maxCostUSD != nil && c.estimate > *maxCostUSD {
			continue
		}
		eligible = append(eligible, c)
	}
	if len(eligible) == 0 {
		return nil, "", routeerrors.NewNoEligibleProviderError(
			fmt.Sprintf("no provider meets quality floor %.2f within the cost ceiling", floor))
	}

	// Stable sort: equal prices keep registry order, first-listed wins.
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].desc.PricePer1K() < eligible[j].desc.PricePer1K()
	})

	return eligible, fmt.Sprintf("lowest price meeting quality floor %.2f", floor), nil
}

// rankByQuality sorts descending by quality score. No cost filter: the
// trade-off is the caller's.
func (s *Selector) rankByQuality(pool []scored) ([]scored, string) {
	ordered := append([]scored(nil), pool...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].desc.QualityScore > ordered[j].desc.QualityScore
	})
	return ordered, "highest quality score"
}

// rankBySpeed returns the order-preserving intersection of the speed tier
// with the candidates, falling back to the candidates as given when the tier
// matches nothing.
func (s *Selector) rankBySpeed(pool []scored) ([]scored, string) {
	byID := make(map[string]scored, len(pool))
	for _, c := range pool {
		byID[c.desc.ID] = c
	}

	ordered := make([]scored, 0, len(pool))
	for _, id := range s.cfg.SpeedTier {
		if c, ok := byID[id]; ok {
			ordered = append(ordered, c)
		}
	}
	if len(ordered) == 0 {
		return append([]scored(nil), pool...), "no low-latency tier match, first candidate"
	}
	return ordered, "low-latency tier preference"
}

// rankBalanced scores quality per estimated dollar, scaled by complexity.
// The quality floor of the cost strategy deliberately does not apply here:
// quality is already priced into the score.
func (s *Selector) rankBalanced(pool []scored, complexity analyzer.Complexity, maxCostUSD *float64) ([]scored, string, error) {
	eligible := pool
	if maxCostUSD != nil {
		eligible = make([]scored, 0, len(pool))
		for _, c := range pool {
			if c.estimate <= *maxCostUSD {
				eligible = append(eligible, c)
			}
		}
		if len(eligible) == 0 {
			return nil, "", &routeerrors.RouteError{
				Code:       routeerrors.CodeBudgetExceeded,
				Message:    fmt.Sprintf("every candidate exceeds the cost ceiling of %.4f USD", *maxCostUSD),
				StatusCode: 403,
			}
		}
	}

	mult := balancedMultiplier(complexity)
	score := func(c scored) float64 {
		denom := c.estimate * mult
		if denom <= 0 {
			// A free provider dominates any priced one.
			return math.Inf(1)
		}
		return c.desc.QualityScore / denom
	}

	ordered := append([]scored(nil), eligible...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return score(ordered[i]) > score(ordered[j])
	})
	return ordered, "best quality per estimated dollar", nil
}
