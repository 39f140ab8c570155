// Package metrics provides Prometheus metrics for the routing gateway:
// request outcomes, selection latency, breaker states, token usage, and
// tenant spend.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/breaker"
)

const namespace = "labverse"

// LatencyBuckets defines histogram buckets for latency metrics (in seconds).
var LatencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5,
	1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0,
}

var (
	// RouteRequests counts routing requests by strategy, provider, and
	// response status.
	RouteRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_requests_total",
			Help:      "Total routing requests",
		},
		[]string{"strategy", "provider", "status"},
	)

	// RouteLatency tracks end-to-end routing latency.
	RouteLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "route_latency_seconds",
			Help:      "End-to-end routing latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"strategy", "provider"},
	)

	// FallbackDepth tracks how many providers a request had to try.
	FallbackDepth = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fallback_depth",
			Help:      "Providers attempted per request, including the winner",
			Buckets:   []float64{1, 2, 3, 4, 5},
		},
		[]string{"strategy"},
	)
)

var (
	// BreakerState exposes each provider breaker's state (0 closed, 1 open,
	// 2 half-open).
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Circuit breaker state per provider (0 closed, 1 open, 2 half-open)",
		},
		[]string{"provider"},
	)

	// BreakerTransitions counts breaker state transitions.
	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions",
		},
		[]string{"provider", "to"},
	)
)

var (
	// InputTokens counts input tokens per provider.
	InputTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "input_tokens_total",
			Help:      "Total input tokens",
		},
		[]string{"provider"},
	)

	// OutputTokens counts output tokens per provider.
	OutputTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_tokens_total",
			Help:      "Total output tokens",
		},
		[]string{"provider"},
	)

	// TenantSpend tracks recorded spend in USD.
	TenantSpend = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_spend_usd_total",
			Help:      "Recorded spend in USD",
		},
		[]string{"tenant", "provider"},
	)

	// BudgetRejections counts guardrail vetoes.
	BudgetRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "budget_rejections_total",
			Help:      "Requests vetoed by the budget guardrail",
		},
		[]string{"tenant"},
	)
)

var (
	// IdempotencyReplays counts responses served from the idempotency store.
	IdempotencyReplays = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idempotency_replays_total",
			Help:      "Responses replayed from the idempotency store",
		},
	)

	// RateLimited counts requests rejected by the tenant rate limiter.
	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the tenant rate limiter",
		},
		[]string{"tenant"},
	)
)

// ObserveBreakerTransition records a breaker state change; wire it to the
// bank's OnStateChange hook.
func ObserveBreakerTransition(providerID string, _, to breaker.State) {
	BreakerState.WithLabelValues(providerID).Set(breakerStateValue(to))
	BreakerTransitions.WithLabelValues(providerID, to.String()).Inc()
}

func breakerStateValue(s breaker.State) float64 {
	switch s {
	case breaker.StateOpen:
		return 1
	case breaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
