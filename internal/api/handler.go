// Package api implements the HTTP surface of the routing gateway.
package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/analyzer"
	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/costs"
	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/executor"
	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/idempotency"
	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/metrics"
	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/observability"
	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/ratelimit"
	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/registry"
	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/selector"
	routeerrors "github.com/deedk822-lang/The-lab-verse-monitoring--sub007/pkg/errors"
)

// IdempotencyKeyHeader carries the caller's idempotency key. Required on
// every routing request.
const IdempotencyKeyHeader = "Idempotency-Key"

const maxBodyBytes = 1 << 20

// RouteRequest is the routing request payload.
type RouteRequest struct {
	TenantID   string   `json:"tenantId"`
	Model      string   `json:"model,omitempty"`
	Prompt     string   `json:"prompt"`
	Strategy   string   `json:"strategy,omitempty"`
	MaxCostUSD *float64 `json:"maxCostUsd,omitempty"`
}

// RouteResponse is the successful routing response payload.
type RouteResponse struct {
	Content          string  `json:"content"`
	ProviderID       string  `json:"providerId"`
	Strategy         string  `json:"strategy"`
	Complexity       string  `json:"complexity"`
	EstimatedCostUSD float64 `json:"estimatedCostUsd"`
	ActualCostUSD    float64 `json:"actualCostUsd"`
	InputTokens      int     `json:"inputTokens"`
	OutputTokens     int     `json:"outputTokens"`
	Attempts         int     `json:"attempts"`
	FallbackUsed     bool    `json:"fallbackUsed"`
}

// Handler serves the routing endpoints.
type Handler struct {
	logger   *slog.Logger
	registry *registry.Registry
	selector *selector.Selector
	executor *executor.Executor
	tracker  *costs.Tracker
	idem     idempotency.Store
	limiter  *ratelimit.Limiter

	defaultStrategy selector.Strategy
}

// HandlerConfig bundles the handler's collaborators.
type HandlerConfig struct {
	Logger           *slog.Logger
	Registry         *registry.Registry
	Selector         *selector.Selector
	Executor         *executor.Executor
	Tracker          *costs.Tracker
	IdempotencyStore idempotency.Store
	Limiter          *ratelimit.Limiter
	DefaultStrategy  selector.Strategy
}

// NewHandler creates the handler.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	strategy := cfg.DefaultStrategy
	if strategy == "" {
		strategy = selector.StrategyBalanced
	}
	return &Handler{
		logger:          logger,
		registry:        cfg.Registry,
		selector:        cfg.Selector,
		executor:        cfg.Executor,
		tracker:         cfg.Tracker,
		idem:            cfg.IdempotencyStore,
		limiter:         cfg.Limiter,
		defaultStrategy: strategy,
	}
}

// Route handles POST /v1/route.
func (h *Handler) Route(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.WithRequestID(ctx, h.logger)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, "", routeerrors.NewValidationError("unreadable request body"))
		return
	}

	var req RouteRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeError(w, "", routeerrors.NewValidationError("malformed JSON body"))
		return
	}
	if req.TenantID == "" {
		h.writeError(w, "", routeerrors.NewValidationError("tenantId is required"))
		return
	}
	if req.Prompt == "" {
		h.writeError(w, "", routeerrors.NewValidationError("prompt is required"))
		return
	}
	strategy, err := selector.ParseStrategy(req.Strategy)
	if err != nil {
		h.writeError(w, "", err)
		return
	}
	if req.Strategy == "" {
		strategy = h.defaultStrategy
	}
	if req.MaxCostUSD != nil && *req.MaxCostUSD <= 0 {
		h.writeError(w, string(strategy), routeerrors.NewValidationError("maxCostUsd must be positive"))
		return
	}

	idemKey := r.Header.Get(IdempotencyKeyHeader)
	if idemKey == "" {
		h.writeError(w, string(strategy), routeerrors.NewValidationError(IdempotencyKeyHeader+" header is required"))
		return
	}

	if h.limiter != nil {
		d := h.limiter.Allow(req.TenantID)
		setRateLimitHeaders(w, d)
		if !d.Allowed {
			metrics.RateLimited.WithLabelValues(req.TenantID).Inc()
			h.writeError(w, string(strategy), routeerrors.NewRateLimitError(req.TenantID))
			return
		}
	}

	storageKey := idempotency.KeyFor(idemKey, body)
	if rec, ok, err := h.idem.Get(ctx, storageKey); err != nil {
		logger.Warn("idempotency lookup failed", "error", err)
	} else if ok {
		metrics.IdempotencyReplays.Inc()
		for name, value := range rec.Headers {
			w.Header().Set(name, value)
		}
		w.Header().Set("X-Idempotent-Replay", "true")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(rec.StatusCode)
		_, _ = w.Write(rec.Body)
		return
	}

	resp, routeErr := h.route(ctx, logger, strategy, &req)
	if routeErr != nil {
		h.finishError(ctx, w, storageKey, string(strategy), routeErr)
		return
	}

	headers := map[string]string{
		"X-Route-Cost-USD": strconv.FormatFloat(resp.ActualCostUSD, 'f', -1, 64),
	}
	for name, value := range headers {
		w.Header().Set(name, value)
	}
	payload := h.writeJSON(w, http.StatusOK, resp)
	metrics.RouteRequests.WithLabelValues(string(strategy), resp.ProviderID, "200").Inc()

	if err := h.idem.Put(ctx, storageKey, idempotency.Record{
		StatusCode: http.StatusOK,
		Body:       payload,
		Headers:    headers,
		ProviderID: resp.ProviderID,
		CostUSD:    resp.ActualCostUSD,
	}); err != nil {
		logger.Warn("idempotency store failed", "error", err)
	}
}

// route runs the selection and execution pipeline for a validated request.
func (h *Handler) route(ctx context.Context, logger *slog.Logger, strategy selector.Strategy, req *RouteRequest) (*RouteResponse, error) {
	complexity := analyzer.Classify(req.Prompt)

	candidates := h.registry.List()
	if req.Model != "" {
		filtered := candidates[:0:0]
		for _, d := range candidates {
			if d.SupportsModel(req.Model) {
				filtered = append(filtered, d)
			}
		}
		candidates = filtered
	}

	decision, err := h.selector.Select(strategy, complexity, candidates, req.MaxCostUSD)
	if err != nil {
		return nil, err
	}

	forecast := h.tracker.Forecast(req.TenantID, decision.EstimatedCostUSD)
	if exceeded, ratio := h.tracker.WouldExceedBudget(req.TenantID, forecast); exceeded {
		metrics.BudgetRejections.WithLabelValues(req.TenantID).Inc()
		return nil, routeerrors.NewBudgetExceededError(req.TenantID, ratio)
	}

	result, err := h.executor.Execute(ctx, decision.ProviderID, decision.FallbackChain, executor.Request{
		Model:    req.Model,
		Prompt:   req.Prompt,
		TenantID: req.TenantID,
	})
	if err != nil {
		return nil, err
	}

	actualCost := h.actualCost(result.ProviderID, result.Response)
	if err := h.tracker.Record(ctx, costs.UsageRecord{
		TenantID:    req.TenantID,
		ProviderID:  result.ProviderID,
		InputUnits:  result.Response.InputTokens,
		OutputUnits: result.Response.OutputTokens,
		CostUSD:     actualCost,
	}); err != nil {
		logger.Warn("usage record failed", "error", err)
	}

	metrics.RouteLatency.WithLabelValues(string(strategy), result.ProviderID).Observe(result.Duration.Seconds())
	metrics.FallbackDepth.WithLabelValues(string(strategy)).Observe(float64(result.Attempts))
	metrics.InputTokens.WithLabelValues(result.ProviderID).Add(float64(result.Response.InputTokens))
	metrics.OutputTokens.WithLabelValues(result.ProviderID).Add(float64(result.Response.OutputTokens))

	logger.Info("request routed",
		"tenant", req.TenantID,
		"strategy", string(strategy),
		"complexity", complexity.String(),
		"provider", result.ProviderID,
		"attempts", result.Attempts,
		"cost_usd", actualCost,
	)

	return &RouteResponse{
		Content:          result.Response.Content,
		ProviderID:       result.ProviderID,
		Strategy:         string(strategy),
		Complexity:       complexity.String(),
		EstimatedCostUSD: decision.EstimatedCostUSD,
		ActualCostUSD:    actualCost,
		InputTokens:      result.Response.InputTokens,
		OutputTokens:     result.Response.OutputTokens,
		Attempts:         result.Attempts,
		FallbackUsed:     result.ProviderID != decision.ProviderID,
	}, nil
}

// actualCost prices the response from the answering provider's rates.
func (h *Handler) actualCost(providerID string, resp *executor.Response) float64 {
	d, ok := h.registry.Get(providerID)
	if !ok {
		return 0
	}
	return float64(resp.InputTokens)/1000*d.PriceInputPer1K +
		float64(resp.OutputTokens)/1000*d.PriceOutputPer1K
}

// Health handles GET /health. Liveness only; breaker and provider health are
// exposed on /metrics instead.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorEnvelope struct {
	ErrorCode string                       `json:"errorCode"`
	Message   string                       `json:"message"`
	Attempts  []routeerrors.AttemptFailure `json:"attempts,omitempty"`
}

// finishError writes the error response and records terminal outcomes for
// idempotent replay. Transient failures are never recorded so a retry can
// execute for real.
func (h *Handler) finishError(ctx context.Context, w http.ResponseWriter, storageKey, strategy string, err error) {
	status, payload := h.writeError(w, strategy, err)

	if routeerrors.IsFinal(err) {
		if putErr := h.idem.Put(ctx, storageKey, idempotency.Record{
			StatusCode: status,
			Body:       payload,
		}); putErr != nil {
			h.logger.Warn("idempotency store failed", "error", putErr)
		}
	}
}

// writeError maps an error onto the envelope and returns the status and the
// serialized body.
func (h *Handler) writeError(w http.ResponseWriter, strategy string, err error) (int, []byte) {
	env := errorEnvelope{
		ErrorCode: routeerrors.CodeInternal,
		Message:   "internal error",
	}
	status := http.StatusInternalServerError

	switch e := err.(type) {
	case *routeerrors.RouteError:
		env.ErrorCode = e.Code
		env.Message = e.Message
		status = e.HTTPStatusCode()
	case *routeerrors.AllProvidersFailedError:
		env.ErrorCode = routeerrors.CodeAllFailed
		env.Message = "all providers in the fallback chain failed"
		env.Attempts = e.Attempts
		status = e.HTTPStatusCode()
	default:
		h.logger.Error("unclassified routing error", "error", err)
	}

	if strategy == "" {
		strategy = "unknown"
	}
	metrics.RouteRequests.WithLabelValues(strategy, "none", strconv.Itoa(status)).Inc()

	payload, _ := json.Marshal(env)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
	return status, payload
}

// writeJSON serializes v and returns the payload written.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) []byte {
	payload, err := json.Marshal(v)
	if err != nil {
		payload = []byte(fmt.Sprintf(`{"errorCode":%q,"message":"encode response"}`, routeerrors.CodeInternal))
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
	return payload
}

func setRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	if d.Limit < 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
}
