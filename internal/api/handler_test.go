package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/breaker"
	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/costs"
	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/executor"
	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/idempotency"
	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/ratelimit"
	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/registry"
	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/selector"
	routeerrors "github.com/deedk822-lang/The-lab-verse-monitoring--sub007/pkg/errors"
)

type harness struct {
	handler *Handler
	router  http.Handler
	bank    *breaker.Bank
	tracker *costs.Tracker
	calls   atomic.Int64
	invoke  func(ctx context.Context, providerID string, req executor.Request) (*executor.Response, error)
}

func newHarness(t *testing.T, revenue map[string]float64) *harness {
	t.Helper()

	reg, err := registry.New([]registry.Descriptor{
		{
			ID: "provider-a", BaseEndpoint: "https://a.example.com",
			SupportedModels:  map[string]struct{}{"model-x": {}},
			PriceInputPer1K:  0.01, PriceOutputPer1K: 0.02,
			QualityScore: 0.9, Enabled: true,
		},
		{
			ID: "provider-b", BaseEndpoint: "https://b.example.com",
			SupportedModels:  map[string]struct{}{"model-x": {}},
			PriceInputPer1K:  0.002, PriceOutputPer1K: 0.003,
			QualityScore: 0.6, Enabled: true,
		},
	})
	require.NoError(t, err)

	h := &harness{
		bank: breaker.NewBank(breaker.Config{
			CallTimeout:       time.Second,
			ErrorThresholdPct: 50,
			WindowSize:        10,
			MinRequests:       5,
			ResetTimeout:      time.Minute,
		}),
	}
	h.invoke = func(_ context.Context, providerID string, _ executor.Request) (*executor.Response, error) {
		return &executor.Response{Content: "answer from " + providerID, InputTokens: 100, OutputTokens: 200}, nil
	}

	inv := executor.InvokerFunc(func(ctx context.Context, providerID string, req executor.Request) (*executor.Response, error) {
		h.calls.Add(1)
		return h.invoke(ctx, providerID, req)
	})

	h.tracker = costs.NewTracker(costs.NewMemorySink(), costs.TrackerConfig{
		GuardrailRatio: 0.70,
		TenantRevenue:  revenue,
	})

	idem := idempotency.NewMemoryStore(idempotency.MemoryStoreConfig{})
	t.Cleanup(func() { idem.Close() })

	h.handler = NewHandler(HandlerConfig{
		Registry:         reg,
		Selector:         selector.New(costs.NewEstimator(1000), selector.Config{}),
		Executor:         executor.New(inv, h.bank, executor.Config{}),
		Tracker:          h.tracker,
		IdempotencyStore: idem,
		Limiter:          ratelimit.New(ratelimit.Config{RequestsPerSecond: 1000, Burst: 1000}),
	})
	h.router = NewRouter(RouterConfig{Handler: h.handler, MetricsPath: "/metrics"})
	return h
}

func (h *harness) do(t *testing.T, req RouteRequest, idemKey string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)

	httpReq := httptest.NewRequest(http.MethodPost, "/v1/route", bytes.NewReader(body))
	if idemKey != "" {
		httpReq.Header.Set(IdempotencyKeyHeader, idemKey)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, httpReq)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) RouteResponse {
	t.Helper()
	var resp RouteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestRoute_Success(t *testing.T) {
	h := newHarness(t, map[string]float64{"acme": 1000})

	rec := h.do(t, RouteRequest{TenantID: "acme", Model: "model-x", Prompt: "hello there"}, "key-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeResponse(t, rec)
	assert.Equal(t, "balanced", resp.Strategy)
	assert.Equal(t, "simple", resp.Complexity)
	assert.Equal(t, "provider-b", resp.ProviderID, "balanced picks quality per dollar")
	assert.False(t, resp.FallbackUsed)
	assert.Equal(t, 1, resp.Attempts)

	// 100 in + 200 out at provider-b rates.
	assert.InDelta(t, 100.0/1000*0.002+200.0/1000*0.003, resp.ActualCostUSD, 1e-12)
	assert.NotEmpty(t, rec.Header().Get("X-Route-Cost-USD"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Limit"))

	assert.InDelta(t, resp.ActualCostUSD, h.tracker.MonthSpend("acme"), 1e-12, "spend lands in the tracker")
}

func TestRoute_ValidationErrors(t *testing.T) {
	h := newHarness(t, map[string]float64{"acme": 1000})

	tests := []struct {
		name    string
		req     RouteRequest
		idemKey string
	}{
		{"missing tenant", RouteRequest{Prompt: "hi"}, "k"},
		{"missing prompt", RouteRequest{TenantID: "acme"}, "k"},
		{"bad strategy", RouteRequest{TenantID: "acme", Prompt: "hi", Strategy: "cheapest"}, "k"},
		{"missing idempotency key", RouteRequest{TenantID: "acme", Prompt: "hi"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, tt.req, tt.idemKey)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, routeerrors.CodeValidation, decodeError(t, rec).ErrorCode)
		})
	}
	assert.Zero(t, h.calls.Load(), "validation failures never reach a provider")
}

func TestRoute_IdempotentReplay(t *testing.T) {
	h := newHarness(t, map[string]float64{"acme": 1000})
	req := RouteRequest{TenantID: "acme", Prompt: "replay me"}

	first := h.do(t, req, "key-replay")
	require.Equal(t, http.StatusOK, first.Code)
	require.EqualValues(t, 1, h.calls.Load())
	require.NotEmpty(t, first.Header().Get("X-Route-Cost-USD"))

	second := h.do(t, req, "key-replay")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get("X-Idempotent-Replay"))
	assert.JSONEq(t, first.Body.String(), second.Body.String(), "the stored response replays byte for byte")
	assert.Equal(t, first.Header().Get("X-Route-Cost-USD"), second.Header().Get("X-Route-Cost-USD"),
		"the cost header replays with the body")
	assert.EqualValues(t, 1, h.calls.Load(), "the replayed request must not execute")

	// Same key with a different body is a different request.
	third := h.do(t, RouteRequest{TenantID: "acme", Prompt: "something else"}, "key-replay")
	require.Equal(t, http.StatusOK, third.Code)
	assert.Empty(t, third.Header().Get("X-Idempotent-Replay"))
	assert.EqualValues(t, 2, h.calls.Load())
}

func TestRoute_BreakerFallback(t *testing.T) {
	h := newHarness(t, map[string]float64{"acme": 1000})

	// Quality strategy makes provider-a primary with provider-b as fallback.
	// Trip a's breaker first; the request must skip it without an upstream
	// call and answer from b.
	for i := 0; i < 5; i++ {
		h.bank.Get("provider-a").RecordFailure()
	}
	require.Equal(t, breaker.StateOpen, h.bank.Get("provider-a").State())

	rec := h.do(t, RouteRequest{TenantID: "acme", Prompt: "hi", Strategy: "quality"}, "key-fb")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeResponse(t, rec)
	assert.Equal(t, "provider-b", resp.ProviderID)
	assert.True(t, resp.FallbackUsed)
	assert.Equal(t, 2, resp.Attempts)
	assert.EqualValues(t, 1, h.calls.Load(), "the open breaker short-circuits without an upstream call")
}

func TestRoute_AllProvidersFailedIsNotRecorded(t *testing.T) {
	h := newHarness(t, map[string]float64{"acme": 1000})
	h.invoke = func(_ context.Context, providerID string, _ executor.Request) (*executor.Response, error) {
		return nil, errors.New(providerID + " down")
	}

	req := RouteRequest{TenantID: "acme", Prompt: "hi", Strategy: "quality"}
	rec := h.do(t, req, "key-fail")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	env := decodeError(t, rec)
	assert.Equal(t, routeerrors.CodeAllFailed, env.ErrorCode)
	require.Len(t, env.Attempts, 2)
	assert.Equal(t, "provider-a", env.Attempts[0].ProviderID)

	callsAfterFirst := h.calls.Load()

	// Providers recover; the retry with the same key must execute for real
	// instead of replaying the failure.
	h.invoke = func(_ context.Context, providerID string, _ executor.Request) (*executor.Response, error) {
		return &executor.Response{Content: "recovered"}, nil
	}
	rec = h.do(t, req, "key-fail")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Idempotent-Replay"))
	assert.Greater(t, h.calls.Load(), callsAfterFirst)
}

func TestRoute_BudgetGuardrail(t *testing.T) {
	// Unknown tenant with no default revenue fails closed.
	h := newHarness(t, nil)

	req := RouteRequest{TenantID: "ghost", Prompt: "hi"}
	rec := h.do(t, req, "key-budget")
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, routeerrors.CodeBudgetExceeded, decodeError(t, rec).ErrorCode)
	assert.Zero(t, h.calls.Load(), "a vetoed request never reaches a provider")

	// Terminal rejections replay from the idempotency store.
	rec = h.do(t, req, "key-budget")
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "true", rec.Header().Get("X-Idempotent-Replay"))
}

func TestRoute_MaxCostCeiling(t *testing.T) {
	h := newHarness(t, map[string]float64{"acme": 1000})

	ceiling := 0.0001
	rec := h.do(t, RouteRequest{
		TenantID: "acme", Prompt: "hi", Strategy: "balanced", MaxCostUSD: &ceiling,
	}, "key-ceiling")
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, routeerrors.CodeBudgetExceeded, decodeError(t, rec).ErrorCode)
}

func TestRoute_ModelFilter(t *testing.T) {
	h := newHarness(t, map[string]float64{"acme": 1000})

	rec := h.do(t, RouteRequest{TenantID: "acme", Model: "unknown-model", Prompt: "hi"}, "key-model")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, routeerrors.CodeNoEligibleProvider, decodeError(t, rec).ErrorCode)
}

func TestRoute_RateLimit(t *testing.T) {
	h := newHarness(t, map[string]float64{"acme": 1000})
	h.handler.limiter = ratelimit.New(ratelimit.Config{RequestsPerSecond: 0.001, Burst: 1})

	first := h.do(t, RouteRequest{TenantID: "acme", Prompt: "hi"}, "key-rl-1")
	require.Equal(t, http.StatusOK, first.Code)

	second := h.do(t, RouteRequest{TenantID: "acme", Prompt: "hi again"}, "key-rl-2")
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, routeerrors.CodeRateLimited, decodeError(t, second).ErrorCode)
	assert.Equal(t, "1", second.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining"))
}

func TestHealth_LivenessOnly(t *testing.T) {
	h := newHarness(t, nil)

	// Liveness must not change with breaker state.
	for i := 0; i < 5; i++ {
		h.bank.Get("provider-a").RecordFailure()
	}
	require.Equal(t, breaker.StateOpen, h.bank.Get("provider-a").State())

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, map[string]string{"status": "ok"}, body, "no breaker state leaks into the health body")
}
