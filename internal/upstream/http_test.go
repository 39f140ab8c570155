package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/executor"
	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/registry"
	routeerrors "github.com/deedk822-lang/The-lab-verse-monitoring--sub007/pkg/errors"
)

func newRegistry(t *testing.T, descs ...registry.Descriptor) *registry.Registry {
	t.Helper()
	reg, err := registry.New(descs)
	require.NoError(t, err)
	return reg
}

func TestInvoke_Success(t *testing.T) {
	var gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req wireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotBody = req.Prompt

		json.NewEncoder(w).Encode(wireResponse{Content: "hello", InputTokens: 5, OutputTokens: 7})
	}))
	defer srv.Close()

	reg := newRegistry(t, registry.Descriptor{
		ID: "a", BaseEndpoint: srv.URL, AuthMethod: registry.AuthBearer, APIKey: "sk-test",
		QualityScore: 0.9, Enabled: true,
	})

	inv := New(reg, srv.Client())
	resp, err := inv.Invoke(context.Background(), "a", executor.Request{Model: "m", Prompt: "hi"})
	require.NoError(t, err)

	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, 5, resp.InputTokens)
	assert.Equal(t, 7, resp.OutputTokens)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "hi", gotBody)
}

func TestInvoke_APIKeyHeader(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		json.NewEncoder(w).Encode(wireResponse{Content: "ok"})
	}))
	defer srv.Close()

	reg := newRegistry(t, registry.Descriptor{
		ID: "a", BaseEndpoint: srv.URL, AuthMethod: registry.AuthHeader, APIKey: "key-1",
		QualityScore: 0.9, Enabled: true,
	})

	_, err := New(reg, srv.Client()).Invoke(context.Background(), "a", executor.Request{})
	require.NoError(t, err)
	assert.Equal(t, "key-1", gotKey)
}

func TestInvoke_UpstreamErrorHidesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"secret":"internal provider detail"}`, http.StatusBadGateway)
	}))
	defer srv.Close()

	reg := newRegistry(t, registry.Descriptor{
		ID: "a", BaseEndpoint: srv.URL, QualityScore: 0.9, Enabled: true,
	})

	_, err := New(reg, srv.Client()).Invoke(context.Background(), "a", executor.Request{})
	var re *routeerrors.RouteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, routeerrors.CodeUpstreamCall, re.Code)
	assert.True(t, re.Retryable)
	assert.NotContains(t, re.Message, "secret", "upstream bodies never leak into errors")
}

func TestInvoke_DeadlinePropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	reg := newRegistry(t, registry.Descriptor{
		ID: "a", BaseEndpoint: srv.URL, QualityScore: 0.9, Enabled: true,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := New(reg, srv.Client()).Invoke(ctx, "a", executor.Request{})
	assert.ErrorIs(t, err, context.DeadlineExceeded, "timeouts surface as deadline errors for breaker accounting")
}

func TestInvoke_UnknownProvider(t *testing.T) {
	reg := newRegistry(t)

	_, err := New(reg, nil).Invoke(context.Background(), "ghost", executor.Request{})
	var re *routeerrors.RouteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, routeerrors.CodeInternal, re.Code)
}

func TestInvoke_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	reg := newRegistry(t, registry.Descriptor{
		ID: "a", BaseEndpoint: srv.URL, QualityScore: 0.9, Enabled: true,
	})

	_, err := New(reg, srv.Client()).Invoke(context.Background(), "a", executor.Request{})
	var re *routeerrors.RouteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, routeerrors.CodeUpstreamCall, re.Code)
}
