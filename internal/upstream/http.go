// Package upstream implements the HTTP invoker that carries routed requests
// to provider endpoints. Provider error bodies are mapped onto the unified
// taxonomy and never passed through verbatim.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/executor"
	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/registry"
	routeerrors "github.com/deedk822-lang/The-lab-verse-monitoring--sub007/pkg/errors"
)

type wireRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type wireResponse struct {
	Content      string `json:"content"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// Invoker posts completion requests to provider endpoints over HTTP.
type Invoker struct {
	reg    *registry.Registry
	client *http.Client
}

// New creates an HTTP invoker. A nil client gets a default with sane
// transport timeouts; per-call deadlines come from the caller's context.
func New(reg *registry.Registry, client *http.Client) *Invoker {
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost:   8,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
			},
		}
	}
	return &Invoker{reg: reg, client: client}
}

// Invoke performs one provider call.
func (inv *Invoker) Invoke(ctx context.Context, providerID string, req executor.Request) (*executor.Response, error) {
	desc, ok := inv.reg.Get(providerID)
	if !ok {
		return nil, routeerrors.NewInternalError(fmt.Sprintf("provider %s missing from registry", providerID))
	}

	payload, err := json.Marshal(wireRequest{Model: req.Model, Prompt: req.Prompt})
	if err != nil {
		return nil, routeerrors.NewInternalError("encode upstream request: " + err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, desc.BaseEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, routeerrors.NewInternalError("build upstream request: " + err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	switch desc.AuthMethod {
	case registry.AuthBearer, "":
		if desc.APIKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+desc.APIKey)
		}
	case registry.AuthHeader:
		httpReq.Header.Set("X-API-Key", desc.APIKey)
	case registry.AuthNone:
	default:
		return nil, routeerrors.NewInternalError(fmt.Sprintf("provider %s has unknown auth method %q", providerID, desc.AuthMethod))
	}

	resp, err := inv.client.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, context.DeadlineExceeded
		}
		return nil, routeerrors.NewUpstreamCallError(providerID, "upstream request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, routeerrors.NewUpstreamCallError(providerID, "read upstream response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// The upstream body stays out of the error message; callers only
		// see the taxonomy code and status class.
		return nil, routeerrors.NewUpstreamCallError(providerID,
			fmt.Sprintf("upstream returned status %d", resp.StatusCode))
	}

	var wire wireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, routeerrors.NewUpstreamCallError(providerID, "malformed upstream response body")
	}

	return &executor.Response{
		Content:      wire.Content,
		InputTokens:  wire.InputTokens,
		OutputTokens: wire.OutputTokens,
	}, nil
}
