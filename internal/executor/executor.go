// Package executor walks a route decision's provider chain, gating every
// attempt through the provider's circuit breaker and reporting outcomes back
// to it.
package executor

import (
	"context"
	"errors"
	"time"

	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/breaker"
	routeerrors "github.com/deedk822-lang/The-lab-verse-monitoring--sub007/pkg/errors"
)

// Request is the upstream call payload.
type Request struct {
	Model    string
	Prompt   string
	TenantID string
}

// Response is a successful upstream result.
type Response struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// Invoker performs one provider call. Implementations must honor ctx
// cancellation; the executor applies the per-attempt timeout through it.
type Invoker interface {
	Invoke(ctx context.Context, providerID string, req Request) (*Response, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, providerID string, req Request) (*Response, error)

func (f InvokerFunc) Invoke(ctx context.Context, providerID string, req Request) (*Response, error) {
	return f(ctx, providerID, req)
}

// Result carries the winning response plus execution metadata.
type Result struct {
	Response *Response
	// ProviderID is the provider that answered; it differs from the primary
	// when fallback was used.
	ProviderID string
	// Attempts counts providers tried, including the winner.
	Attempts int
	Duration time.Duration
}

// Config contains executor tuning.
type Config struct {
	// AttemptTimeout bounds each provider call. Zero means the breaker
	// bank's call timeout.
	AttemptTimeout time.Duration
	// RouteDeadline optionally bounds the whole chain walk. Zero disables
	// it; per-attempt timeouts still apply.
	RouteDeadline time.Duration
}

// Executor runs route decisions against providers with breaker protection.
type Executor struct {
	invoker Invoker
	bank    *breaker.Bank
	cfg     Config
}

// New creates an executor.
func New(invoker Invoker, bank *breaker.Bank, cfg Config) *Executor {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = bank.CallTimeout()
	}
	return &Executor{invoker: invoker, bank: bank, cfg: cfg}
}

// Execute tries the primary and then each fallback in order, returning the
// first success. Breaker-open providers are skipped without an upstream call.
// When every provider fails, the per-provider reasons are aggregated in
// attempt order.
func (e *Executor) Execute(ctx context.Context, primary string, fallbacks []string, req Request) (*Result, error) {
	start := time.Now()

	if e.cfg.RouteDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.RouteDeadline)
		defer cancel()
	}

	chain := make([]string, 0, 1+len(fallbacks))
	chain = append(chain, primary)
	chain = append(chain, fallbacks...)

	failures := make([]routeerrors.AttemptFailure, 0, len(chain))
	attempts := 0

	for _, providerID := range chain {
		if err := ctx.Err(); err != nil {
			break
		}

		attempts++
		resp, err := e.attempt(ctx, providerID, req)
		if err == nil {
			return &Result{
				Response:   resp,
				ProviderID: providerID,
				Attempts:   attempts,
				Duration:   time.Since(start),
			}, nil
		}

		var re *routeerrors.RouteError
		if errors.As(err, &re) {
			failures = append(failures, routeerrors.AttemptFailure{
				ProviderID: providerID,
				Code:       re.Code,
				Message:    re.Message,
			})
			if !re.Retryable {
				return nil, re
			}
			continue
		}

		failures = append(failures, routeerrors.AttemptFailure{
			ProviderID: providerID,
			Code:       routeerrors.CodeUpstreamCall,
			Message:    err.Error(),
		})
	}

	return nil, &routeerrors.AllProvidersFailedError{Attempts: failures}
}

// attempt runs one breaker-gated provider call with its own timeout.
func (e *Executor) attempt(ctx context.Context, providerID string, req Request) (*Response, error) {
	b := e.bank.Get(providerID)
	if err := b.Allow(); err != nil {
		// Open breakers never count as window outcomes; no call happened.
		return nil, routeerrors.NewCircuitOpenError(providerID)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
	defer cancel()

	resp, err := e.invoker.Invoke(callCtx, providerID, req)
	if err == nil {
		b.RecordSuccess()
		return resp, nil
	}

	b.RecordFailure()

	if errors.Is(err, context.DeadlineExceeded) {
		return nil, routeerrors.NewUpstreamTimeoutError(providerID)
	}
	var re *routeerrors.RouteError
	if errors.As(err, &re) {
		return nil, re
	}
	return nil, routeerrors.NewUpstreamCallError(providerID, err.Error())
}
