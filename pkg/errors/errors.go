// Package errors defines the unified error taxonomy for routing operations.
// Every failure surfaced to a caller is mapped to one of these codes; upstream
// provider error bodies are never carried through verbatim.
package errors

import (
	"fmt"
	"net/http"
	"strings"
)

// Error codes as surfaced in the response envelope.
const (
	CodeValidation         = "validation_error"
	CodeBudgetExceeded     = "budget_exceeded"
	CodeNoEligibleProvider = "no_eligible_provider"
	CodeCircuitOpen        = "circuit_open"
	CodeUpstreamTimeout    = "upstream_timeout"
	CodeUpstreamCall       = "upstream_error"
	CodeAllFailed          = "all_providers_failed"
	CodeRateLimited        = "rate_limit_error"
	CodeInternal           = "internal_error"
)

// RouteError is the standardized error for a routing operation.
// Retryable marks errors recovered locally by advancing the fallback chain;
// they reach the caller only when the chain is exhausted.
type RouteError struct {
	Code       string  `json:"errorCode"`
	Message    string  `json:"message"`
	StatusCode int     `json:"-"`
	Provider   string  `json:"-"`
	Retryable  bool    `json:"-"`
	Ratio      float64 `json:"-"` // computed forecast ratio, budget errors only
}

// Error implements the error interface.
func (e *RouteError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s (provider=%s)", e.Code, e.Message, e.Provider)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// HTTPStatusCode returns the HTTP status for the error.
func (e *RouteError) HTTPStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// NewValidationError creates a client error (400). Never retried.
func NewValidationError(message string) *RouteError {
	return &RouteError{
		Code:       CodeValidation,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

// NewBudgetExceededError creates a budget guardrail rejection (403).
// The computed forecast ratio is carried for diagnosability.
func NewBudgetExceededError(tenantID string, ratio float64) *RouteError {
	return &RouteError{
		Code:       CodeBudgetExceeded,
		Message:    fmt.Sprintf("forecast spend for tenant %s is %.2f of monthly revenue, above the guardrail", tenantID, ratio),
		StatusCode: http.StatusForbidden,
		Ratio:      ratio,
	}
}

// NewNoEligibleProviderError creates a selection failure (422). Never retried.
func NewNoEligibleProviderError(message string) *RouteError {
	return &RouteError{
		Code:       CodeNoEligibleProvider,
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
	}
}

// NewCircuitOpenError marks a breaker-gated rejection. Recovered by the
// fallback chain; surfaced only from the last chain entry.
func NewCircuitOpenError(providerID string) *RouteError {
	return &RouteError{
		Code:       CodeCircuitOpen,
		Message:    "circuit breaker is open",
		StatusCode: http.StatusServiceUnavailable,
		Provider:   providerID,
		Retryable:  true,
	}
}

// NewUpstreamTimeoutError marks a per-attempt timeout. Recovered via fallback.
func NewUpstreamTimeoutError(providerID string) *RouteError {
	return &RouteError{
		Code:       CodeUpstreamTimeout,
		Message:    "upstream call timed out",
		StatusCode: http.StatusGatewayTimeout,
		Provider:   providerID,
		Retryable:  true,
	}
}

// NewUpstreamCallError marks an upstream failure. Recovered via fallback.
func NewUpstreamCallError(providerID, message string) *RouteError {
	return &RouteError{
		Code:       CodeUpstreamCall,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Provider:   providerID,
		Retryable:  true,
	}
}

// NewRateLimitError creates a tenant rate limit rejection (429).
func NewRateLimitError(tenantID string) *RouteError {
	return &RouteError{
		Code:       CodeRateLimited,
		Message:    fmt.Sprintf("rate limit exceeded for tenant %s", tenantID),
		StatusCode: http.StatusTooManyRequests,
		Retryable:  true,
	}
}

// NewInternalError creates an internal server error (500).
func NewInternalError(message string) *RouteError {
	return &RouteError{
		Code:       CodeInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

// AttemptFailure records why a single provider in the chain failed.
type AttemptFailure struct {
	ProviderID string `json:"providerId"`
	Code       string `json:"errorCode"`
	Message    string `json:"message"`
}

// AllProvidersFailedError is the terminal failure after the whole fallback
// chain is exhausted (503). It carries per-provider reasons in attempt order.
type AllProvidersFailedError struct {
	Attempts []AttemptFailure
}

// Error implements the error interface.
func (e *AllProvidersFailedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %s", a.ProviderID, a.Code))
	}
	return fmt.Sprintf("[%s] all providers failed: %s", CodeAllFailed, strings.Join(parts, ", "))
}

// HTTPStatusCode returns 503 for chain exhaustion.
func (e *AllProvidersFailedError) HTTPStatusCode() int {
	return http.StatusServiceUnavailable
}

// IsFinal reports whether an error is a terminal, user-facing outcome whose
// response may be recorded for idempotent replay. Retryable failures and chain
// exhaustion are transient and must never poison an idempotency record.
func IsFinal(err error) bool {
	switch e := err.(type) {
	case nil:
		return true
	case *RouteError:
		return !e.Retryable && e.StatusCode < 500
	default:
		return false
	}
}
