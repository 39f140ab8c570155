package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/observability"
)

// RouterConfig configures the HTTP mux.
type RouterConfig struct {
	Handler     *Handler
	MetricsPath string // empty disables the metrics endpoint
}

// NewRouter builds the gateway mux with request-ID middleware applied.
func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/route", cfg.Handler.Route)
	mux.HandleFunc("GET /health", cfg.Handler.Health)

	if cfg.MetricsPath != "" {
		mux.Handle("GET "+cfg.MetricsPath, promhttp.Handler())
	}

	return observability.RequestIDMiddleware(mux)
}
