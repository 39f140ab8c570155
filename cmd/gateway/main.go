// Package main is the entry point for the routing gateway server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/api"
	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/breaker"
	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/config"
	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/costs"
	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/executor"
	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/idempotency"
	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/metrics"
	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/observability"
	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/ratelimit"
	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/registry"
	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/selector"
	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/upstream"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	bootLogger := observability.NewLogger(observability.LoggerConfig{
		Level: "info", Output: os.Stdout, JSONFormat: true,
	})

	cfgManager, err := config.NewManager(*configPath, bootLogger)
	if err != nil {
		bootLogger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	logger := observability.NewLogger(observability.LoggerConfig{
		Level:      cfg.Logging.Level,
		Output:     os.Stdout,
		JSONFormat: cfg.Logging.Format != "text",
	})
	logger.Info("starting routing gateway", "version", "0.1.0")

	reg, err := registry.New(cfg.Descriptors())
	if err != nil {
		logger.Error("invalid provider catalog", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Hot-reload swaps the provider catalog; an invalid one keeps the
	// running catalog in place.
	cfgManager.OnChange(func(next *config.Config) {
		if err := reg.Reload(next.Descriptors()); err != nil {
			logger.Error("provider catalog reload rejected", "error", err)
			return
		}
		logger.Info("provider catalog reloaded", "providers", reg.Len())
	})
	if err := cfgManager.Watch(ctx); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}

	bank := breaker.NewBank(cfg.Breaker.Settings())
	bank.OnStateChange(func(providerID string, from, to breaker.State) {
		logger.Warn("breaker state change",
			"provider", providerID, "from", from.String(), "to", to.String())
		metrics.ObserveBreakerTransition(providerID, from, to)
	})

	sink, err := newUsageSink(ctx, cfg)
	if err != nil {
		logger.Error("usage sink unavailable", "error", err)
		os.Exit(1)
	}
	tracker := costs.NewTracker(sink, costs.TrackerConfig{
		GuardrailRatio:        cfg.Budget.GuardrailRatio,
		TenantRevenue:         cfg.Budget.TenantRevenue,
		DefaultMonthlyRevenue: cfg.Budget.DefaultMonthlyRevenue,
		Logger:                logger,
	})
	tracker.OnSpend(func(rec costs.UsageRecord) {
		metrics.TenantSpend.WithLabelValues(rec.TenantID, rec.ProviderID).Add(rec.CostUSD)
	})

	idemStore, err := newIdempotencyStore(cfg)
	if err != nil {
		logger.Error("idempotency store unavailable", "error", err)
		os.Exit(1)
	}
	defer idemStore.Close()

	defaultStrategy, err := selector.ParseStrategy(cfg.Routing.DefaultStrategy)
	if err != nil {
		logger.Error("invalid default strategy", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(api.HandlerConfig{
		Logger:   logger,
		Registry: reg,
		Selector: selector.New(costs.NewEstimator(0), selector.Config{
			ChainLength: cfg.Routing.ChainLength,
			SpeedTier:   cfg.Routing.SpeedTier,
		}),
		Executor: executor.New(upstream.New(reg, nil), bank, executor.Config{
			AttemptTimeout: cfg.Breaker.CallTimeout,
			RouteDeadline:  cfg.Routing.RouteDeadline,
		}),
		Tracker:          tracker,
		IdempotencyStore: idemStore,
		Limiter: ratelimit.New(ratelimit.Config{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
			Tenants:           cfg.RateLimit.Tenants,
		}),
		DefaultStrategy: defaultStrategy,
	})

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	router := api.NewRouter(api.RouterConfig{
		Handler:     handler,
		MetricsPath: metricsPath,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	cfgManager.Close()
	logger.Info("server stopped")
}

func newUsageSink(ctx context.Context, cfg *config.Config) (costs.Sink, error) {
	switch cfg.Usage.Backend {
	case "postgres":
		return costs.NewPostgresSink(ctx, cfg.Usage.PostgresDSN)
	default:
		return costs.NewMemorySink(), nil
	}
}

func newIdempotencyStore(cfg *config.Config) (idempotency.Store, error) {
	switch cfg.Idempotency.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr: cfg.Idempotency.RedisAddr,
			DB:   cfg.Idempotency.RedisDB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return idempotency.NewRedisStore(client, "", cfg.Idempotency.TTL), nil
	default:
		return idempotency.NewMemoryStore(idempotency.MemoryStoreConfig{
			MaxEntries: cfg.Idempotency.MaxEntries,
			TTL:        cfg.Idempotency.TTL,
		}), nil
	}
}
