// Command orgloop-router runs the event routing daemon: it admits events
// through the configured webhook and poll+diff sources, matches them
// against the route set, and delivers the survivors to actor sinks.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/OrgLoop/orgloop-sub001/internal/config"
	"github.com/OrgLoop/orgloop-sub001/internal/deadletter"
	"github.com/OrgLoop/orgloop-sub001/internal/ingest"
	"github.com/OrgLoop/orgloop-sub001/internal/observability"
	"github.com/OrgLoop/orgloop-sub001/internal/pipeline"
	"github.com/OrgLoop/orgloop-sub001/internal/tracing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := observability.NewLogger("orgloop-router", observability.GetLogLevel(""))
	slog.SetDefault(logger)

	configDir := envOr("ORGLOOP_CONFIG_DIR", "/etc/orgloop/routes")
	stateDir := envOr("ORGLOOP_STATE_DIR", "/var/lib/orgloop")
	listenAddr := envOr("ORGLOOP_LISTEN_ADDR", ":8080")
	metricsAddr := envOr("ORGLOOP_METRICS_ADDR", ":9090")

	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	loader := config.NewLoader(configDir, logger)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if len(cfg.Sources) == 0 {
		return fmt.Errorf("no sources defined in %s", configDir)
	}

	// Metrics and health
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	metrics := observability.NewMetrics(reg)
	health := observability.NewHealthServer()

	// Tracing
	tracer, shutdownTracing, err := tracing.Initialize(tracing.GetConfig("orgloop-router"), logger)
	if err != nil {
		return fmt.Errorf("initialize tracing: %w", err)
	}

	// Sources (webhooks register on the ingest mux)
	ingestMux := http.NewServeMux()
	sources, err := pipeline.BuildSources(cfg, ingestMux, metrics, logger)
	if err != nil {
		return fmt.Errorf("build sources: %w", err)
	}

	// Routes
	bindings, err := pipeline.BuildBindings(cfg, logger)
	if err != nil {
		return fmt.Errorf("build routes: %w", err)
	}
	registry := pipeline.NewRegistry(bindings)
	metrics.RegistryVersion.Set(float64(registry.Version()))

	checkpoints := ingest.NewCheckpointStore(stateDir+"/checkpoints.json", logger)
	dl := deadletter.NewHandler(stateDir + "/deadletter.ndjson")

	pipe := pipeline.New(registry, sources, checkpoints, dl, metrics, logger)
	pipe.SetTracer(tracer)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Hot reload: routes and transforms swap atomically; sources are
	// fixed for the process lifetime.
	loader.OnChange(func(newCfg *config.Config) {
		newBindings, err := pipeline.BuildBindings(newCfg, logger)
		if err != nil {
			logger.Error("rejecting config change", "error", err)
			return
		}
		previous, version := registry.Swap(newBindings)
		metrics.RegistryVersion.Set(float64(version))
		for _, err := range pipeline.CloseBindings(previous) {
			logger.Error("retired binding close failed", "error", err)
		}
		logger.Info("route configuration swapped", "version", version, "routes", len(newBindings))
	})
	go func() {
		if err := loader.Watch(ctx.Done()); err != nil {
			logger.Error("config watch stopped", "error", err)
		}
	}()

	// Ingest HTTP server (webhooks)
	ingestServer := &http.Server{
		Addr:              listenAddr,
		Handler:           ingestMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("ingest server listening", "addr", listenAddr)
		if err := ingestServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ingest server failed", "error", err)
			cancel()
		}
	}()

	// Metrics and health server
	opsMux := http.NewServeMux()
	opsMux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	opsMux.Handle("/", health.Handler())
	opsServer := &http.Server{
		Addr:              metricsAddr,
		Handler:           opsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("metrics server listening", "addr", metricsAddr)
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	health.SetReady(true)
	logger.Info("router started", "sources", len(cfg.Sources), "routes", len(cfg.Routes))

	err = pipe.Run(ctx)
	if err != nil && err != context.Canceled {
		logger.Error("pipeline stopped", "error", err)
	}

	health.SetReady(false)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	_ = ingestServer.Shutdown(shutdownCtx)
	_ = opsServer.Shutdown(shutdownCtx)
	if err := pipe.Shutdown(shutdownCtx); err != nil {
		logger.Error("pipeline shutdown errors", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracing shutdown failed", "error", err)
	}

	logger.Info("router stopped")
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
