// Merlin - Real-time transaction fraud scoring.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/opensource-finance/merlin/internal/alerts"
	"github.com/opensource-finance/merlin/internal/api"
	"github.com/opensource-finance/merlin/internal/baseline"
	"github.com/opensource-finance/merlin/internal/bus"
	"github.com/opensource-finance/merlin/internal/cache"
	"github.com/opensource-finance/merlin/internal/decision"
	"github.com/opensource-finance/merlin/internal/domain"
	"github.com/opensource-finance/merlin/internal/explain"
	"github.com/opensource-finance/merlin/internal/features"
	"github.com/opensource-finance/merlin/internal/pipeline"
	"github.com/opensource-finance/merlin/internal/policy"
	"github.com/opensource-finance/merlin/internal/repository"
	"github.com/opensource-finance/merlin/internal/scoring"
	"github.com/opensource-finance/merlin/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Optional .env file for local development
	_ = godotenv.Load()

	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("MERLIN_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting merlin",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()
	if os.Getenv("MERLIN_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}
	applyEnvOverrides(cfg)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Store
	store, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize user baseline service
	baselines := baseline.NewService(store, cacheImpl, cfg.Scoring.BaselineTTL, logger)
	slog.Info("baseline service initialized", "ttl", cfg.Scoring.BaselineTTL)

	// Optional IP geolocation
	var resolver *features.GeoResolver
	if cfg.Geo.GeoIPPath != "" {
		resolver, err = features.NewGeoResolver(cfg.Geo.GeoIPPath)
		if err != nil {
			slog.Warn("geoip database unavailable, IP resolution disabled",
				"path", cfg.Geo.GeoIPPath,
				"error", err,
			)
		} else {
			defer resolver.Close()
			slog.Info("geoip resolver initialized", "path", cfg.Geo.GeoIPPath)
		}
	}

	// Initialize feature engineering
	featureSvc := features.NewService(store, baselines, resolver, logger)

	// Initialize model scoring (falls back to heuristics when artifacts
	// are missing)
	scorer := scoring.NewService(cfg.Models, cfg.Scoring, store, logger)

	// Initialize decision engine
	decider, err := decision.NewEngine(cfg.Scoring, logger)
	if err != nil {
		slog.Error("invalid scoring configuration", "error", err)
		os.Exit(1)
	}

	// Initialize policy engine and load stored policies
	policies, err := policy.NewEngine(logger)
	if err != nil {
		slog.Error("failed to initialize policy engine", "error", err)
		os.Exit(1)
	}
	defer policies.Close()
	if err := loadPoliciesFromStore(ctx, store, policies); err != nil {
		slog.Error("failed to load policies", "error", err)
		os.Exit(1)
	}
	slog.Info("policy engine initialized", "policy_count", policies.Count())

	alertSvc := alerts.NewService(store, busImpl, logger)

	// Assemble the scoring pipeline
	p := pipeline.New(pipeline.Config{
		Store:     store,
		Bus:       busImpl,
		Features:  featureSvc,
		Scorer:    scorer,
		Decider:   decider,
		Policies:  policies,
		Explain:   explain.NewEngine(),
		Alerts:    alertSvc,
		Baselines: baselines,
		Logger:    logger,
	})

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("MERLIN_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, p, logger)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started")
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, cfg.APIKey, api.HandlerConfig{
		Store:     store,
		Cache:     cacheImpl,
		Bus:       busImpl,
		Pipeline:  p,
		Scorer:    scorer,
		Decider:   decider,
		Policies:  policies,
		Alerts:    alertSvc,
		Baselines: baselines,
		Models:    cfg.Models,
		Version:   Version,
	})

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("merlin is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("merlin shutdown complete")
}

// applyEnvOverrides layers environment settings onto the tier defaults.
func applyEnvOverrides(cfg *domain.Config) {
	if v := os.Getenv("MERLIN_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("MERLIN_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("MERLIN_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("MERLIN_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("MERLIN_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("MERLIN_POSTGRES_USER"); v != "" {
		cfg.Repository.PostgresUser = v
	}
	if v := os.Getenv("MERLIN_POSTGRES_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("MERLIN_POSTGRES_DB"); v != "" {
		cfg.Repository.PostgresDB = v
	}
	if v := os.Getenv("MERLIN_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("MERLIN_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
	if v := os.Getenv("MERLIN_GEOIP_PATH"); v != "" {
		cfg.Geo.GeoIPPath = v
	}
	if v := os.Getenv("MERLIN_ANOMALY_MODEL"); v != "" {
		cfg.Models.AnomalyPath = v
	}
	if v := os.Getenv("MERLIN_CLASSIFIER_MODEL"); v != "" {
		cfg.Models.ClassifierPath = v
	}
}

// loadPoliciesFromStore compiles stored policies into the engine.
// All policies are configured via POST /policies - no hardcoded defaults.
func loadPoliciesFromStore(ctx context.Context, store domain.Store, engine *policy.Engine) error {
	stored, err := store.ListPolicies(ctx)
	if err != nil {
		slog.Warn("failed to list policies from store", "error", err)
		return nil // Start with none - they can be added via API
	}

	if len(stored) > 0 {
		slog.Info("loading policies from store", "count", len(stored))
		return engine.Reload(stored)
	}

	slog.Info("no policies stored - configure via POST /policies API")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦉 MERLIN                   ║")
	fmt.Println("  ║      Fraud Scoring Pipeline               ║")
	fmt.Println("  ║      Every transaction, scored.           ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /score                        - Score a transaction")
	fmt.Println("    GET  /transactions/{id}            - Get transaction by ID")
	fmt.Println("    GET  /alerts                       - List alerts")
	fmt.Println("    GET  /alerts/{id}                  - Get alert by ID")
	fmt.Println("    POST /alerts/{id}/review           - Record analyst review")
	fmt.Println("    GET  /alerts/stats                 - Alert backlog statistics")
	fmt.Println("    GET  /stats                        - Pipeline statistics")
	fmt.Println("    PUT  /config/scoring               - Replace scoring configuration")
	fmt.Println("    POST /calibrate                    - Calibrate decision thresholds")
	fmt.Println("    POST /models/reload                - Hot-swap model artifacts")
	fmt.Println("    POST /baselines/{userID}/refresh   - Recompute a user baseline")
	fmt.Println("    GET  /policies                     - List policies")
	fmt.Println("    POST /policies                     - Create a policy")
	fmt.Println("    POST /policies/reload              - Hot-reload policies")
	fmt.Println("    GET  /metrics                      - Prometheus metrics")
	fmt.Println("    GET  /health                       - Health check")
	fmt.Println()
}
