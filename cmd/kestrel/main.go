// Kestrel - Content risk scoring, detection rules and self-healing response.
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
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/alerts"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/healing"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/velocity"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// alertWindow is how many recent alerts are loaded into memory at startup.
const alertWindow = 500

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"auto_remediate", cfg.Healing.AutoRemediate,
		"worker", cfg.Worker.Enabled,
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

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
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

	// Initialize Scoring Engine
	scorer := scoring.NewEngine(scoringOptions(cfg, cacheImpl)...)

	// Initialize Rule Engine
	ruleEngine, err := rules.NewEngine(repo, cfg.Rules.MaxWorkers)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	if err := ruleEngine.Load(ctx); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	if cfg.Rules.SeedDefaults {
		seeded, err := ruleEngine.SeedBuiltins(ctx)
		if err != nil {
			slog.Error("failed to seed builtin rules", "error", err)
			os.Exit(1)
		}
		if seeded > 0 {
			slog.Info("builtin rules installed", "count", seeded)
		}
	}
	slog.Info("rule engine initialized", "rules_count", ruleEngine.RulesCount())

	// Initialize Alert Manager
	alertManager := alerts.NewManager(repo, busImpl)
	loaded, err := alertManager.Load(ctx, alertWindow)
	if err != nil {
		slog.Warn("failed to load recent alerts", "error", err)
	}
	slog.Info("alert manager initialized", "alerts_loaded", loaded)

	// Initialize Healing Orchestrator
	healer := healing.NewOrchestrator(healing.NewState(cfg.Healing.LogCapacity), repo, busImpl, cfg.Healing)
	slog.Info("healing orchestrator initialized", "log_capacity", cfg.Healing.LogCapacity)

	// Initialize Scan Pipeline
	processor := pipeline.NewProcessor(scorer, ruleEngine, alertManager, healer, repo, busImpl, pipeline.Config{
		AutoRemediate:   cfg.Healing.AutoRemediate,
		NotifyRecipient: cfg.Healing.NotifyRecipient,
	})

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, processor)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "topic", domain.TopicScanRequested)
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, api.Services{
		Repo:      repo,
		Cache:     cacheImpl,
		Bus:       busImpl,
		Rules:     ruleEngine,
		Alerts:    alertManager,
		Healer:    healer,
		Processor: processor,
	}, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
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

	slog.Info("kestrel shutdown complete")
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// scoringOptions wires the optional assessor and the velocity probe.
func scoringOptions(cfg *domain.Config, c domain.Cache) []scoring.Option {
	var opts []scoring.Option

	if cfg.Scoring.AssessorURL != "" {
		client := &http.Client{Timeout: cfg.Scoring.AssessorTimeout + time.Second}
		inner := scoring.NewHTTPAssessor(cfg.Scoring.AssessorURL, client)
		opts = append(opts, scoring.WithAssessor(scoring.NewGuardedAssessor(inner, c, cfg.Scoring)))
		slog.Info("external assessor enabled",
			"url", cfg.Scoring.AssessorURL,
			"timeout", cfg.Scoring.AssessorTimeout,
		)
	}

	if cfg.Velocity.Enabled {
		opts = append(opts, scoring.WithBehaviorProbe(velocity.NewService(c, cfg.Velocity)))
		slog.Info("velocity tracking enabled",
			"window", cfg.Velocity.Window,
			"threshold", cfg.Velocity.Threshold,
		)
	}
	return opts
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  KESTREL")
	fmt.Println("  Content risk scoring and self-healing response")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /scan                     - Score content and respond")
	fmt.Println("    GET  /threats                  - Recent threats")
	fmt.Println("    GET  /rules                    - List rules")
	fmt.Println("    POST /rules                    - Create a rule")
	fmt.Println("    PUT  /rules/{id}/active        - Toggle a rule")
	fmt.Println("    POST /rules/reload             - Hot-reload rules from the database")
	fmt.Println("    GET  /alerts                   - List alerts")
	fmt.Println("    POST /alerts/{id}/transition   - Escalate, resolve or dismiss")
	fmt.Println("    POST /remediate                - Run remediation")
	fmt.Println("    GET  /healing/state            - Blocked sources and firewall rules")
	fmt.Println("    GET  /insights/accuracy        - Heuristic accuracy estimate")
	fmt.Println("    GET  /health, /ready, /metrics - Probes")
	fmt.Println()
}
