package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/solguard/solguard/service/analyzer"
	"github.com/solguard/solguard/service/cache"
	"github.com/solguard/solguard/service/config"
	"github.com/solguard/solguard/service/history"
	"github.com/solguard/solguard/service/metrics"
	"github.com/solguard/solguard/service/ml"
	natspkg "github.com/solguard/solguard/service/nats"
	"github.com/solguard/solguard/service/patterns"
	"github.com/solguard/solguard/service/registry"
	"github.com/solguard/solguard/service/scan"
	"github.com/solguard/solguard/service/server"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting scan server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	// Verify database connection
	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Initialize optional Redis client for the shared verdict cache and
	// account history. The service runs memory-only without it.
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, continuing memory-only", "error", err)
		} else {
			logger.Info("connected to redis")
		}
	}

	// Initialize exploit pattern store: schema, seed, load
	patternStore := patterns.NewStore(dbPool, metricsCollector, logger)
	if err := patternStore.EnsureSchema(ctx); err != nil {
		logger.Error("failed to ensure pattern schema", "error", err)
		os.Exit(1)
	}
	if err := patternStore.Seed(ctx); err != nil {
		logger.Error("failed to seed patterns", "error", err)
		os.Exit(1)
	}
	if err := patternStore.Load(ctx); err != nil {
		logger.Error("failed to load patterns", "error", err)
		os.Exit(1)
	}

	// Initialize the program registry and sync its blacklist from the
	// critical pattern tier
	programRegistry := registry.New()
	if ids, err := patternStore.BlacklistedPrograms(ctx); err != nil {
		logger.Warn("failed to load program blacklist", "error", err)
	} else {
		programRegistry.ReplaceBlacklist(ids)
	}

	// Load the ML model
	model := ml.NewRuleModel(logger)
	if err := model.Load(ctx); err != nil {
		// A scan with an unloaded model degrades the ML stage rather
		// than failing, so keep serving.
		logger.Warn("ml model failed to load, ml stage will degrade", "error", err)
	}

	// Account history is Redis-backed and optional
	var historySvc analyzer.HistoryService
	if rdb != nil {
		historySvc = history.New(rdb, logger)
	}

	// Assemble the four analysis stages
	stages := []scan.Stage{
		analyzer.NewProgramStage(programRegistry, logger),
		analyzer.NewPatternStage(patternStore, logger),
		analyzer.NewMLStage(model, logger),
		analyzer.NewAccountStage(historySvc, logger),
	}

	// Initialize NATS publisher for high-risk scan alerts
	var publisher scan.AlertPublisher
	natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
	if err != nil {
		logger.Warn("NATS unavailable, scan alerts disabled", "error", err)
	} else {
		defer natsPublisher.Close()
		publisher = natsPublisher
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	}

	// Verdict cache and admission control
	verdictCache := cache.New(rdb, metricsCollector, logger)
	defer verdictCache.Close()
	admission := scan.NewAdmissionController(cfg.MaxConcurrentScans)

	orchestrator := scan.NewOrchestrator(
		stages,
		scan.NewAggregator(scanPolicy(cfg)),
		verdictCache,
		admission,
		publisher,
		metricsCollector,
		scan.Options{Timeouts: scanTimeouts(cfg), CacheTTL: cfg.CacheTTL},
		logger,
	)

	// Periodically refresh patterns and the program blacklist so this
	// instance picks up threat-intel updates written by the worker.
	go patternReloader(ctx, cfg.ThreatIntelRefreshInterval, patternStore, programRegistry, logger)

	// Initialize HTTP server
	httpServer := server.New(cfg.ServerAddr, cfg, orchestrator, patternStore, programRegistry, model, admission, metricsCollector, logger)

	logger.Info("server initialized, all dependencies ready",
		"patterns_loaded", patternStore.Matcher().Len(),
		"model_state", model.StateNow(),
		"max_concurrent_scans", cfg.MaxConcurrentScans,
		"scan_deadline", cfg.ScanDeadline,
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// scanTimeouts converts the configured timeout projection into the
// pipeline's shape.
func scanTimeouts(cfg *config.Config) scan.Timeouts {
	t := cfg.Timeouts()
	return scan.Timeouts{
		Deadline: t.Deadline,
		Program:  t.Program,
		Pattern:  t.Pattern,
		ML:       t.ML,
		Account:  t.Account,
	}
}

// scanPolicy converts the configured risk policy into the pipeline's
// shape.
func scanPolicy(cfg *config.Config) scan.Policy {
	p := cfg.Policy()
	return scan.Policy{
		Weights: map[scan.StageName]float64{
			scan.StagePattern: p.PatternWeight,
			scan.StageML:      p.MLWeight,
			scan.StageProgram: p.ProgramWeight,
			scan.StageAccount: p.AccountWeight,
		},
		NeutralScore:         p.NeutralScore,
		DegradedWeightFactor: p.DegradedWeightFactor,
		Thresholds: scan.Thresholds{
			Low:      p.ThresholdLow,
			Medium:   p.ThresholdMedium,
			High:     p.ThresholdHigh,
			Critical: p.ThresholdCritical,
		},
	}
}

// patternReloader refreshes the in-memory pattern matcher and program
// blacklist on the threat-intel interval.
func patternReloader(ctx context.Context, interval time.Duration, store *patterns.Store, reg *registry.ProgramRegistry, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := store.Load(ctx); err != nil {
				logger.Warn("periodic pattern reload failed", "error", err)
				continue
			}
			ids, err := store.BlacklistedPrograms(ctx)
			if err != nil {
				logger.Warn("periodic blacklist refresh failed", "error", err)
				continue
			}
			reg.ReplaceBlacklist(ids)
			logger.Debug("patterns and blacklist refreshed",
				"patterns", store.Matcher().Len(),
				"blacklisted", len(ids),
			)
		case <-ctx.Done():
			return
		}
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
