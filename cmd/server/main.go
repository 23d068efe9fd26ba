package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"polyglot-sandbox/internal/api"
	"polyglot-sandbox/internal/config"
	"polyglot-sandbox/internal/controller"
	"polyglot-sandbox/internal/engine"
	"polyglot-sandbox/internal/monitor"
	"polyglot-sandbox/internal/normalize"
	"polyglot-sandbox/internal/policy"
	"polyglot-sandbox/internal/storage"
	"polyglot-sandbox/internal/threat"
)

func main() {
	// Structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	var cfg *config.Config
	var err error

	if _, statErr := os.Stat(configPath); statErr == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
		}
	} else {
		log.Info().Msg("no config file found, using defaults")
		cfg = config.DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := monitor.NewMetrics()

	// Security policies, with config overrides layered on the defaults.
	policies := policy.NewStore(cfg.PolicyOverrides())
	if err := policies.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid security policy")
	}

	// Static analysis pipeline.
	violationLog := threat.NewViolationLog(cfg.Analyzer.ViolationLogSize)
	analyzer := threat.NewAnalyzer(policies, violationLog)

	// One engine per language family.
	engines, err := engine.NewRegistry(policies)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build engine registry")
	}

	var ctrl *controller.Controller
	ctrl = controller.New(policies, engines, controller.Options{
		DispatchInterval: cfg.Executor.DispatchInterval,
		OnTimeout: func(id string, lang policy.Language) {
			metrics.QueueDepth.Set(float64(ctrl.QueueLength()))
		},
		OnCancel: func(id string, lang policy.Language) {
			metrics.QueueDepth.Set(float64(ctrl.QueueLength()))
		},
	})

	analytics := normalize.NewAnalytics()

	// Database is optional; the service runs without audit history.
	var db *storage.DB
	if cfg.Database.DSN != "" {
		db, err = storage.New(ctx, cfg.Database.DSN)
		if err != nil {
			log.Warn().Err(err).Msg("database unavailable, audit logging disabled")
		} else {
			defer db.Close()
		}
	}

	var auditWriter *storage.AuditWriter
	if db != nil {
		auditWriter = storage.NewAuditWriter(db, 10000)
		auditWriter.Start()
		defer auditWriter.Flush(10 * time.Second)
	}

	handlers := api.NewHandlers(ctrl, analyzer, engines, policies, analytics, cfg.RetryPolicy(), db, auditWriter, metrics)
	server := api.NewServer(cfg, handlers, db)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		log.Info().Str("signal", sig.String()).Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}

		ctrl.Close()
		engines.Cleanup("")

		cancel()
	}()

	log.Info().
		Str("addr", cfg.Address()).
		Bool("db_enabled", db != nil).
		Int("languages", len(policy.Languages())).
		Msg("server starting")

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}

	log.Info().Msg("server stopped")
}
