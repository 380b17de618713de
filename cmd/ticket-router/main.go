package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/triagestack/ticket-router/internal/accuracy"
	"github.com/triagestack/ticket-router/internal/api"
	"github.com/triagestack/ticket-router/internal/audit"
	"github.com/triagestack/ticket-router/internal/cache"
	"github.com/triagestack/ticket-router/internal/config"
	"github.com/triagestack/ticket-router/internal/engine"
	"github.com/triagestack/ticket-router/internal/metrics"
	"github.com/triagestack/ticket-router/internal/rag"
	"github.com/triagestack/ticket-router/internal/repo"
	"github.com/triagestack/ticket-router/internal/rules"
	"github.com/triagestack/ticket-router/internal/services"
	"github.com/triagestack/ticket-router/internal/similarity"
	"github.com/triagestack/ticket-router/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting ticket-router", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	var redisCloser cache.Provider
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewRedisProvider(cache.RedisConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("redis cache unavailable", slog.Any("error", err))
		} else {
			cacheProvider = provider
			redisCloser = provider
		}
	}
	if redisCloser != nil {
		defer redisCloser.Close()
	}

	historyRepo := repo.NewHistoryRepo(
		cfg.History.Endpoint,
		cfg.History.APIKey,
		cfg.History.Timeout,
		cacheProvider,
		cfg.Cache.SimilarTicketTTL,
	)

	snapshots := config.NewManager(cfg.Routing, logger)
	if err := snapshots.Load(); err != nil {
		logger.Error("failed to load routing documents", slog.Any("error", err))
		os.Exit(1)
	}

	ruleEngine, err := rules.NewEngine(cfg.Rules.Path, snapshots, logger)
	if err != nil {
		logger.Error("failed to load rule pack", slog.Any("error", err))
		os.Exit(1)
	}

	tracker := accuracy.NewTracker(logger)
	outcomes := make(chan accuracy.ResolvedOutcome, 128)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go tracker.Consume(ctx, outcomes)

	cacheRouter := similarity.NewRouter(historyRepo, tracker, snapshots, logger)
	cacheRouter.SetGateObserver(metrics.ObserveCacheGate)

	var completer rag.Completer
	if cfg.LLM.APIKey != "" {
		completer = rag.NewAnthropicCompleter(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.MaxTokens)
	} else {
		logger.Warn("no LLM api key configured, llm stage disabled")
	}
	llmAdapter := rag.NewAdapter(completer, rag.NewPromptBuilder(0), rag.AdapterConfig{
		Timeout:       cfg.LLM.Timeout,
		MaxRetries:    cfg.LLM.MaxRetries,
		RetryBackoff:  cfg.LLM.RetryBackoff,
		MaxConcurrent: cfg.LLM.MaxConcurrent,
		OnRetry:       metrics.ObserveLLMRetry,
	}, logger)

	orchestrator := engine.NewOrchestrator(ruleEngine, cacheRouter, llmAdapter, snapshots, logger)

	journal, err := audit.NewLogger(cfg.Audit.Path, audit.Options{
		BufferSize: cfg.Audit.Buffer,
		Logger:     logger,
		OnDrop:     metrics.ObserveAuditDrop,
	})
	if err != nil {
		logger.Error("failed to open audit journal", slog.Any("error", err))
		os.Exit(1)
	}
	defer journal.Close()

	routingService := services.NewRoutingService(logger, orchestrator, journal, historyRepo, tracker, outcomes)

	handler := api.NewRouter(logger, routingService, snapshots)
	server, err := api.NewServer(cfg.Server, handler)
	if err != nil {
		logger.Error("failed to create HTTP server", slog.Any("error", err))
		os.Exit(1)
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("HTTP server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("ticket-router stopped")
}
