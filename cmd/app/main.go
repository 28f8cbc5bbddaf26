package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"invoice-extraction-pipeline/internal/config"
	"invoice-extraction-pipeline/internal/domain/ports/adapter"
	"invoice-extraction-pipeline/internal/domain/ports/broadcast"
	aiAdapters "invoice-extraction-pipeline/internal/infra/adapters/ai"
	"invoice-extraction-pipeline/internal/infra/adapters/blob"
	hub "invoice-extraction-pipeline/internal/infra/broadcast"
	pg "invoice-extraction-pipeline/internal/infra/db/postgres"
	"invoice-extraction-pipeline/internal/infra/logging"
	"invoice-extraction-pipeline/internal/infra/metrics"
	red "invoice-extraction-pipeline/internal/infra/redis"
	"invoice-extraction-pipeline/internal/infra/web"
	"invoice-extraction-pipeline/internal/infra/worker"
	"invoice-extraction-pipeline/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, insecure cookies)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("developer mode enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, int32(cfg.Database.PoolSize))
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	go pg.ReportPoolStats(ctx, pool, 15*time.Second)

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	rateLimiter := red.NewRateLimiter(redisClient)
	locker := red.NewLocker(redisClient)

	// ---- Repositories ----
	tm := pg.NewTxManager(pool)
	jobRepo := pg.NewJobRepo(pool, tm)
	invoiceRepo := pg.NewInvoiceRepo(pool)
	auditRepo := pg.NewAuditRepo(pool)

	// ---- AI adapters ----
	byProvider := map[string]adapter.ExtractionAdapter{}
	defaultProvider := ""
	if cfg.AI.OpenAIKey != "" {
		oa, err := aiAdapters.NewOpenAIAdapter(cfg.AI.OpenAIKey, cfg.AI.DefaultModel, cfg.AI.OpenAIBase)
		if err != nil {
			logger.Fatal().Err(err).Msg("openai adapter")
		}
		byProvider["openai"] = oa
		defaultProvider = "openai"
	}
	if cfg.AI.GeminiKey != "" {
		ga, err := aiAdapters.NewGeminiAdapter(ctx, cfg.AI.GeminiKey, cfg.AI.GeminiURL, cfg.AI.DefaultModel, cfg.AI.MaxOutput)
		if err != nil {
			logger.Fatal().Err(err).Msg("gemini adapter")
		}
		byProvider["gemini"] = ga
		if defaultProvider == "" || strings.HasPrefix(strings.ToLower(cfg.AI.DefaultModel), "gemini") {
			defaultProvider = "gemini"
		}
	}
	if len(byProvider) == 0 {
		logger.Fatal().Msgf("no AI provider configured: set ai.openai_key or ai.gemini_key in %s", *cfgPath)
	}
	ai := aiAdapters.NewMultiAdapter(defaultProvider, byProvider, cfg.AI.ModelRouting)
	logger.Info().Str("default_provider", defaultProvider).Str("model", cfg.AI.DefaultModel).Msg("AI adapters ready")

	// ---- Blob store ----
	blobs := blob.NewHTTPStore(cfg.Blob.BaseURL, cfg.Blob.Timeout.Std())

	// ---- Event bus ----
	var bus broadcast.Broadcaster
	if cfg.Pipeline.BrokeredEventsEnable {
		bus = red.NewEventTransport(redisClient, logger)
		logger.Info().Msg("event bus: redis pub/sub")
	} else {
		bus = hub.NewHub(logger)
		logger.Info().Msg("event bus: in-process hub")
	}

	// ---- Use cases ----
	validator, err := usecase.NewInvoiceValidator()
	if err != nil {
		logger.Fatal().Err(err).Msg("invoice validator")
	}
	intakeUC := usecase.NewIntakeUseCase(jobRepo, auditRepo, tm, rateLimiter, cfg.Pipeline.EnqueueLimitPerMin, cfg.Pipeline.DefaultThreshold, logger)
	reviewUC := usecase.NewReviewUseCase(jobRepo, invoiceRepo, auditRepo, tm, logger)

	// ---- Workers ----
	workerPool := worker.NewPool(cfg.Pipeline.Workers, logger)
	workerPool.Start(ctx)
	defer workerPool.Stop()

	processor := worker.NewExtractionProcessor(
		jobRepo, invoiceRepo, auditRepo, tm,
		blobs, ai, bus, validator,
		cfg.AI.DefaultModel,
		cfg.Pipeline.ExtractionRetries,
		cfg.Pipeline.ExtractionBackoff.Std(),
		cfg.Pipeline.PollInterval.Std(),
		logger,
	)
	go processor.Start(ctx, workerPool)

	if cfg.Pipeline.ReconcilerEnabled {
		reconciler := worker.NewStaleReconciler(cfg.Pipeline.StaleSweepInterval.Std(), cfg.Pipeline.StaleJobTTL.Std(), jobRepo, locker, logger)
		go func() {
			if err := reconciler.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("reconciler stopped")
			}
		}()
	}

	// ---- HTTP API ----
	auth := web.NewAuthManager(cfg.Server.AdminSecret, !cfg.Runtime.Dev, cfg.Server.SessionTTL.Std())
	srv := web.NewServer(intakeUC, reviewUC, bus, auth, cfg.Server.APIKey, logger)

	apiServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("API server listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("API server")
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Int("port", cfg.Server.MetricsPort).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server")
		}
	}()

	// ---- Shutdown ----
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("API server shutdown")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown")
	}
}
