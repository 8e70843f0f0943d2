package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"prowler/internal/breaker"
	"prowler/internal/cache"
	"prowler/internal/config"
	"prowler/internal/extract"
	"prowler/internal/fetch"
	server "prowler/internal/http"
	"prowler/internal/llm"
	"prowler/internal/metrics"
	"prowler/internal/migrate"
	"prowler/internal/orchestrator"
	"prowler/internal/proxy"
	"prowler/internal/store"
	"prowler/internal/validator"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	role := flag.String("role", "all", "api, worker, or all")
	flag.Parse()
	runAPI := *role == "api" || *role == "all"
	runWorker := *role == "worker" || *role == "all"
	if !runAPI && !runWorker {
		log.Fatalf("unknown role %q", *role)
	}

	cfg := config.Load(*configPath)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))

	// Postgres when a DSN is configured, in-process memory otherwise.
	var repo store.Repository
	if cfg.Database.DSN != "" {
		if err := migrate.Run(cfg.Database.DSN); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}
		pg, err := store.NewPostgres(context.Background(), cfg.Database.DSN)
		if err != nil {
			log.Fatalf("open store failed: %v", err)
		}
		repo = pg
	} else {
		logger.Warn("no database DSN configured, using in-memory store")
		repo = store.NewMemory()
	}
	defer repo.Close()

	cacheMgr := cache.NewManager(cfg.Cache)
	defer func() { _ = cacheMgr.Close() }()

	llmClient := llm.NewFromConfig(cfg, logger)

	pool := proxy.NewPoolFromURLs(cfg.Proxy.URLs, cfg.Proxy.MaxConsecutiveFailures)
	strategy := proxy.NormalizeStrategy(cfg.Proxy.RotationStrategy)
	checker := proxy.NewHealthChecker(pool, time.Duration(cfg.Proxy.HealthCheckTimeoutMs)*time.Millisecond, logger)
	checker.Start(time.Duration(cfg.Proxy.HealthCheckIntervalSec) * time.Second)
	defer checker.Stop()

	breakers := breaker.NewRegistry(breaker.Config{
		Timeout:                  time.Duration(cfg.Breaker.TimeoutMs) * time.Millisecond,
		ErrorThresholdPercentage: float64(cfg.Breaker.ErrorThresholdPercentage),
		ResetTimeout:             time.Duration(cfg.Breaker.ResetTimeoutMs) * time.Millisecond,
		MonitoringPeriod:         time.Duration(cfg.Breaker.MonitoringPeriodMs) * time.Millisecond,
		MinimumRequests:          cfg.Breaker.MinimumRequests,
		Enabled:                  cfg.Breaker.Enabled,
		OnStateChange: func(name string, state breaker.State) {
			metrics.RecordBreakerTransition(name, string(state))
		},
	})

	registry := extract.NewRegistry(logger)
	registry.Register(extract.NewLLMStrategy(llmClient), true)
	registry.Register(extract.NewRuleBasedStrategy(cfg.Extraction.RuleBasedConfidence, cfg.Extraction.RuleBasedStrictMode), false)
	registry.Register(extract.NewCosineStrategy(cfg.Extraction.CosineThreshold, cfg.Extraction.CosineMaxEntities, cfg.Extraction.CosineMinSegmentLength), false)

	v := validator.New(validator.ConfigFrom(cfg.Validation), cacheMgr, llmClient, logger)

	var sink fetch.BlobSink
	if cfg.Scraper.ScreenshotDir != "" {
		sink = fetch.NewFileSink(cfg.Scraper.ScreenshotDir)
	}

	tiers := orchestrator.Tiers{
		HTTP:     fetch.NewHTTPFetcher(cfg.Scraper, pool, strategy, breakers, logger),
		Headless: fetch.NewHeadlessFetcher(cfg.Scraper, sink, logger),
		Smart:    fetch.NewSmartFetcher(cfg.Scraper, llmClient, logger),
		Agent:    fetch.NewAgentFetcher(cfg.Agent, cfg.Scraper, llmClient, logger),
	}
	if reader := fetch.NewReaderFetcher(cfg.Scraper, logger); reader.Available() {
		tiers.Reader = reader
	}

	svc := orchestrator.New(cfg, repo, cacheMgr, registry, v, llmClient, tiers, nil, logger)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var s *server.Server
	if runWorker {
		svc.StartRetention(rootCtx)
		if _, err := svc.ResumePending(rootCtx); err != nil {
			logger.Error("resume pending jobs", "error", err)
		}
	}
	if runAPI {
		s = server.NewServer(cfg, svc, cacheMgr, llmClient, logger)
		go func() {
			if err := s.Listen(); err != nil {
				log.Fatalf("server failed: %v", err)
			}
		}()
		logger.Info("listening", "host", cfg.Server.Host, "port", cfg.Server.Port, "role", *role)
	}

	<-rootCtx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if s != nil {
		if err := s.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown", "error", err)
		}
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker shutdown", "error", err)
	}
}
