// Package http is the fiber adapter over the orchestrator: routes,
// request parsing, error mapping, rate limiting.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"prowler/internal/cache"
	"prowler/internal/config"
	"prowler/internal/llm"
	"prowler/internal/metrics"
	"prowler/internal/orchestrator"
	"prowler/internal/ratelimit"
)

type Server struct {
	app    *fiber.App
	config *config.Config
	svc    *orchestrator.Service
	cache  *cache.Manager
	llm    llm.Client
	logger *slog.Logger
	done   chan struct{}
}

func NewServer(cfg *config.Config, svc *orchestrator.Service, cacheMgr *cache.Manager, client llm.Client, logger *slog.Logger) *Server {
	app := fiber.New(fiber.Config{
		BodyLimit:    4 * 1024 * 1024,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	s := &Server{
		app:    app,
		config: cfg,
		svc:    svc,
		cache:  cacheMgr,
		llm:    client,
		logger: logger,
		done:   make(chan struct{}),
	}

	// Request logging + metrics middleware
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()

		reqID := c.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals("request_id", reqID)

		err := c.Next()

		latency := time.Since(start)
		status := c.Response().StatusCode()
		metrics.RecordRequest(c.Method(), c.Route().Path, status, latency.Milliseconds())

		if logger != nil {
			logger.Info("request",
				"request_id", reqID,
				"method", c.Method(),
				"path", c.Path(),
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
		return err
	})

	app.Get("/healthz", s.healthzHandler)

	app.Get("/metrics", func(c *fiber.Ctx) error {
		c.Type("txt")
		return c.SendString(metrics.Export())
	})

	rateMw := func(c *fiber.Ctx) error { return c.Next() }
	if cfg.RateLimit.Enabled {
		limiter := ratelimit.New()
		rateMw = ratelimit.Middleware(limiter, ratelimit.Config{
			Window:      time.Duration(cfg.RateLimit.WindowMs) * time.Millisecond,
			MaxRequests: cfg.RateLimit.MaxRequests,
		})
		go s.sweepLoop(limiter)
	}

	v1 := app.Group("/v1", rateMw)
	v1.Post("/jobs", s.createJobHandler)
	v1.Get("/jobs", s.listJobsHandler)
	v1.Get("/jobs/:id", s.getJobHandler)
	v1.Delete("/jobs/:id", s.deleteJobHandler)
	v1.Post("/jobs/:id/cancel", s.cancelJobHandler)
	v1.Post("/jobs/:id/chat", s.chatHandler)
	v1.Post("/answer", s.answerHandler)

	return s
}

// sweepLoop drops idle rate-limit buckets so long-lived processes do
// not accumulate one per client ever seen.
func (s *Server) sweepLoop(limiter *ratelimit.Limiter) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			limiter.Sweep(10 * time.Minute)
		}
	}
}

func (s *Server) healthzHandler(c *fiber.Ctx) error {
	if c.Query("deep") != "true" {
		return c.JSON(fiber.Map{"status": "ok"})
	}

	cacheStatus := "disabled"
	if s.cache != nil && s.cache.Mode() != cache.ModeDisabled {
		if s.cache.GetStats(c.Context()).RedisAvailable {
			cacheStatus = "redis"
		} else {
			cacheStatus = "memory"
		}
	}

	llmStatus := "disabled"
	if s.llm != nil && s.llm.IsAvailable() {
		llmStatus = s.llm.ProviderName()
	}

	return c.JSON(fiber.Map{
		"status": "ok",
		"cache":  cacheStatus,
		"llm":    llmStatus,
	})
}

func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	close(s.done)
	return s.app.ShutdownWithContext(ctx)
}
