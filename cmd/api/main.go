package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/propreach/cmd/mainconfig"
	"github.com/wolfman30/propreach/internal/api/router"
	"github.com/wolfman30/propreach/internal/app/bootstrap"
	appconfig "github.com/wolfman30/propreach/internal/config"
	"github.com/wolfman30/propreach/internal/http/handlers"
	"github.com/wolfman30/propreach/internal/integrations"
	"github.com/wolfman30/propreach/pkg/logging"
)

func main() {
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting propreach API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	if err := cfg.ValidateWebhookAuth(); err != nil {
		logger.Error("refusing to start", "error", err)
		os.Exit(1)
	}
	if cfg.WebhookJWTSecret == "" {
		logger.Warn("webhooks are unauthenticated; development only")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	registry, metricsHandler := setupMetrics()
	core, err := bootstrap.BuildCore(ctx, cfg, awsCfg, registry, logger)
	if err != nil {
		logger.Error("failed to wire core", "error", err)
		os.Exit(1)
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient == nil {
		logger.Error("redis is required for inbound replies", "addr", cfg.RedisAddr)
		os.Exit(1)
	}
	defer func() { _ = redisClient.Close() }()

	broadcaster := bootstrap.BuildBroadcaster(core)
	engine, err := bootstrap.BuildEngine(ctx, core, redisClient, bootstrap.BuildPublisher(core, broadcaster))
	if err != nil {
		logger.Error("failed to wire conversation engine", "error", err)
		os.Exit(1)
	}

	webhooks := handlers.NewWebhookHandler(engine, broadcaster, core.Queue, core.Integrations, logger)
	r := router.New(&router.Config{
		Logger:         logger,
		Webhooks:       webhooks,
		MetricsHandler: metricsHandler,
		WebhookSecret:  cfg.WebhookJWTSecret,
		OpenWebhooks:   cfg.IsDevelopment(),
		WebhookRPS:     cfg.WebhookRPS,
		WebhookBurst:   cfg.WebhookBurst,
	})

	go integrations.NewRefreshWorker(core.Integrations, core.Tokens, logger).Start(ctx)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func setupMetrics() (*prometheus.Registry, http.Handler) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry, promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
