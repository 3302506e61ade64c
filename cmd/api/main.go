package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/voiceforms/platform/internal/api/router"
	appconfig "github.com/voiceforms/platform/internal/config"
	"github.com/voiceforms/platform/internal/extraction"
	"github.com/voiceforms/platform/internal/http/handlers"
	"github.com/voiceforms/platform/internal/live"
	"github.com/voiceforms/platform/internal/observability/metrics"
	"github.com/voiceforms/platform/internal/session"
	"github.com/voiceforms/platform/internal/webhook"
	"github.com/voiceforms/platform/pkg/logging"
)

func main() {
	// Load .env in development; ignore when absent.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting voiceforms API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Persistence: Postgres in production, memory store for development.
	var store session.Store
	if cfg.UseMemoryStore || cfg.DatabaseURL == "" {
		logger.Warn("using in-memory session store; data will not survive restarts")
		store = session.NewMemoryStore()
	} else {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to create postgres pool", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			logger.Error("failed to reach postgres", "error", err)
			os.Exit(1)
		}
		store = session.NewPostgresStore(pool)
	}

	// One-connection-per-session lock, shared across instances via Redis.
	var lock *session.ActiveLock
	if cfg.RedisAddr != "" {
		opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Error("failed to reach redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		lock = session.NewActiveLock(rdb, cfg.SessionTTL)
	} else {
		logger.Warn("no redis configured; session lock disabled")
	}

	sessionMetrics := metrics.NewSessionMetrics(nil)
	webhookMetrics := metrics.NewWebhookMetrics(nil)

	backend := live.NewGeminiBackend(cfg.GeminiAPIKey, cfg.GeminiLiveModels, logger)

	var llm extraction.LLMClient
	if cfg.GeminiAPIKey != "" {
		client, err := extraction.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiTextModel)
		if err != nil {
			logger.Error("failed to create extraction client", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		llm = client
	} else {
		logger.Warn("no Gemini API key; extraction will use the deterministic fallback")
	}
	completer := extraction.NewService(llm, store, logger)

	liveHandler := live.NewHandler(live.HandlerConfig{
		Store:     store,
		Backend:   backend,
		Completer: completer,
		Lock:      lock,
		Silence: live.SilenceConfig{
			PollInterval:       cfg.SilencePollInterval,
			Timeout:            cfg.SilenceTimeout,
			AmplitudeThreshold: cfg.SilenceAmplitude,
			BackendQuietWindow: cfg.BackendQuietWindow,
			GracePeriod:        cfg.SummaryGracePeriod,
		},
		OutboundCapacity: cfg.OutboundAudioCapacity,
		Metrics:          sessionMetrics,
		Logger:           logger,
	})

	// Webhook delivery runs beside the server, polling for due deliveries.
	sender := webhook.NewSender(store, logger).
		WithTimeout(cfg.WebhookTimeout).
		WithUserAgent(cfg.WebhookUserAgent).
		WithMetrics(webhookMetrics)
	worker := webhook.NewDeliveryWorker(store, sender, logger).
		WithMaxAttempts(cfg.WebhookMaxAttempts).
		WithBaseDelay(cfg.WebhookRetryBase).
		WithInterval(cfg.WebhookPollInterval).
		WithBatchSize(cfg.WebhookRetryBatch)
	go worker.Run(ctx)

	// Periodic sweep marking overdue sessions expired.
	go func() {
		ticker := time.NewTicker(cfg.SessionSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				swept, err := store.ExpireStale(ctx)
				if err != nil {
					logger.Error("session expiry sweep failed", "error", err)
					continue
				}
				if swept > 0 {
					logger.Info("expired stale sessions", "count", swept)
				}
			}
		}
	}()

	r := router.New(&router.Config{
		Logger:             logger,
		SessionsHandler:    handlers.NewSessionsHandler(store, cfg.SessionTTL, logger),
		LiveHandler:        liveHandler,
		MetricsHandler:     promhttp.Handler(),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: live websocket sessions outlive any sane value.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
