package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/tradecall/platform/internal/advice"
	"github.com/tradecall/platform/internal/api/router"
	appconfig "github.com/tradecall/platform/internal/config"
	"github.com/tradecall/platform/internal/conversation"
	"github.com/tradecall/platform/internal/messaging"
	"github.com/tradecall/platform/internal/notify"
	"github.com/tradecall/platform/internal/observability/metrics"
	"github.com/tradecall/platform/internal/tenant"
	"github.com/tradecall/platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting tradecall API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	// Metrics registry.
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	webhookMetrics := metrics.NewWebhookMetrics(promRegistry)
	conversationMetrics := metrics.NewConversationMetrics(promRegistry)

	// Conversation store on Redis.
	redisOpts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Error("redis unreachable", "error", err, "addr", cfg.RedisAddr)
		pingCancel()
		os.Exit(1)
	}
	pingCancel()

	store := conversation.NewStore(redisClient, cfg.ConversationTTL)

	// Tenant registry.
	var fallback *tenant.Tenant
	if cfg.DefaultForwardNumber != "" {
		fallback = &tenant.Tenant{
			ID:            "default",
			Name:          "TradeCall",
			Category:      "trades",
			ForwardNumber: tenant.NormalizeE164(cfg.DefaultForwardNumber),
		}
	}
	registry := tenant.NewRegistry(fallback)
	if cfg.TenantsJSON != "" {
		if err := registry.LoadJSON(cfg.TenantsJSON); err != nil {
			logger.Error("invalid TENANTS_JSON", "error", err)
			os.Exit(1)
		}
	}
	logger.Info("tenant registry loaded", "tenants", len(registry.List()))

	// Advice generation.
	var advisor conversation.Advisor
	if cfg.OpenAIAPIKey != "" {
		advisor = advice.New(advice.Config{
			APIKey:      cfg.OpenAIAPIKey,
			Model:       cfg.OpenAIModel,
			Timeout:     cfg.AdviceTimeout,
			HistoryHead: cfg.HistoryHead,
			HistoryTail: cfg.HistoryTail,
		}, logger)
	} else {
		logger.Warn("OPENAI_API_KEY not set; customers will receive fallback advice only")
	}

	engine := conversation.NewEngine(store, advisor, conversation.FlowOptions{
		Slots:                conversation.SlotsByName(cfg.IntakeSlotNames()),
		RequireConsent:       cfg.RequireConsent,
		NotifyBeforeAck:      cfg.NotifyBeforeAck,
		FirstMessageIsAnswer: cfg.FirstMessageIsAnswer,
		HistoryHead:          cfg.HistoryHead,
		HistoryTail:          cfg.HistoryTail,
	}, logger, conversationMetrics)

	// Outbound delivery.
	sender := messaging.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, logger)
	emailSender := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger)
	var email notify.EmailSender
	if emailSender != nil {
		email = emailSender
	}
	notifier := notify.NewService(sender, email, logger, conversationMetrics)

	messagingHandler := messaging.NewHandler(messaging.HandlerConfig{
		Registry:      registry,
		Engine:        engine,
		Sender:        sender,
		Notifier:      notifier,
		Classifier:    messaging.Classifier{ShortCallThresholdSeconds: cfg.ShortCallThreshold},
		DialTimeout:   cfg.DialTimeout,
		PublicBaseURL: cfg.PublicBaseURL,
		WebhookSecret: cfg.TwilioWebhookSecret,
		Logger:        logger,
		Metrics:       webhookMetrics,
	})
	tenantHandler := tenant.NewHandler(registry, store, sender, logger)

	r := router.New(&router.Config{
		Logger:             logger,
		MessagingHandler:   messagingHandler,
		TenantHandler:      tenantHandler,
		MetricsHandler:     promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}),
		AdminAuthSecret:    cfg.AdminJWTSecret,
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
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
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
