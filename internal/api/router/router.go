package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	httpmiddleware "github.com/tradecall/platform/internal/http/middleware"
	"github.com/tradecall/platform/internal/messaging"
	"github.com/tradecall/platform/internal/tenant"
	"github.com/tradecall/platform/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger           *logging.Logger
	MessagingHandler *messaging.Handler
	TenantHandler    *tenant.Handler
	MetricsHandler   http.Handler
	AdminAuthSecret  string

	// Webhook flood protection.
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// New creates a chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints: webhooks, health, metrics.
	r.Group(func(public chi.Router) {
		public.Get("/health", healthCheck)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.MessagingHandler != nil {
			public.Route("/webhooks/twilio", func(hooks chi.Router) {
				if cfg.RateLimitPerSecond > 0 {
					hooks.Use(httpmiddleware.RateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst))
				}
				hooks.Post("/voice", cfg.MessagingHandler.VoiceWebhook)
				hooks.Post("/voice/status", cfg.MessagingHandler.VoiceStatusWebhook)
				hooks.Post("/sms", cfg.MessagingHandler.SMSWebhook)
				hooks.Post("/status", cfg.MessagingHandler.StatusWebhook)
			})
		}
	})

	// Admin API behind JWT auth.
	if cfg.TenantHandler != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			cfg.TenantHandler.Routes(admin)
		})
	}

	return r
}

func healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
