package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/propreach/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/propreach/internal/http/middleware"
	"github.com/wolfman30/propreach/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	Webhooks       *handlers.WebhookHandler
	MetricsHandler http.Handler

	// WebhookSecret signs the JWTs required on /webhooks. With no secret
	// every webhook call is rejected unless OpenWebhooks is set.
	WebhookSecret string
	// OpenWebhooks serves /webhooks without auth when no secret is set.
	// Local development only.
	OpenWebhooks bool
	// WebhookRPS and WebhookBurst throttle webhook callers per IP.
	WebhookRPS   float64
	WebhookBurst int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	r.Get("/health", handlers.Health)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.Webhooks != nil {
		r.Route("/webhooks", func(wh chi.Router) {
			if cfg.WebhookRPS > 0 {
				burst := cfg.WebhookBurst
				if burst <= 0 {
					burst = int(cfg.WebhookRPS) + 1
				}
				wh.Use(httpmiddleware.RateLimit(cfg.WebhookRPS, burst))
			}
			if cfg.WebhookSecret != "" || !cfg.OpenWebhooks {
				wh.Use(httpmiddleware.WebhookJWT(cfg.WebhookSecret))
			}
			wh.Post("/inbound", cfg.Webhooks.Inbound)
			wh.Post("/disposition", cfg.Webhooks.Disposition)
			wh.Post("/contact-tagged", cfg.Webhooks.ContactTagged)
		})
	}

	return r
}
