package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/voiceforms/platform/internal/http/handlers"
	httpmiddleware "github.com/voiceforms/platform/internal/http/middleware"
	"github.com/voiceforms/platform/internal/live"
	"github.com/voiceforms/platform/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	SessionsHandler    *handlers.SessionsHandler
	LiveHandler        *live.Handler
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", cfg.SessionsHandler.HealthCheck)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	// Live audio transport. Upgraded connections bypass the compress and
	// timeout middleware on purpose.
	if cfg.LiveHandler != nil {
		r.Get("/ws/sessions/{sessionID}", cfg.LiveHandler.ServeSession)
	}

	r.Route("/api", func(api chi.Router) {
		api.Post("/forms", cfg.SessionsHandler.CreateForm)
		api.Post("/forms/{formID}/sessions", cfg.SessionsHandler.CreateSession)
		api.Get("/sessions/{sessionID}", cfg.SessionsHandler.GetSession)
		api.Get("/sessions/{sessionID}/delivery", cfg.SessionsHandler.GetDelivery)
	})

	return r
}
