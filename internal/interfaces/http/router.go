package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/turtacn/MedPlan-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MedPlan-Intelligence/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/MedPlan-Intelligence/internal/interfaces/http/handlers"
	"github.com/turtacn/MedPlan-Intelligence/internal/interfaces/http/middleware"
)

// RouterConfig aggregates the handler and middleware dependencies of the
// route tree.
type RouterConfig struct {
	// Handlers
	PrescriptionHandler *handlers.PrescriptionHandler
	HealthHandler       *handlers.HealthHandler

	// Middleware
	Logging     *middleware.LoggingConfig
	RateLimiter middleware.RateLimiter
	// TrustProxyHeaders installs chi RealIP so the client address (and the
	// rate-limit key) comes from forwarding headers.
	TrustProxyHeaders bool

	// RequestTimeout bounds every /api/v1 request; 0 disables.
	RequestTimeout time.Duration
	// MaxBodySize caps /api/v1 request bodies in bytes; 0 disables.
	MaxBodySize int64

	// Infrastructure
	Logger           logging.Logger
	Metrics          *prometheus.AppMetrics
	MetricsCollector prometheus.MetricsCollector
	MetricsPath      string
}

// NewRouter builds the route tree: global middleware, public health endpoints and
// metrics, then the /api/v1 group.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	if cfg.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.RequestContext)
	if cfg.Logging != nil {
		r.Use(middleware.RequestLogging(cfg.Logger, *cfg.Logging))
	}
	r.Use(chimw.Recoverer)
	r.Use(middleware.Metrics(cfg.Metrics))

	r.Group(func(pub chi.Router) {
		if cfg.HealthHandler != nil {
			pub.Get("/healthz", cfg.HealthHandler.Liveness)
			pub.Get("/healthz/detail", cfg.HealthHandler.Detailed)
			pub.Get("/readyz", cfg.HealthHandler.Readiness)
		}
	})

	if cfg.MetricsCollector != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, cfg.MetricsCollector.Handler())
	}

	r.Route("/api/v1", func(api chi.Router) {
		if cfg.RateLimiter != nil {
			api.Use(middleware.RateLimit(cfg.RateLimiter))
		}
		if cfg.MaxBodySize > 0 {
			api.Use(chimw.RequestSize(cfg.MaxBodySize))
		}
		if cfg.RequestTimeout > 0 {
			api.Use(chimw.Timeout(cfg.RequestTimeout))
		}
		registerPrescriptionRoutes(api, cfg.PrescriptionHandler)
	})

	return r
}

func registerPrescriptionRoutes(r chi.Router, h *handlers.PrescriptionHandler) {
	if h == nil {
		return
	}
	r.Post("/prescriptions/parse", h.Parse)
	r.Post("/interactions/check", h.CheckInteractions)
	r.Post("/ask", h.Ask)
}
