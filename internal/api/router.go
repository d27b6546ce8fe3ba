package api

import (
	"crypto/ed25519"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Mcnoble1/Medisphere-sub001/internal/api/middleware"
	"github.com/Mcnoble1/Medisphere-sub001/internal/handlers"
	"github.com/Mcnoble1/Medisphere-sub001/internal/store"
)

// Options configures the router.
type Options struct {
	Logger      zerolog.Logger
	Handler     *handlers.Handler
	Redis       *store.RedisStore
	OperatorKey ed25519.PublicKey // nil disables the admin routes
}

// NewRouter creates and configures the HTTP router.
func NewRouter(opts Options) *chi.Mux {
	r := chi.NewRouter()
	logger := opts.Logger

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(8 * 1024)) // 8KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting needs Redis
	if opts.Redis != nil {
		limiter := middleware.NewRateLimiter(opts.Redis.Client(), logger)
		r.Use(limiter.Middleware)
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type",
			middleware.HeaderOperator, middleware.HeaderNonce, middleware.HeaderTimestamp, middleware.HeaderSignature},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := opts.Handler

	// nonce guard stays nil without Redis; an untyped nil keeps the interface nil
	var nonces middleware.NonceGuard
	if opts.Redis != nil {
		nonces = opts.Redis
	}
	auth := middleware.NewAuthMiddleware(opts.OperatorKey, nonces, logger)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Get("/status", h.Status)
	r.Get("/stats", h.Stats)
	r.Get("/stats/history", h.StatsHistory)
	r.Get("/records/{messageId}", h.GetRecord)

	// Operator routes (require signature)
	r.Route("/admin", func(r chi.Router) {
		r.Use(auth.RequireOperator)

		r.Post("/sync", h.TriggerSync)
		r.Post("/stats/recalculate", h.RecalculateStats)
		r.Post("/stats/backfill", h.BackfillStats)
	})

	return r
}
