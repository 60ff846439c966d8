package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/roomcast/internal/api/middleware"
	"github.com/eldtechnologies/roomcast/internal/handlers"
)

// Options configures the router beyond the handler dependencies.
type Options struct {
	Auth        middleware.Authenticator
	RateLimiter *middleware.RateLimiter // nil disables HTTP rate limiting
	MaxBody     int64
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, deps handlers.Deps, opts Options) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	if opts.MaxBody <= 0 {
		opts.MaxBody = 64 * 1024
	}
	r.Use(middleware.MaxBodySize(opts.MaxBody))
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Identify(opts.Auth))
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting keys on the user resolved by Identify
	if opts.RateLimiter != nil {
		r.Use(opts.RateLimiter.Middleware)
	}

	// CORS - browsers attach from anywhere with a bearer token
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(deps)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no auth required)
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)

	// Anonymous attaches are upgraded and closed with 4001
	r.Get("/ws/rooms/{id}", h.ServeWS)

	// Authenticated routes (require bearer token)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth)

		r.Post("/rooms", h.CreateRoom)
		r.Post("/direct/{userID}", h.EnsureDirect)

		r.Route("/rooms/{id}", func(r chi.Router) {
			r.Get("/members", h.ListMembers)
			r.Post("/members", h.AddMember)
			r.Delete("/members/{userID}", h.RemoveMember)
			r.Patch("/members/{userID}", h.ChangeRole)
			r.Get("/messages", h.GetMessages)
			r.Post("/read", h.MarkRead)
			r.Get("/presence", h.Who)
		})

		r.Route("/messages/{id}", func(r chi.Router) {
			r.Delete("/", h.DeleteMessage)
			r.Post("/reactions", h.AddReaction)
			r.Delete("/reactions", h.RemoveReaction)
			r.Get("/receipts", h.Receipts)
		})
	})

	return r
}
