package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nikhilbhutani/speechmentor/internal/api/handlers"
	"github.com/nikhilbhutani/speechmentor/internal/api/middleware"
	"github.com/nikhilbhutani/speechmentor/internal/auth"
	"github.com/nikhilbhutani/speechmentor/internal/config"
	"github.com/nikhilbhutani/speechmentor/internal/observe"
	"github.com/nikhilbhutani/speechmentor/internal/storage"
)

const TriggerTokenHeader = "X-Trigger-Token"

// Deps are the services the HTTP surface exposes.
type Deps struct {
	Executions handlers.ExecutionReader
	// History is optional.
	History  handlers.HistoryReader
	Blobs    storage.Storage
	Listener handlers.EventListener
	// Ready lists dependencies probed by /readyz; nil entries are skipped.
	Ready   map[string]handlers.Pinger
	Metrics *observe.Metrics
}

type Router struct {
	mux   *chi.Mux
	cfg   *config.Config
	deps  Deps
	jwt   *auth.JWTMiddleware
	token *auth.TokenMiddleware
}

func NewRouter(cfg *config.Config, deps Deps) *Router {
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	return &Router{
		mux:   chi.NewRouter(),
		cfg:   cfg,
		deps:  deps,
		jwt:   auth.NewJWTMiddleware(cfg.Auth.JWTSecret),
		token: auth.NewTokenMiddleware(TriggerTokenHeader, cfg.Trigger.Token),
	}
}

// Setup builds the handler tree. ctx bounds background work such as the
// rate limiter's cleanup.
func (rt *Router) Setup(ctx context.Context) http.Handler {
	r := rt.mux

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(observe.Middleware(rt.deps.Metrics))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(rt.cfg.Server.AllowedOrigins))

	rl := middleware.NewRateLimiter(ctx, 100, 200)
	r.Use(rl.Limit)

	// Health endpoints (no auth)
	health := handlers.NewHealthHandler(rt.deps.Ready)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	r.Route("/api/v1", func(r chi.Router) {
		// Storage hooks authenticate with the shared trigger token.
		eventH := handlers.NewEventHandler(rt.deps.Listener)
		r.With(rt.token.Authenticate).Post("/events/object-created", eventH.ObjectCreated)

		r.Group(func(r chi.Router) {
			r.Use(rt.jwt.Authenticate)

			uploadH := handlers.NewUploadHandler(rt.deps.Blobs, rt.cfg.Storage.Bucket, rt.cfg.Trigger.Prefix, rt.deps.Listener)
			r.Post("/uploads", uploadH.Upload)

			execH := handlers.NewExecutionHandler(rt.deps.Executions, rt.deps.History)
			r.Route("/executions", func(r chi.Router) {
				r.Get("/current", execH.Current)
				r.Get("/{id}", execH.Get)
				r.Get("/{id}/history", execH.History)
			})
		})
	})

	return r
}
