package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	rfotel "github.com/Strob0t/ReviewForge/internal/adapter/otel"
	"github.com/Strob0t/ReviewForge/internal/config"
	"github.com/Strob0t/ReviewForge/internal/middleware"
)

// RouterOptions configures the middleware stack around the API.
type RouterOptions struct {
	CORSOrigin  string
	Identity    config.Identity
	Timeout     time.Duration
	ServiceName string // enables tracing when set
	RateLimiter *middleware.RateLimiter
	Replay      middleware.ResponseStore
	ReplayTTL   time.Duration
	Health      http.HandlerFunc
	WebSocket   http.HandlerFunc
}

// NewRouter builds the complete HTTP handler.
func NewRouter(h *Handlers, opts RouterOptions) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(Logger)
	r.Use(CORS(opts.CORSOrigin))
	r.Use(SecurityHeaders)
	r.Use(chimw.Recoverer)
	if opts.ServiceName != "" {
		r.Use(rfotel.HTTPMiddleware(opts.ServiceName))
	}

	if opts.Health != nil {
		r.Get("/health", opts.Health)
	}
	identify := middleware.Identify(opts.Identity)
	if opts.WebSocket != nil {
		r.With(identify, recordActor, middleware.RequireReviewer).Get("/ws", opts.WebSocket)
	}
	r.Group(func(r chi.Router) {
		r.Use(identify)
		r.Use(recordActor)
		if opts.RateLimiter != nil {
			r.Use(opts.RateLimiter.Handler)
		}
		if opts.Timeout > 0 {
			r.Use(chimw.Timeout(opts.Timeout))
		}
		var replay func(http.Handler) http.Handler
		if opts.Replay != nil {
			replay = middleware.Idempotency(opts.Replay, opts.ReplayTTL)
		}
		MountRoutes(r, h, replay)
	})
	return r
}
