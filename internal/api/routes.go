package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates the list server router. writeLimiter may be nil to
// disable write rate limiting.
func NewRouter(h *Handler, writeLimiter *WriteRateLimiter) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	limitWrites := func(r chi.Router) chi.Router { return r }
	if writeLimiter != nil {
		limitWrites = func(r chi.Router) chi.Router { return r.With(writeLimiter.Middleware) }
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes (no auth required)
		r.Get("/health", h.Health)

		// Protected routes (auth required)
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.apiKey))
			r.Route("/lists/{list}", func(r chi.Router) {
				r.Use(ListMiddleware(h.registry))
				r.Get("/items", h.ListItems)
				r.Get("/items/{id}", h.GetItem)
				limitWrites(r).Post("/items", h.CreateItem)
				limitWrites(r).Patch("/items/{id}", h.UpdateItem)
			})
		})
	})

	return r
}
