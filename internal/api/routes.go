package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterTokenRoutes mounts the token endpoints under /api/tokens. The
// given middlewares, typically authentication, wrap only these routes.
func RegisterTokenRoutes(r chi.Router, h *TokenHandler, middlewares ...func(http.Handler) http.Handler) {
	r.Route("/api/tokens", func(r chi.Router) {
		r.Use(middlewares...)
		r.Post("/", h.Submit)
		r.Get("/{token}", h.GetStatus)
		r.Post("/{token}/retry", h.Retry)
		r.Post("/{token}/cancel", h.Cancel)
	})
}
