package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/phrazzld/assay-api/internal/api"
	"github.com/phrazzld/assay-api/internal/api/middleware"
)

// setupRouter creates the router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Trace(app.logger))
	r.Use(chimiddleware.Recoverer)

	var tokenMiddleware []func(http.Handler) http.Handler
	if app.auth != nil {
		tokenMiddleware = append(tokenMiddleware, app.auth.Authenticate)
	}
	handler := api.NewTokenHandler(app.manager, app.logger, app.config.Token.MaxUploadBytes)
	api.RegisterTokenRoutes(r, handler, tokenMiddleware...)

	r.Get("/health", api.Health)

	return r
}
