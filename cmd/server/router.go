package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/phrazzld/parley/internal/api"
	apiMiddleware "github.com/phrazzld/parley/internal/api/middleware"
)

// setupRouter creates and configures the application router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.Trace(app.logger))

	jobHandler := api.NewJobHandler(app.jobService)
	chatHandler := api.NewChatHandler(app.gateway)

	r.Route("/api", func(r chi.Router) {
		r.Post("/jobs", jobHandler.Enqueue)
		r.Get("/results/{"+api.SessionIDParam+"}", jobHandler.Result)
		r.Post("/chat", chatHandler.Chat)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("failed to write health check response", "error", err)
		}
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{
		Registry: app.registry,
	}))

	return r
}
