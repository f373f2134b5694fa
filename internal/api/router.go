package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sungwon/queue-proxy/internal/queue"
)

// NewRouter creates a chi.Mux with all routes, middleware, and handlers configured.
func NewRouter(svc *queue.Service, log zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(CorrelationIDMiddleware)
	r.Use(LoggingMiddleware(log))
	r.Use(RecoverMiddleware(log))

	// Operational endpoints
	r.Get("/healthz", HealthzHandler())
	r.Handle("/metrics", promhttp.Handler())

	// Queue API
	r.Route("/api/v1/queues/{name}", func(r chi.Router) {
		r.Post("/messages", PublishHandler(svc))
		r.Post("/subscriptions", SubscribeHandler(svc))
	})

	return r
}
