package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a new HTTP router with all API endpoints.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(Recovery)
	r.Use(Logger)
	r.Use(PrivateSubnetOnly)
	r.Use(JSONContentType)

	h := NewHandler(deps)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteNotFound(w, r.URL.Path)
	})

	r.Get("/health", h.CheckHealth)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Service control
		r.Post("/service", h.ControlService)
		r.Get("/status", h.GetStatus)

		// Rules
		r.Get("/rules", h.GetRules)
		r.Put("/rules", h.UpdateRules)
		r.Delete("/rules", h.ClearRules)
		r.Get("/evaluate", h.EvaluateDomain)
		r.Get("/categories", h.GetCategories)

		// Recent queries
		r.Get("/logs", h.GetLogs)
		r.Delete("/logs", h.ClearLogs)
	})

	return r
}
