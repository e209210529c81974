package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/verdin-ai/verdin/internal/api/handlers"
	"github.com/verdin-ai/verdin/internal/api/middleware"
	"github.com/verdin-ai/verdin/internal/config"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))

	// Admission control
	r.Post("/orchestrate", h.Orchestrate)
	r.Post("/bypass", h.Bypass)

	// Deferred tasks
	r.Route("/deferred", func(r chi.Router) {
		r.Post("/execute/{taskID}", h.ExecuteDeferred)
		r.Get("/{taskID}", h.GetDeferred)
	})

	// Grid views
	r.Route("/grid", func(r chi.Router) {
		r.Get("/", h.GridStatus)
		r.Get("/map", h.GridMap)
	})

	// Transparency
	r.Get("/receipt/{receiptID}", h.GetReceipt)
	r.Get("/analytics/nutrition/{receiptID}", h.GetNutrition)

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "verdin",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "verdin",
		})
	}
}
