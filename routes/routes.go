package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/preset/enhancement-gateway/app"
	"github.com/preset/enhancement-gateway/middleware"
	"github.com/preset/enhancement-gateway/utils"
)

const (
	defaultRequestTimeout = 60 * time.Second
	responseGrace         = 5 * time.Second
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(requestTimeout(deps)))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", deps.HealthHandler.HandleHealth)
	r.Get("/readyz", deps.HealthHandler.HandleReadiness)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Get("/status", deps.HealthHandler.HandleStatus)

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)

			r.Post("/enhance", deps.EnhanceHandler.HandleEnhance)

			r.Route("/credits", func(r chi.Router) {
				r.Get("/", deps.CreditsHandler.HandleBalance)
				r.Get("/history", deps.CreditsHandler.HandleHistory)
			})

			// Operator routes (require admin role)
			r.Route("/admin", func(r chi.Router) {
				r.Use(deps.AuthMiddleware.RequireAdmin)
				r.Get("/providers", deps.AdminHandler.HandleListProviders)
				r.Put("/providers/{name}/health", deps.AdminHandler.HandleUpdateHealth)
				r.Post("/credits/allocate", deps.AdminHandler.HandleAllocateCredits)
			})
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})

	return r
}

// requestTimeout leaves the fallback chain room to finish and respond
func requestTimeout(deps *app.Dependencies) time.Duration {
	if deps.Config == nil || deps.Config.Enhancement.ChainTimeout <= 0 {
		return defaultRequestTimeout
	}
	return deps.Config.Enhancement.ChainTimeout + responseGrace
}
