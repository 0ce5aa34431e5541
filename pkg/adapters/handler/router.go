package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/wadjakorntonsri/go-scanlink/pkg/config"
	"github.com/wadjakorntonsri/go-scanlink/pkg/core/services"
	"github.com/wadjakorntonsri/go-scanlink/pkg/ports"
)

// Services groups what the router dispatches to.
type Services struct {
	Links     ports.LinkService
	Dashboard ports.DashboardService
	Redirects *services.RedirectService
}

// NewRouter creates and configures the main application router
func NewRouter(cfg *config.Config, svc Services, logger logrus.FieldLogger) http.Handler {
	h := NewHTTPHandler(svc.Links, svc.Dashboard, logger)
	rh := NewRedirectHandler(svc.Redirects, logger)
	mw := NewMiddleware(cfg, logger)
	authHandler := NewAuthHandler(cfg, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public Routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
	})
	r.Get("/r/{code}", rh.Interstitial)
	r.Get("/open/{code}", rh.Open)
	r.Get("/auth/google/login", authHandler.Login)
	r.Get("/auth/google/callback", authHandler.Callback)
	r.Get("/auth/logout", authHandler.Logout)

	// Protected Routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.AuthMiddleware)
		r.Use(middleware.Timeout(30 * time.Second))

		r.Post("/links", h.Create)
		r.Get("/links", h.List)
		r.Patch("/links/{id}/active", h.SetActive)
		r.Delete("/links/{id}", h.Delete)

		r.Get("/dashboard", h.Dashboard)
		r.Post("/dashboard/refresh", h.RefreshDashboard)
	})

	return r
}
