package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ekmate/portal/app"
	"github.com/ekmate/portal/auth"
	"github.com/ekmate/portal/handlers"
	guards "github.com/ekmate/portal/middleware"
	"github.com/ekmate/portal/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()
	cfg := deps.Config

	// Core middleware
	r.Use(middleware.RequestID)
	if !cfg.Server.AllowRemote {
		// Before RealIP: only the socket peer counts, not forwarded headers
		r.Use(guards.LoopbackOnly(deps.Logger))
	}
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	health := handlers.NewHealthHandler(deps.Sessions, deps.Logger)
	sessionAPI := handlers.NewSessionHandler(deps.Sessions, deps.Logger)
	pages := handlers.NewPageHandler(deps.Sessions, deps.Renderer, deps.Logger)
	authHandler := deps.AuthHandler()

	// Health check endpoints
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	// Session JSON API for browser front ends
	r.Route("/api/session", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
		r.Get("/", sessionAPI.HandleGetSession)
		r.With(middleware.AllowContentType("application/json")).Post("/login", sessionAPI.HandleLogin)
		r.With(guards.RequireJSON).Post("/logout", sessionAPI.HandleLogout)
	})

	// Server-rendered portal
	r.Group(func(r chi.Router) {
		r.Use(auth.CSRF(cfg.IsProduction(), deps.Logger))

		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			http.Redirect(w, req, cfg.Routes.DashboardPath, http.StatusSeeOther)
		})

		r.Get(cfg.Routes.SignInPath, authHandler.HandleSignInPage)
		r.Post(cfg.Routes.SignInPath, authHandler.HandleSignIn)
		r.Post(app.LogoutPath, authHandler.HandleLogout)

		r.Route(cfg.Routes.DashboardPath, func(r chi.Router) {
			r.Use(deps.Guard.ProtectedRoute)
			r.Get("/", pages.HandleDashboard)
			r.Get("/*", pages.HandleDashboard)
		})

		r.Route(cfg.Routes.AdminPath, func(r chi.Router) {
			r.Use(deps.Guard.AdminRoute)
			r.Get("/", pages.HandleAdmin)
			r.Get("/*", pages.HandleAdmin)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusNotFound, "endpoint not found", nil)
	})

	return r
}
