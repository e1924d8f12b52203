package auth

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ekmate/portal/config"
	"github.com/ekmate/portal/internal/observability"
	"github.com/ekmate/portal/middleware"
	"github.com/ekmate/portal/models"
	"github.com/ekmate/portal/session"
	"github.com/ekmate/portal/views"
)

// SessionManager is the part of the session store the sign-in flow drives
type SessionManager interface {
	IsAuthenticated() bool
	Login(ctx context.Context, email, password string) session.LoginResult
	Logout(ctx context.Context)
}

// PageRenderer renders HTML pages
type PageRenderer interface {
	Render(w http.ResponseWriter, status int, page string, data views.PageData) error
}

// Handler handles the sign-in form and logout.
type Handler struct {
	sessions SessionManager
	renderer PageRenderer
	routes   config.RoutesConfig
	logger   *zap.Logger
}

// NewHandler creates a new auth handler
func NewHandler(sessions SessionManager, renderer PageRenderer, routes config.RoutesConfig, logger *zap.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		renderer: renderer,
		routes:   routes,
		logger:   logger,
	}
}

// HandleSignInPage renders the sign-in form. A user who already holds a
// token is sent to the dashboard, whose guard routes admins onward.
func (h *Handler) HandleSignInPage(w http.ResponseWriter, r *http.Request) {
	next := r.URL.Query().Get(middleware.NextParam)

	if h.sessions.IsAuthenticated() {
		http.Redirect(w, r, h.afterLogin(nil, next), http.StatusSeeOther)
		return
	}

	h.render(w, r, http.StatusOK, views.PageData{Next: safeNext(next)})
}

// HandleSignIn processes the sign-in form
func (h *Handler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.render(w, r, http.StatusBadRequest, views.PageData{Error: "Invalid form submission."})
		return
	}

	email := strings.TrimSpace(r.PostFormValue("email"))
	password := r.PostFormValue("password")
	next := safeNext(r.PostFormValue(middleware.NextParam))

	result := h.sessions.Login(r.Context(), email, password)
	if !result.Success {
		observability.WithRequest(r.Context(), h.logger).Info("sign-in rejected",
			zap.String("message", result.Message))
		h.render(w, r, http.StatusUnauthorized, views.PageData{
			Email: email,
			Error: result.Message,
			Next:  next,
		})
		return
	}

	http.Redirect(w, r, h.afterLogin(result.Identity, next), http.StatusSeeOther)
}

// HandleLogout ends the session and returns to the sign-in page
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Logout(r.Context())
	http.Redirect(w, r, h.routes.SignInPath, http.StatusSeeOther)
}

// afterLogin picks the landing page: the requested page when there was one,
// otherwise the panel matching the role.
func (h *Handler) afterLogin(identity *models.Identity, next string) string {
	if next = safeNext(next); next != "" {
		return next
	}
	if identity.IsAdmin() {
		return h.routes.AdminPath
	}
	return h.routes.DashboardPath
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, data views.PageData) {
	data.Title = "Sign in"
	data.CSRF = CSRFToken(r.Context())
	if err := h.renderer.Render(w, status, views.PageSignIn, data); err != nil {
		h.logger.Error("failed to render sign-in page", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func safeNext(next string) string {
	if middleware.SafeNext(next) {
		return next
	}
	return ""
}
