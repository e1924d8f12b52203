package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekmate/portal/auth"
	"github.com/ekmate/portal/middleware"
	"github.com/ekmate/portal/session"
	"github.com/ekmate/portal/views"
)

// SnapshotReader reads the current session
type SnapshotReader interface {
	Snapshot() session.Snapshot
}

// PageHandler renders the guarded dashboard and admin pages
type PageHandler struct {
	sessions SnapshotReader
	renderer auth.PageRenderer
	logger   *zap.Logger
}

// NewPageHandler creates a new PageHandler
func NewPageHandler(sessions SnapshotReader, renderer auth.PageRenderer, logger *zap.Logger) *PageHandler {
	return &PageHandler{
		sessions: sessions,
		renderer: renderer,
		logger:   logger,
	}
}

// HandleDashboard renders the rider dashboard
func (h *PageHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, views.PageDashboard, "Dashboard")
}

// HandleAdmin renders the admin panel
func (h *PageHandler) HandleAdmin(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, views.PageAdmin, "Admin")
}

func (h *PageHandler) render(w http.ResponseWriter, r *http.Request, page, title string) {
	// Guards put the identity in the context; a page mounted without one is
	// a routing bug
	identity := middleware.GetIdentityFromContext(r.Context())
	if identity == nil {
		h.logger.Error("page rendered without a guarded identity", zap.String("page", page))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	data := views.PageData{
		Title:    title,
		Identity: identity,
		Degraded: h.sessions.Snapshot().Degraded,
		CSRF:     auth.CSRFToken(r.Context()),
	}
	if err := h.renderer.Render(w, http.StatusOK, page, data); err != nil {
		h.logger.Error("failed to render page", zap.String("page", page), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
