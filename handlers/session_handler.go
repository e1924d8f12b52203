package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ekmate/portal/internal/observability"
	"github.com/ekmate/portal/services"
	"github.com/ekmate/portal/session"
	"github.com/ekmate/portal/utils"
)

const (
	maxLoginBodyBytes = 1 << 16
	maxSessionWait    = 10 * time.Second
)

// SessionAPI is the part of the session store the JSON API exposes
type SessionAPI interface {
	Snapshot() session.Snapshot
	Await(ctx context.Context) (session.Snapshot, error)
	Login(ctx context.Context, email, password string) session.LoginResult
	Logout(ctx context.Context)
	IsAuthenticated() bool
}

// SessionResponse is the body of GET /api/session
type SessionResponse struct {
	session.Snapshot
	Authenticated bool `json:"authenticated"`
}

// SessionHandler serves the session JSON API used by browser front ends
type SessionHandler struct {
	sessions SessionAPI
	logger   *zap.Logger
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(sessions SessionAPI, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		logger:   logger,
	}
}

// HandleGetSession handles GET /api/session. With ?wait=true the response is
// held until the session settles, bounded by the request and maxSessionWait.
func (h *SessionHandler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	snap := h.sessions.Snapshot()

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		ctx, cancel := context.WithTimeout(r.Context(), maxSessionWait)
		defer cancel()
		// A timeout still yields a usable snapshot with Loading set
		snap, _ = h.sessions.Await(ctx)
	}

	_ = utils.WriteOK(w, SessionResponse{
		Snapshot:      snap,
		Authenticated: h.sessions.IsAuthenticated(),
	})
}

// HandleLogin handles POST /api/session/login
func (h *SessionHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req services.SignInRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	result := h.sessions.Login(r.Context(), req.Email, req.Password)
	if !result.Success {
		observability.WithRequest(r.Context(), h.logger).Info("api sign-in rejected",
			zap.String("message", result.Message))
		_ = utils.WriteJSON(w, http.StatusUnauthorized, result)
		return
	}

	_ = utils.WriteJSON(w, http.StatusOK, result)
}

// HandleLogout handles POST /api/session/logout
func (h *SessionHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}
