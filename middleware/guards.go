package middleware

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekmate/portal/internal/observability"
	"github.com/ekmate/portal/session"
	"github.com/ekmate/portal/utils"
)

// DefaultMaxWait bounds how long a guarded request blocks on an unresolved
// session before the loading view is served instead.
const DefaultMaxWait = 5 * time.Second

// NextParam carries the originally requested path through the sign-in page
const NextParam = "next"

// SessionReader is the part of the session store the guards depend on
type SessionReader interface {
	Await(ctx context.Context) (session.Snapshot, error)
}

// Paths are the redirect targets of the guards
type Paths struct {
	SignIn    string
	Dashboard string
	Admin     string
}

// Guard gates portal routes on the resolved session. Decisions are only
// made on a settled session; while resolution is in flight the request
// waits for the store's signal.
type Guard struct {
	sessions SessionReader
	paths    Paths
	maxWait  time.Duration
	loading  http.Handler
	logger   *zap.Logger
}

// GuardOption configures a Guard
type GuardOption func(*Guard)

// WithMaxWait sets how long a request waits for resolution
func WithMaxWait(d time.Duration) GuardOption {
	return func(g *Guard) {
		if d > 0 {
			g.maxWait = d
		}
	}
}

// WithLoadingView sets the HTML handler served while the session resolves
func WithLoadingView(h http.Handler) GuardOption {
	return func(g *Guard) {
		if h != nil {
			g.loading = h
		}
	}
}

// NewGuard creates a new Guard
func NewGuard(sessions SessionReader, paths Paths, logger *zap.Logger, opts ...GuardOption) *Guard {
	g := &Guard{
		sessions: sessions,
		paths:    paths,
		maxWait:  DefaultMaxWait,
		loading:  http.HandlerFunc(defaultLoading),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ProtectedRoute admits authenticated non-admin users. Anonymous users are
// sent to sign in and admins to the admin panel.
func (g *Guard) ProtectedRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap, ok := g.resolve(w, r)
		if !ok {
			return
		}

		switch {
		case snap.Identity == nil:
			g.deny(w, r, http.StatusUnauthorized, g.signInURL(r))
		case snap.Identity.IsAdmin():
			g.deny(w, r, http.StatusForbidden, g.paths.Admin)
		default:
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), snap.Identity)))
		}
	})
}

// AdminRoute admits admins only. Anonymous users are sent to sign in and
// everyone else to the dashboard.
func (g *Guard) AdminRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap, ok := g.resolve(w, r)
		if !ok {
			return
		}

		switch {
		case snap.Identity == nil:
			g.deny(w, r, http.StatusUnauthorized, g.signInURL(r))
		case !snap.Identity.IsAdmin():
			g.deny(w, r, http.StatusForbidden, g.paths.Dashboard)
		default:
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), snap.Identity)))
		}
	})
}

// resolve waits for a settled session. When the wait ends first it writes
// the loading response and returns false.
func (g *Guard) resolve(w http.ResponseWriter, r *http.Request) (session.Snapshot, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), g.maxWait)
	defer cancel()

	snap, err := g.sessions.Await(ctx)
	if err == nil {
		return snap, true
	}

	observability.WithRequest(r.Context(), g.logger).Debug("session still resolving",
		zap.String("path", r.URL.Path),
		zap.Stringer("state", snap.State),
		zap.Error(err))

	// The client is gone; nothing to write
	if r.Context().Err() != nil {
		return snap, false
	}

	if utils.PrefersJSON(r) {
		_ = utils.WriteServiceUnavailable(w, "Session is still resolving", "1")
		return snap, false
	}
	g.loading.ServeHTTP(w, r)
	return snap, false
}

func (g *Guard) deny(w http.ResponseWriter, r *http.Request, status int, location string) {
	observability.WithRequest(r.Context(), g.logger).Debug("route guard redirect",
		zap.String("path", r.URL.Path),
		zap.String("location", location))

	if utils.PrefersJSON(r) {
		if status == http.StatusUnauthorized {
			_ = utils.WriteUnauthorized(w, "Sign in required")
		} else {
			_ = utils.WriteForbidden(w, "")
		}
		return
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}

func (g *Guard) signInURL(r *http.Request) string {
	target := r.URL.RequestURI()
	if !SafeNext(target) {
		return g.paths.SignIn
	}
	return g.paths.SignIn + "?" + url.Values{NextParam: {target}}.Encode()
}

// SafeNext reports whether target is a local path that is safe to redirect to
func SafeNext(target string) bool {
	return strings.HasPrefix(target, "/") &&
		!strings.HasPrefix(target, "//") &&
		!strings.HasPrefix(target, "/\\")
}

func defaultLoading(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Refresh", "1")
	w.Header().Set("Retry-After", "1")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("Loading your session..."))
}
