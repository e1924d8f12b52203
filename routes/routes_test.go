package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekmate/portal/app"
	"github.com/ekmate/portal/auth"
	"github.com/ekmate/portal/config"
)

// fakeBackend issues a token for any password except "wrong"
func fakeBackend(t *testing.T, role string) *httptest.Server {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"id":    "u1",
		"email": "rider@ekmate.edu",
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/auth/sign-in":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["password"] == "wrong" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"success":false,"message":"Invalid email or password"}`))
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": token})
		case "/users/me":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"data":    map[string]any{"name": "Ada", "role": role},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestRouter(t *testing.T, role string) http.Handler {
	t.Helper()
	return newTestRouterWith(t, role, nil)
}

func newTestRouterWith(t *testing.T, role string, tweak func(*config.Config)) http.Handler {
	t.Helper()
	cfg := &config.Config{
		Environment: "test",
		Backend:     config.BackendConfig{BaseURL: fakeBackend(t, role).URL, Timeout: 2 * time.Second},
		TokenStore:  config.TokenStoreConfig{Kind: config.TokenStoreMemory},
		Routes:      config.RoutesConfig{SignInPath: "/sign-in", DashboardPath: "/dashboard", AdminPath: "/admin"},
		CORS:        config.CORSConfig{AllowedOrigins: []string{"http://localhost:5173"}},
	}
	if tweak != nil {
		tweak(cfg)
	}

	deps, err := app.NewDependencies(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close(context.Background()) })

	return SetupRoutes(deps)
}

const (
	localAddr  = "127.0.0.1:52100"
	remoteAddr = "192.168.1.20:52100"
)

// localRequest is an httptest request from a loopback peer
func localRequest(method, target string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	req.RemoteAddr = localAddr
	return req
}

// browser carries the CSRF cookie between requests
type browser struct {
	t      *testing.T
	router http.Handler
	csrf   *http.Cookie
}

func (b *browser) get(target string) *httptest.ResponseRecorder {
	req := localRequest(http.MethodGet, target, nil)
	if b.csrf != nil {
		req.AddCookie(b.csrf)
	}
	w := httptest.NewRecorder()
	b.router.ServeHTTP(w, req)
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.CSRFCookieName {
			b.csrf = c
		}
	}
	return w
}

func (b *browser) post(target string, form url.Values) *httptest.ResponseRecorder {
	require.NotNil(b.t, b.csrf, "load a page before posting")
	form.Set(auth.CSRFField, b.csrf.Value)
	req := localRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(b.csrf)
	w := httptest.NewRecorder()
	b.router.ServeHTTP(w, req)
	return w
}

func TestPortalFlow_Student(t *testing.T) {
	b := &browser{t: t, router: newTestRouter(t, "student")}

	w := b.get("/dashboard")
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/sign-in?next=%2Fdashboard", w.Header().Get("Location"))

	w = b.get("/sign-in?next=%2Fdashboard")
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, b.csrf)

	w = b.post("/sign-in", url.Values{"email": {"rider@ekmate.edu"}, "password": {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid email or password")

	w = b.post("/sign-in", url.Values{"email": {"rider@ekmate.edu"}, "password": {"pw"}, "next": {"/dashboard"}})
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/dashboard", w.Header().Get("Location"))

	w = b.get("/dashboard")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Welcome, Ada")

	w = b.get("/admin")
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/dashboard", w.Header().Get("Location"))

	w = b.post("/logout", url.Values{})
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/sign-in", w.Header().Get("Location"))

	w = b.get("/dashboard")
	assert.Equal(t, http.StatusSeeOther, w.Code)
}

func TestPortalFlow_Admin(t *testing.T) {
	b := &browser{t: t, router: newTestRouter(t, "admin")}

	b.get("/sign-in")
	w := b.post("/sign-in", url.Values{"email": {"rider@ekmate.edu"}, "password": {"pw"}})
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/admin", w.Header().Get("Location"))

	w = b.get("/admin/users")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Admin panel")

	w = b.get("/dashboard")
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/admin", w.Header().Get("Location"))
}

func TestPortal_FormPostWithoutCSRF(t *testing.T) {
	router := newTestRouter(t, "student")

	req := localRequest(http.MethodPost, "/sign-in",
		strings.NewReader(url.Values{"email": {"rider@ekmate.edu"}, "password": {"pw"}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSessionAPI(t *testing.T) {
	router := newTestRouter(t, "student")

	do := func(method, target, body string) *httptest.ResponseRecorder {
		req := localRequest(method, target, strings.NewReader(body))
		req.Header.Set("Accept", "application/json")
		if method == http.MethodPost {
			req.Header.Set("Content-Type", "application/json")
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	w := do(http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"anonymous"`)

	w = do(http.MethodGet, "/dashboard", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(http.MethodPost, "/api/session/login", `{"email":"rider@ekmate.edu","password":"pw"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"success":true`)

	w = do(http.MethodGet, "/api/session?wait=true", "")
	assert.Contains(t, w.Body.String(), `"state":"authenticated"`)
	assert.Contains(t, w.Body.String(), `"authenticated":true`)

	w = do(http.MethodPost, "/api/session/logout", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(http.MethodGet, "/api/session", "")
	assert.Contains(t, w.Body.String(), `"authenticated":false`)
}

func TestHealthAndNotFound(t *testing.T) {
	router := newTestRouter(t, "student")

	for _, path := range []string{"/healthz", "/readyz"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, localRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, localRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not_found")
}

func TestPortal_RemoteClientsRejected(t *testing.T) {
	router := newTestRouter(t, "student")

	owner := &browser{t: t, router: router}
	owner.get("/sign-in")
	w := owner.post("/sign-in", url.Values{"email": {"rider@ekmate.edu"}, "password": {"pw"}})
	require.Equal(t, http.StatusSeeOther, w.Code)
	require.Equal(t, http.StatusOK, owner.get("/dashboard").Code)

	tests := []struct {
		name   string
		target string
		header map[string]string
	}{
		{name: "dashboard", target: "/dashboard"},
		{name: "admin", target: "/admin"},
		{name: "session api", target: "/api/session", header: map[string]string{"Accept": "application/json"}},
		{name: "forwarded loopback header", target: "/api/session", header: map[string]string{
			"X-Forwarded-For": "127.0.0.1",
			"X-Real-IP":       "127.0.0.1",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			req.RemoteAddr = remoteAddr
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusForbidden, w.Code)
			assert.NotContains(t, w.Body.String(), "rider@ekmate.edu")
		})
	}
}

func TestPortal_RemoteClientsAllowedWhenOptedIn(t *testing.T) {
	router := newTestRouterWith(t, "student", func(cfg *config.Config) {
		cfg.Server.AllowRemote = true
	})

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSessionAPI_CrossSiteLogoutRejected(t *testing.T) {
	router := newTestRouter(t, "student")

	owner := &browser{t: t, router: router}
	owner.get("/sign-in")
	require.Equal(t, http.StatusSeeOther,
		owner.post("/sign-in", url.Values{"email": {"rider@ekmate.edu"}, "password": {"pw"}}).Code)

	for _, contentType := range []string{"text/plain", "application/x-www-form-urlencoded", ""} {
		for _, body := range []string{"", "x=1"} {
			req := localRequest(http.MethodPost, "/api/session/logout", strings.NewReader(body))
			req.Header.Set("Origin", "http://evil.example")
			if contentType != "" {
				req.Header.Set("Content-Type", contentType)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnsupportedMediaType, w.Code, "content type %q body %q", contentType, body)
		}
	}

	assert.Equal(t, http.StatusOK, owner.get("/dashboard").Code)
}
