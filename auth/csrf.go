package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekmate/portal/internal/observability"
	"github.com/ekmate/portal/utils"
)

const (
	// CSRFCookieName is the cookie holding the double-submit CSRF token
	CSRFCookieName = "ekmate_csrf"
	// CSRFField is the form field that must echo the cookie
	CSRFField = "csrf_token"

	csrfCookieMaxAge = 86400
)

type csrfKey struct{}

// CSRFToken returns the token the CSRF middleware placed in ctx
func CSRFToken(ctx context.Context) string {
	token, _ := ctx.Value(csrfKey{}).(string)
	return token
}

// CSRF protects form posts with a double-submit cookie. Safe methods get a
// token cookie issued when missing; unsafe methods must echo it in the
// csrf_token form field.
func CSRF(secure bool, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var token string
			if c, err := r.Cookie(CSRFCookieName); err == nil && c.Value != "" {
				token = c.Value
			}

			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				if token == "" {
					var err error
					token, err = generateSecureState()
					if err != nil {
						logger.Error("failed to generate csrf token", zap.Error(err))
						_ = utils.WriteInternalServerError(w, "")
						return
					}
					http.SetCookie(w, &http.Cookie{
						Name:     CSRFCookieName,
						Value:    token,
						Path:     "/",
						MaxAge:   csrfCookieMaxAge,
						HttpOnly: true,
						Secure:   secure,
						SameSite: http.SameSiteStrictMode,
					})
				}
			default:
				submitted := r.PostFormValue(CSRFField)
				if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(submitted)) != 1 {
					observability.WithRequest(r.Context(), logger).Warn("csrf check failed",
						zap.String("path", r.URL.Path))
					_ = utils.WriteForbidden(w, "Invalid or expired form, please reload the page")
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), csrfKey{}, token)))
		})
	}
}

func generateSecureState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
