package middleware

import (
	"mime"
	"net"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekmate/portal/utils"
)

// LoopbackOnly rejects requests whose peer address is not a loopback
// address. The portal holds a single process-wide session, so any client
// that can reach it acts as the signed-in user.
//
// It must be installed before chi's RealIP, which rewrites RemoteAddr from
// client-supplied headers.
func LoopbackOnly(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !IsLoopbackAddr(r.RemoteAddr) {
				logger.Warn("rejected non-local request",
					zap.String("remote_addr", r.RemoteAddr),
					zap.String("path", r.URL.Path))
				_ = utils.WriteForbidden(w, "The portal only accepts local connections")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IsLoopbackAddr reports whether addr (host or host:port) is a loopback IP
func IsLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// RequireJSON rejects requests that do not declare an application/json body,
// including empty ones. Cross-site forms cannot send that content type
// without a CORS preflight.
func RequireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "application/json" {
			_ = utils.WriteError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
