// Package views renders the portal's server-side HTML pages.
package views

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ekmate/portal/models"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Page names
const (
	PageSignIn    = "signin"
	PageDashboard = "dashboard"
	PageAdmin     = "admin"
	PageLoading   = "loading"
)

var pages = []string{PageSignIn, PageDashboard, PageAdmin, PageLoading}

// Links are the portal paths pages link to
type Links struct {
	SignIn    string
	Dashboard string
	Admin     string
	Logout    string
}

// PageData is the data every page template receives
type PageData struct {
	Title    string
	Identity *models.Identity
	Degraded bool
	Links    Links

	// CSRF is echoed by every form the page posts
	CSRF string

	// Sign-in form state
	Email string
	Error string
	Next  string
}

// Renderer renders HTML pages. Each page is parsed together with the shared
// layout so the pages can each define their own "content" block.
type Renderer struct {
	pages  map[string]*template.Template
	links  Links
	logger *zap.Logger
}

// NewRenderer parses the embedded templates
func NewRenderer(links Links, logger *zap.Logger) (*Renderer, error) {
	funcs := template.FuncMap{
		"upper": strings.ToUpper,
		"attr": func(id *models.Identity, key string) string {
			v, ok := id.Attribute(key)
			if !ok || v == nil {
				return ""
			}
			return fmt.Sprint(v)
		},
	}

	r := &Renderer{pages: make(map[string]*template.Template, len(pages)), links: links, logger: logger}
	for _, name := range pages {
		t, err := template.New(name).Funcs(funcs).ParseFS(templateFS, "templates/layout.tmpl", "templates/"+name+".tmpl")
		if err != nil {
			logger.Error("template parsing failed", zap.String("page", name), zap.Error(err))
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
		r.pages[name] = t
	}
	return r, nil
}

// Render writes page with the given status code. Links are filled in from
// the renderer's configuration.
func (r *Renderer) Render(w http.ResponseWriter, status int, page string, data PageData) error {
	t, ok := r.pages[page]
	if !ok {
		return fmt.Errorf("unknown page %q", page)
	}
	data.Links = r.links

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		r.logger.Error("template execution failed", zap.String("page", page), zap.Error(err))
		return err
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		r.logger.Error("failed to write rendered template", zap.String("page", page), zap.Error(err))
		return err
	}
	return nil
}

// Loading serves the loading page. It refreshes itself until the session
// has resolved.
func (r *Renderer) Loading() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Refresh", "1")
		w.Header().Set("Retry-After", "1")
		_ = r.Render(w, http.StatusServiceUnavailable, PageLoading, PageData{Title: "Loading"})
	})
}
