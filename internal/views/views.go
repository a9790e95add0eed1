// Package views renders the HTML pages of the status site.
package views

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"time"

	"github.com/bissquit/statuspage-web/internal/domain"
	"github.com/bissquit/statuspage-web/internal/pkg/ctxlog"
	"github.com/bissquit/statuspage-web/internal/routes"
	"github.com/gorilla/schema"
)

//go:embed templates/*.tmpl static/*
var assets embed.FS

// Backend is the data source of the views.
type Backend interface {
	ListServices(ctx context.Context) ([]domain.Service, error)
	ListIncidents(ctx context.Context) ([]domain.Incident, error)
	GetIncidentDetails(ctx context.Context, id string) (*domain.IncidentDetails, error)
	ListComponents(ctx context.Context, tags []string) ([]domain.Component, error)
	ListTags(ctx context.Context) ([]domain.Tag, error)
}

// Options configures a view set.
type Options struct {
	// SiteTitle is shown in the header and page titles.
	SiteTitle string
	// FS overrides the embedded templates and static files.
	FS fs.FS
	// LiveFeed enables the websocket reload script.
	LiveFeed bool
	// ResolvedWindow is how long resolved incidents stay on the home page.
	ResolvedWindow time.Duration
	Now            func() time.Time
}

// Set builds the views of the status site. It implements routes.Catalog.
type Set struct {
	backend        Backend
	fsys           fs.FS
	siteTitle      string
	liveFeed       bool
	resolvedWindow time.Duration
	now            func() time.Time
	decoder        *schema.Decoder
	table          *routes.Table

	home     *homeView
	notFound *notFoundView
	errors   *template.Template
}

// NewSet parses the templates of the eager views. Deferred views parse
// theirs when first loaded.
func NewSet(backend Backend, opts Options) (*Set, error) {
	s := &Set{
		backend:        backend,
		fsys:           opts.FS,
		siteTitle:      opts.SiteTitle,
		liveFeed:       opts.LiveFeed,
		resolvedWindow: opts.ResolvedWindow,
		now:            opts.Now,
		decoder:        schema.NewDecoder(),
	}
	if s.fsys == nil {
		s.fsys = assets
	}
	if s.siteTitle == "" {
		s.siteTitle = "Status"
	}
	if s.resolvedWindow <= 0 {
		s.resolvedWindow = 7 * 24 * time.Hour
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.decoder.IgnoreUnknownKeys(true)

	homeTmpl, err := s.parse("home")
	if err != nil {
		return nil, err
	}
	notFoundTmpl, err := s.parse("notfound")
	if err != nil {
		return nil, err
	}
	s.errors, err = s.parse("error")
	if err != nil {
		return nil, err
	}

	s.home = &homeView{set: s, tmpl: homeTmpl}
	s.notFound = &notFoundView{set: s, tmpl: notFoundTmpl}
	return s, nil
}

// UseRoutes sets the table that page links are built from. Call it before
// serving: DefaultRoutes needs the set to build the table.
func (s *Set) UseRoutes(table *routes.Table) { s.table = table }

// Home returns the status overview.
func (s *Set) Home() routes.View { return s.home }

// NotFound returns the fallback view.
func (s *Set) NotFound() routes.View { return s.notFound }

// Admin loads the administration view.
func (s *Set) Admin(ctx context.Context) (routes.View, error) {
	tmpl, err := s.load(ctx, "admin", adminProbe())
	if err != nil {
		return nil, err
	}
	return &adminView{set: s, tmpl: tmpl}, nil
}

// IncidentDetails loads the incident page.
func (s *Set) IncidentDetails(ctx context.Context) (routes.View, error) {
	tmpl, err := s.load(ctx, "incident", incidentProbe())
	if err != nil {
		return nil, err
	}
	return &incidentView{set: s, tmpl: tmpl}, nil
}

// Components loads the component list.
func (s *Set) Components(ctx context.Context) (routes.View, error) {
	tmpl, err := s.load(ctx, "components", componentsProbe())
	if err != nil {
		return nil, err
	}
	return &componentsView{set: s, tmpl: tmpl}, nil
}

// Static serves the stylesheet under /static/.
func (s *Set) Static() http.Handler {
	sub, err := fs.Sub(s.fsys, "static")
	if err != nil {
		return http.NotFoundHandler()
	}
	return http.StripPrefix("/static/", http.FileServerFS(sub))
}

func (s *Set) parse(name string) (*template.Template, error) {
	tmpl, err := template.New(name).Funcs(s.funcs()).ParseFS(s.fsys,
		"templates/layout.tmpl",
		"templates/"+name+".tmpl",
	)
	if err != nil {
		return nil, fmt.Errorf("parse %s template: %w", name, err)
	}
	return tmpl, nil
}

// load parses a deferred view's template and renders it once against probe
// so broken templates fail the load instead of a later request.
func (s *Set) load(ctx context.Context, name string, probe any) (*template.Template, error) {
	tmpl, err := s.parse(name)
	if err != nil {
		return nil, err
	}

	if err := tmpl.ExecuteTemplate(&bytes.Buffer{}, "layout", s.withLayout(probe, name)); err != nil {
		return nil, fmt.Errorf("probe %s template: %w", name, err)
	}

	ctxlog.FromContext(ctx).Debug("template parsed", "template", name)
	return tmpl, nil
}

func (s *Set) layout(active, pageTitle string) Layout {
	return Layout{
		SiteTitle: s.siteTitle,
		PageTitle: pageTitle,
		Active:    active,
		LiveFeed:  s.liveFeed,
		Now:       s.now(),
	}
}

// withLayout fills the layout of a probe model.
func (s *Set) withLayout(model any, name string) any {
	if m, ok := model.(interface{ setLayout(Layout) }); ok {
		m.setLayout(s.layout("", name))
	}
	return model
}

// render executes tmpl into a buffer so a failing template yields the error page
// instead of a truncated response.
func (s *Set) render(w http.ResponseWriter, r *http.Request, tmpl *template.Template, status int, model any) {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", model); err != nil {
		s.RenderError(w, r, fmt.Errorf("render %s: %w", tmpl.Name(), err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		ctxlog.FromContext(r.Context()).Warn("failed to write page", "error", err)
	}
}
