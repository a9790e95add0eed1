package views

import (
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/bissquit/statuspage-web/internal/backend"
	"github.com/bissquit/statuspage-web/internal/domain"
	"github.com/bissquit/statuspage-web/internal/routes"
	"golang.org/x/sync/errgroup"
)

type homeView struct {
	set  *Set
	tmpl *template.Template
}

func (v *homeView) Name() string { return routes.NameHome }

func (v *homeView) Render(w http.ResponseWriter, r *http.Request, _ routes.Params) {
	var (
		services  []domain.Service
		incidents []domain.Incident
	)

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() (err error) {
		services, err = v.set.backend.ListServices(ctx)
		return err
	})
	g.Go(func() (err error) {
		incidents, err = v.set.backend.ListIncidents(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		v.set.RenderError(w, r, err)
		return
	}

	model := &homeModel{
		Layout:             v.set.layout(routes.NameHome, "Status"),
		Overall:            domain.OverallStatus(services),
		Services:           services,
		ResolvedWindowDays: int(v.set.resolvedWindow / (24 * time.Hour)),
	}

	cutoff := v.set.now().Add(-v.set.resolvedWindow)
	for _, inc := range incidents {
		if inc.IsActive() {
			model.Active = append(model.Active, inc)
			continue
		}
		if at, ok := inc.Resolution(); ok && at.After(cutoff) {
			model.Resolved = append(model.Resolved, inc)
		}
	}

	v.set.render(w, r, v.tmpl, http.StatusOK, model)
}

type incidentView struct {
	set  *Set
	tmpl *template.Template
}

func (v *incidentView) Name() string { return routes.NameIncidentDetails }

func (v *incidentView) Render(w http.ResponseWriter, r *http.Request, params routes.Params) {
	details, err := v.set.backend.GetIncidentDetails(r.Context(), params.Get("id"))
	if errors.Is(err, backend.ErrNotFound) {
		v.set.notFound.render(w, r, "This incident does not exist or has been removed.")
		return
	}
	if err != nil {
		v.set.RenderError(w, r, err)
		return
	}

	model := &incidentModel{
		Layout:   v.set.layout("", details.Incident.Title),
		Incident: details.Incident,
		Updates:  details.Updates,
	}
	model.ResolvedAt, model.Resolved = details.Incident.Resolution()

	v.set.render(w, r, v.tmpl, http.StatusOK, model)
}

// componentFilter is the query of the components page.
type componentFilter struct {
	Tags []string `schema:"tags"`
}

type componentsView struct {
	set  *Set
	tmpl *template.Template
}

func (v *componentsView) Name() string { return routes.NameComponents }

func (v *componentsView) Render(w http.ResponseWriter, r *http.Request, _ routes.Params) {
	var filter componentFilter
	if err := v.set.decoder.Decode(&filter, r.URL.Query()); err != nil {
		v.set.RenderError(w, r, fmt.Errorf("%w: %v", backend.ErrBadRequest, err))
		return
	}
	filter.Tags = compactTags(filter.Tags)

	var (
		components []domain.Component
		tags       []domain.Tag
	)

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() (err error) {
		components, err = v.set.backend.ListComponents(ctx, filter.Tags)
		return err
	})
	g.Go(func() (err error) {
		tags, err = v.set.backend.ListTags(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		v.set.RenderError(w, r, err)
		return
	}

	selected := make(map[string]bool, len(filter.Tags))
	for _, t := range filter.Tags {
		selected[t] = true
	}

	v.set.render(w, r, v.tmpl, http.StatusOK, &componentsModel{
		Layout:     v.set.layout(routes.NameComponents, "Components"),
		Components: components,
		Tags:       tags,
		Selected:   selected,
	})
}

// compactTags trims tag names and drops empty and repeated ones.
func compactTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

type notFoundView struct {
	set  *Set
	tmpl *template.Template
}

func (v *notFoundView) Name() string { return routes.NameNotFound }

func (v *notFoundView) Render(w http.ResponseWriter, r *http.Request, _ routes.Params) {
	v.render(w, r, "")
}

func (v *notFoundView) render(w http.ResponseWriter, r *http.Request, message string) {
	v.set.render(w, r, v.tmpl, http.StatusNotFound, &notFoundModel{
		Layout:  v.set.layout("", "Not found"),
		Path:    r.URL.Path,
		Message: message,
	})
}
