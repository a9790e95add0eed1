package views

import (
	"context"
	"html/template"
	"net/http"

	"github.com/bissquit/statuspage-web/internal/pkg/ctxlog"
	"github.com/bissquit/statuspage-web/internal/routes"
	"golang.org/x/sync/errgroup"
)

// adminQuery is the query of the admin page after a redirect.
type adminQuery struct {
	Notice string `schema:"notice"`
}

type adminView struct {
	set  *Set
	tmpl *template.Template
}

func (v *adminView) Name() string { return routes.NameAdmin }

func (v *adminView) Render(w http.ResponseWriter, r *http.Request, _ routes.Params) {
	var q adminQuery
	if err := v.set.decoder.Decode(&q, r.URL.Query()); err != nil {
		ctxlog.FromContext(r.Context()).Debug("ignoring malformed admin query", "error", err)
	}

	model := newAdminModel()
	model.Notice = q.Notice
	v.renderModel(w, r, http.StatusOK, model)
}

// renderModel fills the lists of model from the backend and renders it.
func (v *adminView) renderModel(w http.ResponseWriter, r *http.Request, status int, model *adminModel) {
	if err := v.fill(r.Context(), model); err != nil {
		v.set.RenderError(w, r, err)
		return
	}

	model.Layout = v.set.layout(routes.NameAdmin, "Admin")
	v.set.render(w, r, v.tmpl, status, model)
}

func (v *adminView) fill(ctx context.Context, model *adminModel) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		model.Services, err = v.set.backend.ListServices(ctx)
		return err
	})
	g.Go(func() (err error) {
		model.Incidents, err = v.set.backend.ListIncidents(ctx)
		return err
	})
	g.Go(func() (err error) {
		model.Components, err = v.set.backend.ListComponents(ctx, nil)
		return err
	})
	g.Go(func() (err error) {
		model.Tags, err = v.set.backend.ListTags(ctx)
		return err
	})
	return g.Wait()
}

// formsFailed re-renders the admin page with messages and status.
func (v *adminView) formsFailed(w http.ResponseWriter, r *http.Request, status int, messages []string, apply func(*adminModel)) {
	model := newAdminModel()
	model.Errors = messages
	if apply != nil {
		apply(model)
	}
	v.renderModel(w, r, status, model)
}
