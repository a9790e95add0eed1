package views

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bissquit/statuspage-web/internal/backend"
	"github.com/bissquit/statuspage-web/internal/domain"
	"github.com/bissquit/statuspage-web/internal/pkg/ctxlog"
	"github.com/bissquit/statuspage-web/internal/pkg/httputil"
	"github.com/bissquit/statuspage-web/internal/routes"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

const maxFormBytes = 64 << 10

// AdminBackend is the write side used by the admin forms.
type AdminBackend interface {
	CreateService(ctx context.Context, in backend.ServiceInput) (*domain.Service, error)
	UpdateService(ctx context.Context, id string, in backend.ServiceInput) (*domain.Service, error)
	DeleteService(ctx context.Context, id string) error
	CreateIncident(ctx context.Context, in backend.IncidentInput) (*domain.Incident, error)
	UpdateIncident(ctx context.Context, id string, in backend.IncidentInput) (*domain.Incident, error)
	CreateComponent(ctx context.Context, in backend.ComponentInput) (*domain.Component, error)
	UpdateComponent(ctx context.Context, id string, in backend.ComponentInput) (*domain.Component, error)
	DeleteComponent(ctx context.Context, id string) error
	CreateTag(ctx context.Context, in backend.TagInput) (*domain.Tag, error)
}

type serviceForm struct {
	Name        string `schema:"name" validate:"required,max=255"`
	Description string `schema:"description" validate:"max=2000"`
	Status      string `schema:"status" validate:"required,oneof=operational degraded outage"`
}

type incidentForm struct {
	Title       string `schema:"title" validate:"required,max=255"`
	Description string `schema:"description" validate:"max=5000"`
	Status      string `schema:"status" validate:"required,oneof=investigating identified monitoring resolved"`
	Impact      string `schema:"impact" validate:"required,oneof=critical major minor"`
	ServiceID   string `schema:"service_id" validate:"max=64"`
}

type componentForm struct {
	Name        string `schema:"name" validate:"required,max=255"`
	Description string `schema:"description" validate:"max=2000"`
	Status      string `schema:"status" validate:"omitempty,oneof=operational degraded outage"`
	Tags        string `schema:"tags" validate:"max=1000"`
}

type tagForm struct {
	Name        string `schema:"name" validate:"required,max=64"`
	Description string `schema:"description" validate:"max=500"`
}

// AdminActions handles the admin form posts.
type AdminActions struct {
	set      *Set
	backend  AdminBackend
	admin    routes.Route
	validate *validator.Validate
}

// NewAdminActions creates the form handlers. The admin route of table
// renders validation failures, loading the view if needed.
func (s *Set) NewAdminActions(b AdminBackend, table *routes.Table) (*AdminActions, error) {
	admin, ok := table.Lookup(routes.NameAdmin)
	if !ok {
		return nil, fmt.Errorf("%w: %s", routes.ErrUnknownRoute, routes.NameAdmin)
	}
	return &AdminActions{
		set:      s,
		backend:  b,
		admin:    admin,
		validate: validator.New(),
	}, nil
}

// Mount registers the form handlers under /admin.
func (a *AdminActions) Mount(r chi.Router) {
	r.Post("/admin/services", a.CreateService)
	r.Post("/admin/services/{id}", a.UpdateService)
	r.Post("/admin/services/{id}/delete", a.DeleteService)
	r.Post("/admin/incidents", a.CreateIncident)
	r.Post("/admin/incidents/{id}", a.UpdateIncident)
	r.Post("/admin/components", a.CreateComponent)
	r.Post("/admin/components/{id}", a.UpdateComponent)
	r.Post("/admin/components/{id}/delete", a.DeleteComponent)
	r.Post("/admin/tags", a.CreateTag)
}

// CreateService handles POST /admin/services.
func (a *AdminActions) CreateService(w http.ResponseWriter, r *http.Request) {
	var form serviceForm
	if !a.decode(w, r, &form, func(m *adminModel) { m.ServiceForm = form }) {
		return
	}

	svc, err := a.backend.CreateService(r.Context(), backend.ServiceInput{
		Name:        strings.TrimSpace(form.Name),
		Description: strings.TrimSpace(form.Description),
		Status:      domain.ServiceStatus(form.Status),
	})
	if err != nil {
		a.failed(w, r, err, func(m *adminModel) { m.ServiceForm = form })
		return
	}

	ctxlog.FromContext(r.Context()).Info("service created", "service_id", svc.ID)
	a.done(w, r, fmt.Sprintf("Service %q created.", svc.Name))
}

// UpdateService handles POST /admin/services/{id}.
func (a *AdminActions) UpdateService(w http.ResponseWriter, r *http.Request) {
	var form serviceForm
	if !a.decode(w, r, &form, nil) {
		return
	}

	id := chi.URLParam(r, "id")
	svc, err := a.backend.UpdateService(r.Context(), id, backend.ServiceInput{
		Name:        strings.TrimSpace(form.Name),
		Description: strings.TrimSpace(form.Description),
		Status:      domain.ServiceStatus(form.Status),
	})
	if err != nil {
		a.failed(w, r, err, nil)
		return
	}

	ctxlog.FromContext(r.Context()).Info("service updated", "service_id", id, "status", svc.Status)
	a.done(w, r, fmt.Sprintf("Service %q updated.", svc.Name))
}

// DeleteService handles POST /admin/services/{id}/delete.
func (a *AdminActions) DeleteService(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.backend.DeleteService(r.Context(), id); err != nil {
		a.failed(w, r, err, nil)
		return
	}

	ctxlog.FromContext(r.Context()).Info("service deleted", "service_id", id)
	a.done(w, r, "Service deleted.")
}

// CreateIncident handles POST /admin/incidents.
func (a *AdminActions) CreateIncident(w http.ResponseWriter, r *http.Request) {
	var form incidentForm
	if !a.decode(w, r, &form, func(m *adminModel) { m.IncidentForm = form }) {
		return
	}

	inc, err := a.backend.CreateIncident(r.Context(), form.input())
	if err != nil {
		a.failed(w, r, err, func(m *adminModel) { m.IncidentForm = form })
		return
	}

	ctxlog.FromContext(r.Context()).Info("incident created", "incident_id", inc.ID, "impact", inc.Impact)
	a.done(w, r, fmt.Sprintf("Incident %q reported.", inc.Title))
}

// UpdateIncident handles POST /admin/incidents/{id}.
func (a *AdminActions) UpdateIncident(w http.ResponseWriter, r *http.Request) {
	var form incidentForm
	if !a.decode(w, r, &form, nil) {
		return
	}

	id := chi.URLParam(r, "id")
	inc, err := a.backend.UpdateIncident(r.Context(), id, form.input())
	if err != nil {
		a.failed(w, r, err, nil)
		return
	}

	ctxlog.FromContext(r.Context()).Info("incident updated", "incident_id", id, "status", inc.Status)
	a.done(w, r, fmt.Sprintf("Incident %q is now %s.", inc.Title, inc.Status))
}

// CreateComponent handles POST /admin/components.
func (a *AdminActions) CreateComponent(w http.ResponseWriter, r *http.Request) {
	var form componentForm
	if !a.decode(w, r, &form, func(m *adminModel) { m.ComponentForm = form }) {
		return
	}

	comp, err := a.backend.CreateComponent(r.Context(), form.input())
	if err != nil {
		a.failed(w, r, err, func(m *adminModel) { m.ComponentForm = form })
		return
	}

	ctxlog.FromContext(r.Context()).Info("component created", "component_id", comp.ID)
	a.done(w, r, fmt.Sprintf("Component %q created.", comp.Name))
}

// UpdateComponent handles POST /admin/components/{id}.
func (a *AdminActions) UpdateComponent(w http.ResponseWriter, r *http.Request) {
	var form componentForm
	if !a.decode(w, r, &form, nil) {
		return
	}

	id := chi.URLParam(r, "id")
	comp, err := a.backend.UpdateComponent(r.Context(), id, form.input())
	if err != nil {
		a.failed(w, r, err, nil)
		return
	}

	ctxlog.FromContext(r.Context()).Info("component updated", "component_id", id, "status", comp.Status)
	a.done(w, r, fmt.Sprintf("Component %q updated.", comp.Name))
}

// DeleteComponent handles POST /admin/components/{id}/delete.
func (a *AdminActions) DeleteComponent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.backend.DeleteComponent(r.Context(), id); err != nil {
		a.failed(w, r, err, nil)
		return
	}

	ctxlog.FromContext(r.Context()).Info("component deleted", "component_id", id)
	a.done(w, r, "Component deleted.")
}

// CreateTag handles POST /admin/tags.
func (a *AdminActions) CreateTag(w http.ResponseWriter, r *http.Request) {
	var form tagForm
	if !a.decode(w, r, &form, func(m *adminModel) { m.TagForm = form }) {
		return
	}

	tag, err := a.backend.CreateTag(r.Context(), backend.TagInput{
		Name:        strings.TrimSpace(form.Name),
		Description: strings.TrimSpace(form.Description),
	})
	if err != nil {
		a.failed(w, r, err, func(m *adminModel) { m.TagForm = form })
		return
	}

	ctxlog.FromContext(r.Context()).Info("tag created", "tag_id", tag.ID)
	a.done(w, r, fmt.Sprintf("Tag %q created.", tag.Name))
}

func (f incidentForm) input() backend.IncidentInput {
	return backend.IncidentInput{
		Title:       strings.TrimSpace(f.Title),
		Description: strings.TrimSpace(f.Description),
		Status:      domain.IncidentStatus(f.Status),
		Impact:      domain.IncidentImpact(f.Impact),
		ServiceID:   f.ServiceID,
	}
}

func (f componentForm) input() backend.ComponentInput {
	return backend.ComponentInput{
		Name:        strings.TrimSpace(f.Name),
		Description: strings.TrimSpace(f.Description),
		Status:      domain.ServiceStatus(f.Status),
		Tags:        compactTags(strings.Split(f.Tags, ",")),
	}
}

// decode parses and validates the posted form into dst. On failure it
// re-renders the admin page and returns false; keep restores the input.
func (a *AdminActions) decode(w http.ResponseWriter, r *http.Request, dst any, keep func(*adminModel)) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		a.reject(w, r, http.StatusBadRequest, []string{"could not read form: " + err.Error()}, nil)
		return false
	}

	if err := a.set.decoder.Decode(dst, r.PostForm); err != nil {
		a.reject(w, r, http.StatusBadRequest, []string{"invalid form: " + err.Error()}, nil)
		return false
	}

	if err := a.validate.Struct(dst); err != nil {
		a.reject(w, r, http.StatusBadRequest, httputil.ValidationMessages(err), keep)
		return false
	}
	return true
}

var actionErrorMappings = []httputil.ErrorMapping{
	{Error: backend.ErrBadRequest, Status: http.StatusBadRequest},
	{Error: backend.ErrNotFound, Status: http.StatusNotFound},
	{Error: backend.ErrForbidden, Status: http.StatusForbidden},
	{Error: backend.ErrConflict, Status: http.StatusConflict},
}

// failed re-renders the admin page for errors the user can act on and
// shows the error page otherwise.
func (a *AdminActions) failed(w http.ResponseWriter, r *http.Request, err error, keep func(*adminModel)) {
	m, ok := httputil.MatchError(err, actionErrorMappings)
	if !ok {
		a.set.RenderError(w, r, err)
		return
	}

	message := backend.Message(err)
	if message == "" {
		message = m.Message
	}
	a.reject(w, r, m.Status, []string{message}, keep)
}

func (a *AdminActions) reject(w http.ResponseWriter, r *http.Request, status int, messages []string, keep func(*adminModel)) {
	view, err := routes.LoadView(r.Context(), a.admin)
	if err != nil {
		a.set.LoadFailed(w, r, a.admin, err)
		return
	}

	admin, ok := view.(*adminView)
	if !ok {
		a.set.RenderError(w, r, errors.New("admin route does not serve the admin view"))
		return
	}
	admin.formsFailed(w, r, status, messages, keep)
}

func (a *AdminActions) done(w http.ResponseWriter, r *http.Request, notice string) {
	target := routes.PatternAdmin + "?" + url.Values{"notice": {notice}}.Encode()
	http.Redirect(w, r, target, http.StatusSeeOther)
}
