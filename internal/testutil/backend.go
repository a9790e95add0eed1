package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/statuspage-web/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// FakeBackend is an in-memory status page backend.
// Every request and every regular response is checked against the
// embedded OpenAPI contract; violations fail the test.
type FakeBackend struct {
	Server *httptest.Server

	t         testing.TB
	router    *chi.Mux
	validator *OpenAPIValidator
	now       func() time.Time

	mu         sync.Mutex
	services   []domain.Service
	incidents  []domain.Incident
	updates    map[string][]domain.IncidentUpdate
	components []domain.Component
	tags       []domain.Tag
	overrides  map[string]override
	holds      map[string]*hold
	hits       map[string]int
	requestIDs []string
}

type override struct {
	status int
	body   string
}

type hold struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (h *hold) open() { h.once.Do(func() { close(h.release) }) }

// NewFakeBackend starts a fake backend that is closed with the test.
func NewFakeBackend(t testing.TB) *FakeBackend {
	t.Helper()

	f := &FakeBackend{
		t:         t,
		validator: NewBackendValidator(t),
		now:       func() time.Time { return time.Now().UTC().Truncate(time.Second) },
		updates:   make(map[string][]domain.IncidentUpdate),
		overrides: make(map[string]override),
		holds:     make(map[string]*hold),
		hits:      make(map[string]int),
	}

	r := chi.NewRouter()
	r.Use(f.record)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
	})
	r.Route("/api", func(r chi.Router) {
		r.Get("/services", f.listServices)
		r.Post("/services", f.createService)
		r.Put("/services/{id}", f.updateService)
		r.Delete("/services/{id}", f.deleteService)
		r.Get("/incidents", f.listIncidents)
		r.Post("/incidents", f.createIncident)
		r.Get("/incidents/{id}", f.getIncident)
		r.Put("/incidents/{id}", f.updateIncident)
		r.Get("/components", f.listComponents)
		r.Post("/components", f.createComponent)
		r.Put("/components/{id}", f.updateComponent)
		r.Delete("/components/{id}", f.deleteComponent)
		r.Get("/tags", f.listTags)
		r.Post("/tags", f.createTag)
	})

	f.router = r
	f.Server = httptest.NewServer(r)
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the base URL of the fake.
func (f *FakeBackend) URL() string {
	return f.Server.URL
}

// Respond makes every request matching method and chi pattern answer with
// status and body instead of the handler. The override skips the contract check.
func (f *FakeBackend) Respond(method, pattern string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overrides[method+" "+pattern] = override{status: status, body: body}
}

// Reset removes the override of method and pattern.
func (f *FakeBackend) Reset(method, pattern string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.overrides, method+" "+pattern)
}

// Hold makes the next request matching method and chi pattern read the
// backend state and then wait before answering. started is closed once the
// response is computed; release lets it through.
func (f *FakeBackend) Hold(method, pattern string) (started <-chan struct{}, release func()) {
	h := &hold{started: make(chan struct{}), release: make(chan struct{})}

	f.mu.Lock()
	f.holds[method+" "+pattern] = h
	f.mu.Unlock()

	f.t.Cleanup(h.open)
	return h.started, h.open
}

// Hits returns how many requests matched method and chi pattern.
func (f *FakeBackend) Hits(method, pattern string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[method+" "+pattern]
}

// RequestIDs returns the X-Request-ID headers seen so far.
func (f *FakeBackend) RequestIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requestIDs...)
}

// AddService stores a service. Empty ID, status and timestamps are filled in.
func (f *FakeBackend) AddService(s domain.Service) domain.Service {
	f.mu.Lock()
	defer f.mu.Unlock()

	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Status == "" {
		s.Status = domain.ServiceStatusOperational
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = f.now()
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = s.CreatedAt
	}
	f.services = append(f.services, s)
	return s
}

// SetServiceStatus changes the status of a stored service.
func (f *FakeBackend) SetServiceStatus(id string, status domain.ServiceStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.services {
		if f.services[i].ID == id {
			f.services[i].Status = status
			f.services[i].UpdatedAt = f.now()
		}
	}
}

// AddIncident stores an incident and its timeline.
func (f *FakeBackend) AddIncident(inc domain.Incident, updates ...domain.IncidentUpdate) domain.Incident {
	f.mu.Lock()
	defer f.mu.Unlock()

	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	if inc.Status == "" {
		inc.Status = domain.IncidentStatusInvestigating
	}
	if inc.Impact == "" {
		inc.Impact = domain.IncidentImpactMinor
	}
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = f.now()
	}
	if inc.UpdatedAt.IsZero() {
		inc.UpdatedAt = inc.CreatedAt
	}
	f.incidents = append(f.incidents, inc)

	for _, u := range updates {
		if u.ID == "" {
			u.ID = uuid.NewString()
		}
		if u.CreatedAt.IsZero() {
			u.CreatedAt = f.now()
		}
		u.IncidentID = inc.ID
		f.updates[inc.ID] = append(f.updates[inc.ID], u)
	}
	return inc
}

// SetIncidentStatus changes the status of a stored incident the way the
// backend does: resolved_at is stamped once and never cleared.
func (f *FakeBackend) SetIncidentStatus(id string, status domain.IncidentStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.incidents {
		if f.incidents[i].ID == id {
			f.applyIncidentStatus(&f.incidents[i], status)
		}
	}
}

// AddComponent stores a component, creating its tags by name.
func (f *FakeBackend) AddComponent(name string, status domain.ServiceStatus, tagNames ...string) domain.Component {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addComponent(name, "", status, tagNames)
}

// Services returns a copy of the stored services.
func (f *FakeBackend) Services() []domain.Service {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Service(nil), f.services...)
}

// Incidents returns a copy of the stored incidents.
func (f *FakeBackend) Incidents() []domain.Incident {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Incident(nil), f.incidents...)
}

// Components returns a copy of the stored components.
func (f *FakeBackend) Components() []domain.Component {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Component(nil), f.components...)
}

// Tags returns a copy of the stored tags.
func (f *FakeBackend) Tags() []domain.Tag {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Tag(nil), f.tags...)
}

func (f *FakeBackend) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		match := chi.NewRouteContext()
		f.router.Match(match, r.Method, r.URL.Path)
		key := r.Method + " " + match.RoutePattern()

		f.validator.ValidateRequest(f.t, r)

		f.mu.Lock()
		f.hits[key]++
		f.requestIDs = append(f.requestIDs, r.Header.Get("X-Request-ID"))
		o, overridden := f.overrides[key]
		f.mu.Unlock()

		if overridden {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(o.status)
			_, _ = io.WriteString(w, o.body)
			return
		}

		rec := httptest.NewRecorder()
		next.ServeHTTP(rec, r)

		body := rec.Body.Bytes()
		f.validator.ValidateResponse(f.t, r, rec.Code, rec.Header(), body)

		f.mu.Lock()
		h := f.holds[key]
		delete(f.holds, key)
		f.mu.Unlock()
		if h != nil {
			close(h.started)
			<-h.release
		}

		for k, v := range rec.Header() {
			w.Header()[k] = v
		}
		w.WriteHeader(rec.Code)
		_, _ = w.Write(body)
	})
}

func (f *FakeBackend) listServices(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeJSON(w, http.StatusOK, nonNil(f.services))
}

func (f *FakeBackend) createService(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name        string               `json:"name"`
		Description string               `json:"description"`
		Status      domain.ServiceStatus `json:"status"`
	}
	if !decodeBody(w, r, &in) {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	s := domain.Service{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Description: in.Description,
		Status:      in.Status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	f.services = append(f.services, s)
	writeJSON(w, http.StatusCreated, s)
}

func (f *FakeBackend) updateService(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name        string               `json:"name"`
		Description string               `json:"description"`
		Status      domain.ServiceStatus `json:"status"`
	}
	if !decodeBody(w, r, &in) {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	id := chi.URLParam(r, "id")
	for i := range f.services {
		if f.services[i].ID != id {
			continue
		}
		f.services[i].Name = in.Name
		f.services[i].Description = in.Description
		f.services[i].Status = in.Status
		f.services[i].UpdatedAt = f.now()
		writeJSON(w, http.StatusOK, f.services[i])
		return
	}
	writeError(w, http.StatusNotFound, "service not found")
}

func (f *FakeBackend) deleteService(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := chi.URLParam(r, "id")
	kept := f.services[:0]
	for _, s := range f.services {
		if s.ID != id {
			kept = append(kept, s)
		}
	}
	f.services = kept
	w.WriteHeader(http.StatusNoContent)
}

func (f *FakeBackend) listIncidents(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]domain.Incident, 0, len(f.incidents))
	for _, inc := range f.incidents {
		out = append(out, f.joined(inc))
	}
	writeJSON(w, http.StatusOK, out)
}

func (f *FakeBackend) createIncident(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Title       string                `json:"title"`
		Description string                `json:"description"`
		Status      domain.IncidentStatus `json:"status"`
		Impact      domain.IncidentImpact `json:"impact"`
		ServiceID   string                `json:"service_id"`
	}
	if !decodeBody(w, r, &in) {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	inc := domain.Incident{
		ID:          uuid.NewString(),
		Title:       in.Title,
		Description: in.Description,
		Status:      in.Status,
		Impact:      in.Impact,
		ServiceID:   in.ServiceID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	f.incidents = append(f.incidents, inc)
	writeJSON(w, http.StatusCreated, f.joined(inc))
}

func (f *FakeBackend) getIncident(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := chi.URLParam(r, "id")
	for _, inc := range f.incidents {
		if inc.ID == id {
			writeJSON(w, http.StatusOK, domain.IncidentDetails{
				Incident: f.joined(inc),
				Updates:  nonNil(f.updates[id]),
			})
			return
		}
	}
	writeError(w, http.StatusNotFound, "incident not found")
}

func (f *FakeBackend) updateIncident(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Title       string                `json:"title"`
		Description string                `json:"description"`
		Status      domain.IncidentStatus `json:"status"`
		Impact      domain.IncidentImpact `json:"impact"`
	}
	if !decodeBody(w, r, &in) {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	id := chi.URLParam(r, "id")
	for i := range f.incidents {
		if f.incidents[i].ID != id {
			continue
		}
		inc := &f.incidents[i]
		inc.Title = in.Title
		inc.Description = in.Description
		inc.Impact = in.Impact
		f.applyIncidentStatus(inc, in.Status)
		writeJSON(w, http.StatusOK, f.joined(*inc))
		return
	}
	writeError(w, http.StatusNotFound, "incident not found")
}

func (f *FakeBackend) listComponents(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	filter := r.URL.Query()["tags"]
	out := make([]domain.Component, 0, len(f.components))
	for _, c := range f.components {
		if len(filter) == 0 || hasAnyTag(c, filter) {
			out = append(out, c)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (f *FakeBackend) createComponent(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name        string               `json:"name"`
		Description string               `json:"description"`
		Status      domain.ServiceStatus `json:"status"`
		Tags        []string             `json:"tags"`
	}
	if !decodeBody(w, r, &in) {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	writeJSON(w, http.StatusCreated, f.addComponent(in.Name, in.Description, in.Status, in.Tags))
}

func (f *FakeBackend) updateComponent(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name        string               `json:"name"`
		Description string               `json:"description"`
		Status      domain.ServiceStatus `json:"status"`
		Tags        []string             `json:"tags"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	if in.Status == "" {
		in.Status = domain.ServiceStatusOperational
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	id := chi.URLParam(r, "id")
	for i := range f.components {
		if f.components[i].ID != id {
			continue
		}
		c := &f.components[i]
		c.Name = in.Name
		c.Description = in.Description
		c.Status = in.Status
		c.UpdatedAt = f.now()
		c.Tags = []domain.Tag{}
		for _, tagName := range in.Tags {
			c.Tags = append(c.Tags, f.tagByName(tagName))
		}
		writeJSON(w, http.StatusOK, *c)
		return
	}
	writeError(w, http.StatusNotFound, "component not found")
}

func (f *FakeBackend) deleteComponent(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := chi.URLParam(r, "id")
	kept := f.components[:0]
	for _, c := range f.components {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	f.components = kept
	w.WriteHeader(http.StatusNoContent)
}

func (f *FakeBackend) listTags(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := append([]domain.Tag(nil), f.tags...)
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	writeJSON(w, http.StatusOK, nonNil(out))
}

func (f *FakeBackend) createTag(w http.ResponseWriter, r *http.Request) {
	var in domain.Tag
	if !decodeBody(w, r, &in) {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, t := range f.tags {
		if t.Name == in.Name {
			writeError(w, http.StatusBadRequest, "tag already exists")
			return
		}
	}
	in.ID = uuid.NewString()
	f.tags = append(f.tags, in)
	writeJSON(w, http.StatusCreated, in)
}

// applyIncidentStatus must be called with f.mu held.
func (f *FakeBackend) applyIncidentStatus(inc *domain.Incident, status domain.IncidentStatus) {
	now := f.now()
	inc.Status = status
	inc.UpdatedAt = now
	if status.IsResolved() && inc.ResolvedAt == nil {
		inc.ResolvedAt = &now
	}
}

// addComponent must be called with f.mu held.
func (f *FakeBackend) addComponent(name, description string, status domain.ServiceStatus, tagNames []string) domain.Component {
	if status == "" {
		status = domain.ServiceStatusOperational
	}

	now := f.now()
	c := domain.Component{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Status:      status,
		Tags:        []domain.Tag{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, tagName := range tagNames {
		c.Tags = append(c.Tags, f.tagByName(tagName))
	}
	f.components = append(f.components, c)
	return c
}

func (f *FakeBackend) tagByName(name string) domain.Tag {
	for _, t := range f.tags {
		if t.Name == name {
			return t
		}
	}
	t := domain.Tag{ID: uuid.NewString(), Name: name}
	f.tags = append(f.tags, t)
	return t
}

// joined embeds the incident's service like a preloaded association.
func (f *FakeBackend) joined(inc domain.Incident) domain.Incident {
	inc.Service = nil
	for _, s := range f.services {
		if s.ID == inc.ServiceID {
			svc := s
			inc.Service = &svc
			break
		}
	}
	return inc
}

func hasAnyTag(c domain.Component, names []string) bool {
	for _, name := range names {
		if c.HasTag(name) {
			return true
		}
	}
	return false
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
