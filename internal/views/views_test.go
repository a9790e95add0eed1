package views

import (
	"context"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/bissquit/statuspage-web/internal/backend"
	"github.com/bissquit/statuspage-web/internal/domain"
	"github.com/bissquit/statuspage-web/internal/routes"
	"github.com/bissquit/statuspage-web/internal/testutil"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

type harness struct {
	fake   *testutil.FakeBackend
	client *backend.Client
	set    *Set
	table  *routes.Table
	router chi.Router
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()

	fake := testutil.NewFakeBackend(t)
	client, err := backend.New(backend.Config{BaseURL: fake.URL(), Timeout: 5 * time.Second, CacheTTL: time.Minute})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	if opts.Now == nil {
		opts.Now = func() time.Time { return testNow }
	}
	set, err := NewSet(client, opts)
	require.NoError(t, err)

	table, err := routes.DefaultRoutes(set)
	require.NoError(t, err)
	set.UseRoutes(table)

	actions, err := set.NewAdminActions(client, table)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Handle("/static/*", set.Static())
	actions.Mount(r)
	table.Mount(r, set.LoadFailed)

	return &harness{fake: fake, client: client, set: set, table: table, router: r}
}

func (h *harness) get(t *testing.T, target string) (int, string) {
	t.Helper()

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec.Code, rec.Body.String()
}

func (h *harness) post(t *testing.T, target string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func TestHome(t *testing.T) {
	h := newHarness(t, Options{SiteTitle: "Acme Status"})
	api := h.fake.AddService(domain.Service{Name: "Public API", Status: domain.ServiceStatusDegraded})
	h.fake.AddService(domain.Service{Name: "Dashboard"})

	h.fake.AddIncident(domain.Incident{Title: "Elevated error rate", ServiceID: api.ID, Status: domain.IncidentStatusIdentified, CreatedAt: testNow.Add(-90 * time.Minute)})

	recent := testNow.Add(-48 * time.Hour)
	h.fake.AddIncident(domain.Incident{Title: "Login delays", Status: domain.IncidentStatusResolved, ResolvedAt: &recent, CreatedAt: recent.Add(-time.Hour)})

	old := testNow.Add(-30 * 24 * time.Hour)
	h.fake.AddIncident(domain.Incident{Title: "Ancient outage", Status: domain.IncidentStatusResolved, ResolvedAt: &old, CreatedAt: old.Add(-time.Hour)})

	status, body := h.get(t, "/")
	require.Equal(t, http.StatusOK, status)

	assert.Contains(t, body, "<title>Status · Acme Status</title>")
	assert.Contains(t, body, "Some systems are degraded")
	assert.Contains(t, body, "Public API")
	assert.Contains(t, body, "Dashboard")
	assert.Contains(t, body, "Elevated error rate")
	assert.Contains(t, body, "opened 1 hour ago")
	assert.Contains(t, body, "Login delays")
	assert.NotContains(t, body, "Ancient outage")
}

func TestHome_AllOperational(t *testing.T) {
	h := newHarness(t, Options{})
	h.fake.AddService(domain.Service{Name: "API"})

	status, body := h.get(t, "/")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "All systems operational")
	assert.Contains(t, body, "No active incidents.")
	assert.Contains(t, body, "No incidents resolved in the last 7 days.")
}

func TestHome_BackendUnavailable(t *testing.T) {
	h := newHarness(t, Options{})
	h.fake.Respond(http.MethodGet, "/api/incidents", http.StatusInternalServerError, `{"error":"database is locked"}`)

	status, body := h.get(t, "/")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, body, "The status backend is unavailable.")
}

func TestHome_InvalidBackendData(t *testing.T) {
	h := newHarness(t, Options{})
	h.fake.Respond(http.MethodGet, "/api/services", http.StatusOK,
		`[{"id":"1","name":"API","description":"","status":"on fire","created_at":"2024-01-01T00:00:00Z","updated_at":"2024-01-01T00:00:00Z"}]`)

	status, _ := h.get(t, "/")
	assert.Equal(t, http.StatusBadGateway, status)
}

func TestIncidentDetails(t *testing.T) {
	h := newHarness(t, Options{})
	svc := h.fake.AddService(domain.Service{Name: "Checkout"})
	inc := h.fake.AddIncident(
		domain.Incident{Title: "Payments failing", Description: "Card payments time out.", ServiceID: svc.ID, Impact: domain.IncidentImpactCritical},
		domain.IncidentUpdate{Message: "We are investigating.", Status: domain.IncidentStatusInvestigating, CreatedAt: testNow.Add(-time.Hour)},
		domain.IncidentUpdate{Message: "Provider outage confirmed.", Status: domain.IncidentStatusIdentified, CreatedAt: testNow},
	)
	h.fake.SetIncidentStatus(inc.ID, domain.IncidentStatusResolved)

	status, body := h.get(t, "/incidents/"+inc.ID)
	require.Equal(t, http.StatusOK, status)

	assert.Contains(t, body, "Payments failing")
	assert.Contains(t, body, "Critical impact")
	assert.Contains(t, body, "affects <strong>Checkout</strong>")
	assert.Contains(t, body, "resolved ")
	first := strings.Index(body, "Provider outage confirmed.")
	second := strings.Index(body, "We are investigating.")
	require.Positive(t, first)
	assert.Less(t, first, second, "newest update first")
}

func TestIncidentDetails_NotFound(t *testing.T) {
	h := newHarness(t, Options{})

	status, body := h.get(t, "/incidents/does-not-exist")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, body, "This incident does not exist")
}

func TestComponents_TagFilter(t *testing.T) {
	h := newHarness(t, Options{})
	h.fake.AddComponent("Postgres", domain.ServiceStatusOperational, "database")
	h.fake.AddComponent("Redis", domain.ServiceStatusDegraded, "cache")
	h.fake.AddComponent("CDN", domain.ServiceStatusOperational, "edge")

	status, body := h.get(t, "/components")
	require.Equal(t, http.StatusOK, status)
	for _, name := range []string{"Postgres", "Redis", "CDN"} {
		assert.Contains(t, body, name)
	}

	status, body = h.get(t, "/components?tags=cache&tags=edge&tags=+cache+&page=2")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Redis")
	assert.Contains(t, body, "CDN")
	assert.NotContains(t, body, "Postgres</span>")
	assert.Contains(t, body, `value="cache" checked`)
	assert.NotContains(t, body, `value="database" checked`)
}

func TestNotFound(t *testing.T) {
	h := newHarness(t, Options{})

	status, body := h.get(t, "/no/such/page")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, body, "Page not found")
	assert.Contains(t, body, "/no/such/page")
}

func TestDeferredViewsLoadOnFirstVisit(t *testing.T) {
	h := newHarness(t, Options{})

	for _, name := range []string{routes.NameAdmin, routes.NameIncidentDetails, routes.NameComponents} {
		route, ok := h.table.Lookup(name)
		require.True(t, ok)
		assert.False(t, route.Loader.Loaded(), name)
	}

	status, _ := h.get(t, "/admin")
	require.Equal(t, http.StatusOK, status)

	admin, _ := h.table.Lookup(routes.NameAdmin)
	assert.True(t, admin.Loader.Loaded())
	components, _ := h.table.Lookup(routes.NameComponents)
	assert.False(t, components.Loader.Loaded())
}

func brokenFS(t *testing.T) fstest.MapFS {
	t.Helper()

	mapFS := fstest.MapFS{}
	err := fs.WalkDir(assets, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := fs.ReadFile(assets, path)
		if err != nil {
			return err
		}
		mapFS[path] = &fstest.MapFile{Data: data}
		return nil
	})
	require.NoError(t, err)

	mapFS["templates/components.tmpl"] = &fstest.MapFile{
		Data: []byte(`{{define "content"}}{{.NoSuchField}}{{end}}`),
	}
	return mapFS
}

func TestDeferredViewLoadFailure(t *testing.T) {
	fsys := brokenFS(t)
	h := newHarness(t, Options{FS: fsys})

	status, body := h.get(t, "/components")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Contains(t, body, "Internal Server Error")

	route, _ := h.table.Lookup(routes.NameComponents)
	assert.False(t, route.Loader.Loaded())

	_, err := h.set.Components(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "probe components template")

	// Other views are unaffected.
	status, _ = h.get(t, "/")
	assert.Equal(t, http.StatusOK, status)
}

func TestStatic(t *testing.T) {
	h := newHarness(t, Options{})

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/app.css", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/css")

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), ".banner")
}

func TestRouteURL(t *testing.T) {
	h := newHarness(t, Options{})

	u, err := h.set.routeURL(routes.NameIncidentDetails, "id", "42")
	require.NoError(t, err)
	assert.Equal(t, "/incidents/42", u)

	_, err = h.set.routeURL(routes.NameIncidentDetails, "id")
	require.Error(t, err)

	_, err = h.set.routeURL(routes.NameIncidentDetails, "id", "")
	require.ErrorIs(t, err, routes.ErrMissingParam)

	_, err = h.set.routeURL("Settings")
	require.ErrorIs(t, err, routes.ErrUnknownRoute)
}

func TestRouteURL_WithoutTable(t *testing.T) {
	set, err := NewSet(nil, Options{})
	require.NoError(t, err)

	_, err = set.routeURL(routes.NameHome)
	require.Error(t, err)
}

func TestConcurrentRenders(t *testing.T) {
	h := newHarness(t, Options{})
	h.fake.AddComponent("Postgres", domain.ServiceStatusOperational, "database")
	h.fake.AddComponent("Redis", domain.ServiceStatusDegraded, "cache")
	h.fake.AddService(domain.Service{Name: "API", Status: domain.ServiceStatusDegraded})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				for _, target := range []string{"/components", "/admin", "/"} {
					rec := httptest.NewRecorder()
					h.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
					assert.Equal(t, http.StatusOK, rec.Code, target)
				}
			}
		}()
	}
	wg.Wait()

	_, body := h.get(t, "/components")
	assert.Contains(t, body, "Degraded")
}

func TestAdmin_QueryVariants(t *testing.T) {
	h := newHarness(t, Options{})

	tests := []struct {
		name   string
		target string
		want   string
	}{
		{name: "notice", target: "/admin?notice=Saved", want: "Saved"},
		{name: "repeated notice", target: "/admin?notice=First&notice=Second", want: "Second"},
		{name: "unknown keys", target: "/admin?foo=bar&notice=Kept", want: "Kept"},
		{name: "empty", target: "/admin?notice=", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := h.get(t, tt.target)
			assert.Equal(t, http.StatusOK, code)
			assert.Contains(t, body, tt.want)
		})
	}
}

func TestTitleCase(t *testing.T) {
	assert.Equal(t, "Under Maintenance", titleCase("under_maintenance"))
	assert.Equal(t, "Operational", titleCase("operational"))
}

func TestHumanizeSince(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{d: 10 * time.Second, want: "just now"},
		{d: time.Minute, want: "1 minute ago"},
		{d: 45 * time.Minute, want: "45 minutes ago"},
		{d: 3 * time.Hour, want: "3 hours ago"},
		{d: 24 * time.Hour, want: "1 day ago"},
		{d: 10 * 24 * time.Hour, want: "10 days ago"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, humanizeSince(tt.d))
		})
	}
}
