//go:build integration

package integration

import (
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/bissquit/statuspage-web/internal/domain"
	"github.com/bissquit/statuspage-web/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getPage(t *testing.T, client *testutil.Client, path string) (int, string) {
	t.Helper()

	resp, err := client.GET(path)
	require.NoError(t, err)
	return resp.StatusCode, testutil.ReadBody(t, resp)
}

func postForm(t *testing.T, client *testutil.Client, path string, form url.Values) *http.Response {
	t.Helper()

	resp, err := client.PostForm(path, form)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func requireRedirectToAdmin(t *testing.T, resp *http.Response) {
	t.Helper()

	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Location"), "/admin?notice="), resp.Header.Get("Location"))
}

func TestIncidentLifecycleThroughAdmin(t *testing.T) {
	s := newStack(t)

	resp := postForm(t, s.client, "/admin/services", url.Values{
		"name":   {"Checkout"},
		"status": {"operational"},
	})
	requireRedirectToAdmin(t, resp)

	services := s.backend.Services()
	require.Len(t, services, 1)
	svc := services[0]

	status, body := getPage(t, s.client, "/")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Checkout")

	resp = postForm(t, s.client, "/admin/incidents", url.Values{
		"title":      {"Payments failing"},
		"status":     {"investigating"},
		"impact":     {"critical"},
		"service_id": {svc.ID},
	})
	requireRedirectToAdmin(t, resp)

	incidents := s.backend.Incidents()
	require.Len(t, incidents, 1)
	inc := incidents[0]

	status, body = getPage(t, s.client, "/")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Payments failing", "active incident on the home page")

	resp = postForm(t, s.client, "/admin/incidents/"+inc.ID, url.Values{
		"title":      {"Payments failing"},
		"status":     {"resolved"},
		"impact":     {"critical"},
		"service_id": {svc.ID},
	})
	requireRedirectToAdmin(t, resp)

	status, body = getPage(t, s.client, "/incidents/"+inc.ID)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Payments failing")
	assert.Contains(t, body, "Resolved")
	assert.Equal(t, domain.IncidentStatusResolved, s.backend.Incidents()[0].Status)
}

func TestAdminRejectsInvalidForm(t *testing.T) {
	s := newStack(t)

	resp := postForm(t, s.client, "/admin/services", url.Values{"status": {"broken"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, s.backend.Services())
}

func TestComponentsTagFilter(t *testing.T) {
	s := newStack(t)

	for _, form := range []url.Values{
		{"name": {"Postgres"}, "status": {"operational"}, "tags": {"db, eu"}},
		{"name": {"Redis"}, "status": {"degraded"}, "tags": {"cache"}},
	} {
		requireRedirectToAdmin(t, postForm(t, s.client, "/admin/components", form))
	}

	status, body := getPage(t, s.client, "/components")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Postgres")
	assert.Contains(t, body, "Redis")

	status, body = getPage(t, s.client, "/components?tags=db")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Postgres")
	assert.NotContains(t, body, "Redis")
}

func TestUnknownPagesAndIncidents(t *testing.T) {
	s := newStack(t)

	status, _ := getPage(t, s.client, "/does/not/exist")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = getPage(t, s.client, "/incidents/missing")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestBackendOutage(t *testing.T) {
	s := newStack(t)
	s.backend.Respond(http.MethodGet, "/api/services", http.StatusInternalServerError, `{"error":"boom"}`)
	s.backend.Respond(http.MethodGet, "/health", http.StatusInternalServerError, `{"error":"boom"}`)

	status, body := getPage(t, s.client, "/")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, body, "unavailable")

	status, _ = getPage(t, s.client, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, status)
}
