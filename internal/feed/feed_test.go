package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/statuspage-web/internal/backend"
	"github.com/bissquit/statuspage-web/internal/domain"
	"github.com/bissquit/statuspage-web/internal/testutil"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAt = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

func TestDiff(t *testing.T) {
	api := domain.Service{ID: "s1", Name: "API", Status: domain.ServiceStatusOperational}
	web := domain.Service{ID: "s2", Name: "Web", Status: domain.ServiceStatusOperational}
	inc := domain.Incident{
		ID:        "i1",
		Title:     "Errors",
		ServiceID: "s1",
		Service:   &api,
		Status:    domain.IncidentStatusInvestigating,
		Impact:    domain.IncidentImpactMajor,
	}

	withStatus := func(s domain.Service, st domain.ServiceStatus) domain.Service {
		s.Status = st
		return s
	}
	withIncidentStatus := func(i domain.Incident, st domain.IncidentStatus) domain.Incident {
		i.Status = st
		return i
	}

	tests := []struct {
		name string
		prev Snapshot
		next Snapshot
		want []Change
	}{
		{
			name: "no changes",
			prev: Snapshot{Services: []domain.Service{api, web}, Incidents: []domain.Incident{inc}},
			next: Snapshot{Services: []domain.Service{api, web}, Incidents: []domain.Incident{inc}},
		},
		{
			name: "service status changed",
			prev: Snapshot{Services: []domain.Service{api, web}},
			next: Snapshot{Services: []domain.Service{api, withStatus(web, domain.ServiceStatusOutage)}},
			want: []Change{{
				Kind: KindServiceStatus, ServiceID: "s2", ServiceName: "Web",
				From: "operational", To: "outage", At: testAt,
			}},
		},
		{
			name: "new service is not a change",
			prev: Snapshot{Services: []domain.Service{api}},
			next: Snapshot{Services: []domain.Service{api, web}},
		},
		{
			name: "removed records are ignored",
			prev: Snapshot{Services: []domain.Service{api, web}, Incidents: []domain.Incident{inc}},
			next: Snapshot{Services: []domain.Service{api}},
		},
		{
			name: "incident opened",
			prev: Snapshot{},
			next: Snapshot{Incidents: []domain.Incident{inc}},
			want: []Change{{
				Kind: KindIncidentOpened, ServiceID: "s1", ServiceName: "API", IncidentID: "i1",
				Title: "Errors", Impact: domain.IncidentImpactMajor, To: "investigating", At: testAt,
			}},
		},
		{
			name: "incident status changed",
			prev: Snapshot{Incidents: []domain.Incident{inc}},
			next: Snapshot{Incidents: []domain.Incident{withIncidentStatus(inc, domain.IncidentStatusResolved)}},
			want: []Change{{
				Kind: KindIncidentStatus, ServiceID: "s1", ServiceName: "API", IncidentID: "i1",
				Title: "Errors", Impact: domain.IncidentImpactMajor,
				From: "investigating", To: "resolved", At: testAt,
			}},
		},
		{
			name: "services before incidents",
			prev: Snapshot{Services: []domain.Service{api}},
			next: Snapshot{
				Services:  []domain.Service{withStatus(api, domain.ServiceStatusDegraded)},
				Incidents: []domain.Incident{inc},
			},
			want: []Change{
				{Kind: KindServiceStatus, ServiceID: "s1", ServiceName: "API", From: "operational", To: "degraded", At: testAt},
				{
					Kind: KindIncidentOpened, ServiceID: "s1", ServiceName: "API", IncidentID: "i1",
					Title: "Errors", Impact: domain.IncidentImpactMajor, To: "investigating", At: testAt,
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Diff(tt.prev, tt.next, testAt))
		})
	}
}

type recordingSink struct {
	mu      sync.Mutex
	batches [][]Change
}

func (s *recordingSink) Publish(_ context.Context, changes []Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, changes)
}

func (s *recordingSink) Batches() [][]Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]Change(nil), s.batches...)
}

func TestPoller_Poll(t *testing.T) {
	fake := testutil.NewFakeBackend(t)
	client, err := backend.New(backend.Config{BaseURL: fake.URL(), Timeout: 5 * time.Second, CacheTTL: time.Hour})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	svc := fake.AddService(domain.Service{Name: "API"})
	inc := fake.AddIncident(domain.Incident{Title: "Latency", ServiceID: svc.ID})

	sink := &recordingSink{}
	p := NewPoller(client, time.Minute, sink)
	p.now = func() time.Time { return testAt }
	ctx := context.Background()

	t.Run("first poll records baseline", func(t *testing.T) {
		changes, err := p.Poll(ctx)
		require.NoError(t, err)
		assert.Empty(t, changes)
		assert.Empty(t, sink.Batches())
	})

	t.Run("unchanged backend publishes nothing", func(t *testing.T) {
		changes, err := p.Poll(ctx)
		require.NoError(t, err)
		assert.Empty(t, changes)
		assert.Empty(t, sink.Batches())
	})

	t.Run("changes bypass the read cache", func(t *testing.T) {
		// Warm the cache so a cached read would hide the change.
		_, err := client.ListServices(ctx)
		require.NoError(t, err)

		fake.SetServiceStatus(svc.ID, domain.ServiceStatusOutage)
		fake.SetIncidentStatus(inc.ID, domain.IncidentStatusIdentified)

		changes, err := p.Poll(ctx)
		require.NoError(t, err)
		require.Len(t, changes, 2)
		assert.Equal(t, KindServiceStatus, changes[0].Kind)
		assert.Equal(t, "outage", changes[0].To)
		assert.Equal(t, KindIncidentStatus, changes[1].Kind)
		assert.Equal(t, "investigating", changes[1].From)
		assert.Equal(t, "identified", changes[1].To)

		require.Len(t, sink.Batches(), 1)
		assert.Equal(t, changes, sink.Batches()[0])
	})

	t.Run("backend failure keeps previous snapshot", func(t *testing.T) {
		fake.Respond(http.MethodGet, "/api/incidents", http.StatusBadGateway, `{"error":"down"}`)
		_, err := p.Poll(ctx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, backend.ErrUnavailable))
		fake.Reset(http.MethodGet, "/api/incidents")

		fake.AddIncident(domain.Incident{Title: "New one", ServiceID: svc.ID})
		changes, err := p.Poll(ctx)
		require.NoError(t, err)
		require.Len(t, changes, 1)
		assert.Equal(t, KindIncidentOpened, changes[0].Kind)
		assert.Equal(t, "New one", changes[0].Title)
	})
}

// flippingSource reports a degraded service from the second call on.
type flippingSource struct {
	mu    sync.Mutex
	calls int
}

func (s *flippingSource) ListServices(context.Context) ([]domain.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	status := domain.ServiceStatusOperational
	if s.calls > 1 {
		status = domain.ServiceStatusDegraded
	}
	return []domain.Service{{ID: "s1", Name: "API", Status: status}}, nil
}

func (s *flippingSource) ListIncidents(context.Context) ([]domain.Incident, error) {
	return nil, nil
}

func TestPoller_StartStop(t *testing.T) {
	sink := &recordingSink{}
	p := NewPoller(&flippingSource{}, 10*time.Millisecond, sink)

	p.Start(context.Background())
	require.Eventually(t, func() bool { return len(sink.Batches()) == 1 }, 2*time.Second, 5*time.Millisecond)
	p.Stop()

	batch := sink.Batches()[0]
	require.Len(t, batch, 1)
	assert.Equal(t, KindServiceStatus, batch[0].Kind)
	assert.Equal(t, "degraded", batch[0].To)

	// Stop is idempotent.
	p.Stop()
}

func dialHub(t *testing.T, srv *httptest.Server, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub(HubConfig{})
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	first, _, err := dialHub(t, srv, nil)
	require.NoError(t, err)
	second, _, err := dialHub(t, srv, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, 2*time.Second, 5*time.Millisecond)

	changes := []Change{{Kind: KindServiceStatus, ServiceID: "s1", ServiceName: "API", From: "operational", To: "outage", At: testAt}}
	hub.Publish(context.Background(), changes)
	hub.Publish(context.Background(), nil)

	for _, conn := range []*websocket.Conn{first, second} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, "changes", msg.Type)
		assert.Equal(t, changes, msg.Changes)
	}

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(HubConfig{})
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	conn, _, err := dialHub(t, srv, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	hub.Close()
	assert.Equal(t, 0, hub.Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	// New clients are turned away after Close.
	late, _, err := dialHub(t, srv, nil)
	require.NoError(t, err)
	require.NoError(t, late.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = late.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Equal(t, 0, hub.Clients())
}

func TestHub_CheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		wantOK  bool
	}{
		{name: "no origin header", origin: "", wantOK: true},
		{name: "foreign origin rejected", origin: "https://evil.example", wantOK: false},
		{name: "listed origin", allowed: []string{"https://status.example"}, origin: "https://status.example", wantOK: true},
		{name: "wildcard", allowed: []string{"*"}, origin: "https://anything.example", wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(NewHub(HubConfig{AllowedOrigins: tt.allowed}))
			t.Cleanup(srv.Close)

			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			_, resp, err := dialHub(t, srv, header)
			if tt.wantOK {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		})
	}
}

func TestHub_DropsSlowClient(t *testing.T) {
	hub := NewHub(HubConfig{ClientBuffer: 1})
	slow := &client{send: make(chan []byte, 1)}
	require.True(t, hub.add(slow))

	changes := []Change{{Kind: KindIncidentOpened, IncidentID: "i1", To: "investigating", At: testAt}}
	hub.Publish(context.Background(), changes)
	assert.Equal(t, 1, hub.Clients())

	hub.Publish(context.Background(), changes)
	assert.Equal(t, 0, hub.Clients())

	_, ok := <-slow.send
	assert.True(t, ok, "queued message is kept")
	_, ok = <-slow.send
	assert.False(t, ok, "queue is closed after drop")
}
