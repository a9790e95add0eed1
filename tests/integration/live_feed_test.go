//go:build integration

package integration

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/bissquit/statuspage-web/internal/domain"
	"github.com/bissquit/statuspage-web/internal/feed"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiveFeedSeesAdminChanges(t *testing.T) {
	s := newStack(t)
	svc := s.backend.AddService(domain.Service{Name: "Search"})

	conn, _, err := websocket.DefaultDialer.Dial(s.wsURL("/live"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, func() bool { return s.app.Hub().Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx := context.Background()
	_, err = s.app.Poller().Poll(ctx)
	require.NoError(t, err)

	requireRedirectToAdmin(t, postForm(t, s.client, "/admin/services/"+svc.ID, url.Values{
		"name":   {"Search"},
		"status": {"outage"},
	}))
	requireRedirectToAdmin(t, postForm(t, s.client, "/admin/incidents", url.Values{
		"title":      {"Search is down"},
		"status":     {"identified"},
		"impact":     {"major"},
		"service_id": {svc.ID},
	}))

	changes, err := s.app.Poller().Poll(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 2)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg feed.Message
	require.NoError(t, conn.ReadJSON(&msg))
	require.Len(t, msg.Changes, 2)

	assert.Equal(t, feed.KindServiceStatus, msg.Changes[0].Kind)
	assert.Equal(t, "outage", msg.Changes[0].To)
	assert.Equal(t, feed.KindIncidentOpened, msg.Changes[1].Kind)
	assert.Equal(t, "Search is down", msg.Changes[1].Title)
	assert.Equal(t, "Search", msg.Changes[1].ServiceName)
}
