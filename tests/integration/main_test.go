//go:build integration

package integration

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bissquit/statuspage-web/internal/app"
	"github.com/bissquit/statuspage-web/internal/config"
	"github.com/bissquit/statuspage-web/internal/testutil"
	"github.com/stretchr/testify/require"
)

// stack is a running web app in front of a contract-checked fake backend.
type stack struct {
	app     *app.App
	backend *testutil.FakeBackend
	server  *httptest.Server
	client  *testutil.Client
}

func newStack(t *testing.T) *stack {
	t.Helper()

	fake := testutil.NewFakeBackend(t)

	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "0"
	cfg.Server.MetricsPort = "0"
	cfg.Server.PublicURL = "https://status.example.com"
	cfg.Backend.URL = fake.URL()
	cfg.Log.Level = "error"
	cfg.Log.Format = "text"
	require.NoError(t, cfg.Validate())

	a, err := app.New(&cfg)
	require.NoError(t, err)

	server := httptest.NewServer(a.Router())
	t.Cleanup(func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})

	return &stack{
		app:     a,
		backend: fake,
		server:  server,
		client:  testutil.NewClient(server.URL),
	}
}

func (s *stack) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http") + path
}
