package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/statuspage-web/internal/feed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSender fails the first failures sends with err.
type fakeSender struct {
	channel  string
	failures int
	err      error

	mu    sync.Mutex
	calls int
	sent  []Notification
}

func (s *fakeSender) Channel() string { return s.channel }

func (s *fakeSender) Send(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.calls <= s.failures {
		return s.err
	}
	s.sent = append(s.sent, n)
	return nil
}

func (s *fakeSender) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *fakeSender) Sent() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notification(nil), s.sent...)
}

var testChanges = []feed.Change{
	{Kind: feed.KindServiceStatus, ServiceName: "API", From: "operational", To: "degraded", At: testAt},
	{Kind: feed.KindIncidentOpened, IncidentID: "i1", Title: "Errors", Impact: "major", To: "investigating", At: testAt},
}

func newTestDispatcher(t *testing.T, config Config, senders ...Sender) *Dispatcher {
	t.Helper()

	renderer, err := NewRenderer("")
	require.NoError(t, err)

	d := NewDispatcher(config, renderer, senders...)
	d.Start(context.Background())
	t.Cleanup(d.Stop)
	return d
}

func fastConfig() Config {
	return Config{
		QueueSize:      10,
		Workers:        1,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func TestDispatcher_FanOut(t *testing.T) {
	slack := &fakeSender{channel: "slack"}
	mattermost := &fakeSender{channel: "mattermost"}
	d := newTestDispatcher(t, fastConfig(), slack, mattermost)

	d.Publish(context.Background(), testChanges)

	for _, s := range []*fakeSender{slack, mattermost} {
		require.Eventually(t, func() bool { return len(s.Sent()) == 2 }, 2*time.Second, 5*time.Millisecond, s.channel)
		assert.Equal(t, "[Degraded] API", s.Sent()[0].Subject)
		assert.Equal(t, "[Incident] Errors", s.Sent()[1].Subject)
	}
}

func TestDispatcher_Retry(t *testing.T) {
	tests := []struct {
		name      string
		sender    *fakeSender
		wantCalls int
		wantSent  int
	}{
		{
			name:      "retryable error then success",
			sender:    &fakeSender{channel: "a", failures: 2, err: NewRetryableError(errors.New("timeout"))},
			wantCalls: 3,
			wantSent:  1,
		},
		{
			name:      "unclassified error is retried",
			sender:    &fakeSender{channel: "b", failures: 1, err: errors.New("boom")},
			wantCalls: 2,
			wantSent:  1,
		},
		{
			name:      "permanent error is not retried",
			sender:    &fakeSender{channel: "c", failures: 5, err: NewPermanentError(errors.New("bad webhook"))},
			wantCalls: 1,
		},
		{
			name:      "gives up after max attempts",
			sender:    &fakeSender{channel: "d", failures: 5, err: NewRetryableError(errors.New("timeout"))},
			wantCalls: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDispatcher(t, fastConfig(), tt.sender)
			d.Publish(context.Background(), testChanges[:1])

			require.Eventually(t, func() bool { return tt.sender.Calls() == tt.wantCalls }, 2*time.Second, 5*time.Millisecond)
			d.Stop()
			assert.Equal(t, tt.wantCalls, tt.sender.Calls())
			assert.Len(t, tt.sender.Sent(), tt.wantSent)
		})
	}
}

func TestDispatcher_DropsWhenQueueFull(t *testing.T) {
	renderer, err := NewRenderer("")
	require.NoError(t, err)

	sender := &fakeSender{channel: "slack"}
	config := fastConfig()
	config.QueueSize = 1
	d := NewDispatcher(config, renderer, sender)

	// Not started, so the second change has nowhere to go.
	d.Publish(context.Background(), testChanges)
	assert.Len(t, d.queue, 1)

	d.Start(context.Background())
	t.Cleanup(d.Stop)

	require.Eventually(t, func() bool { return len(sender.Sent()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "[Degraded] API", sender.Sent()[0].Subject)
}

func TestDispatcher_StopInterruptsBackoff(t *testing.T) {
	sender := &fakeSender{channel: "slack", failures: 10, err: NewRetryableError(errors.New("timeout"))}
	config := fastConfig()
	config.InitialBackoff = time.Hour
	config.MaxBackoff = time.Hour
	d := newTestDispatcher(t, config, sender)

	d.Publish(context.Background(), testChanges[:1])
	require.Eventually(t, func() bool { return sender.Calls() == 1 }, 2*time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		d.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not interrupt the backoff")
	}
	assert.Equal(t, 1, sender.Calls())
}

func TestDispatcher_Backoff(t *testing.T) {
	d := NewDispatcher(Config{
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}, nil)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{100, 10 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, d.backoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"retryable", NewRetryableError(errors.New("x")), true},
		{"permanent", NewPermanentError(errors.New("x")), false},
		{"wrapped permanent", fmtWrap(NewPermanentError(errors.New("x"))), false},
		{"plain error", errors.New("x"), true},
		{"canceled", context.Canceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}

func fmtWrap(err error) error {
	return errors.Join(errors.New("send"), err)
}
