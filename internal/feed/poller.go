package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bissquit/statuspage-web/internal/backend"
	"github.com/bissquit/statuspage-web/internal/domain"
	"github.com/bissquit/statuspage-web/internal/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// Source is what the poller reads.
type Source interface {
	ListServices(ctx context.Context) ([]domain.Service, error)
	ListIncidents(ctx context.Context) ([]domain.Incident, error)
}

// Poller periodically snapshots the backend and publishes differences.
type Poller struct {
	source   Source
	interval time.Duration
	sinks    []Sink
	now      func() time.Time

	mu       sync.Mutex
	snapshot *Snapshot

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPoller creates a poller. Sinks are called in order after every poll
// that found changes.
func NewPoller(source Source, interval time.Duration, sinks ...Sink) *Poller {
	return &Poller{
		source:   source,
		interval: interval,
		sinks:    sinks,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Poll takes one snapshot and publishes the changes since the previous one.
// The first successful poll only records the baseline.
func (p *Poller) Poll(ctx context.Context) ([]Change, error) {
	next, err := p.fetch(backend.WithoutCache(ctx))
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	prev := p.snapshot
	p.snapshot = &next
	p.mu.Unlock()

	if prev == nil {
		slog.Debug("feed baseline recorded",
			"services", len(next.Services),
			"incidents", len(next.Incidents),
		)
		return nil, nil
	}

	changes := Diff(*prev, next, p.now())
	if len(changes) == 0 {
		return nil, nil
	}

	for _, c := range changes {
		metrics.FeedChanges.WithLabelValues(string(c.Kind)).Inc()
	}
	slog.Info("status changes detected", "count", len(changes))

	for _, sink := range p.sinks {
		sink.Publish(ctx, changes)
	}
	return changes, nil
}

func (p *Poller) fetch(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		snap.Services, err = p.source.ListServices(ctx)
		return err
	})
	g.Go(func() (err error) {
		snap.Incidents, err = p.source.ListIncidents(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, fmt.Errorf("poll backend: %w", err)
	}
	return snap, nil
}

// Start polls immediately and then every interval until Stop or ctx is done.
func (p *Poller) Start(ctx context.Context) {
	slog.Info("starting feed poller", "interval", p.interval)

	p.wg.Add(1)
	go p.run(ctx)
}

// Stop stops polling and waits for an in-flight poll.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	slog.Info("feed poller stopped")
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	p.pollOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	if _, err := p.Poll(ctx); err != nil {
		slog.Warn("feed poll failed", "error", err)
	}
}
