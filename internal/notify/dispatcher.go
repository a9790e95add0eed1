package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bissquit/statuspage-web/internal/feed"
	"github.com/bissquit/statuspage-web/internal/pkg/metrics"
)

// Config contains dispatcher configuration.
type Config struct {
	QueueSize         int
	Workers           int
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultConfig returns default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		QueueSize:         100,
		Workers:           2,
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        1 * time.Minute,
		BackoffMultiplier: 2.0,
	}
}

type job struct {
	sender       Sender
	notification Notification
}

// Dispatcher renders changes and delivers them to every sender from a
// bounded queue. Publishing never blocks: when the queue is full the
// notification is dropped and counted.
type Dispatcher struct {
	config   Config
	renderer *Renderer
	senders  []Sender
	queue    chan job

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Zero config values fall back to DefaultConfig.
func NewDispatcher(config Config, renderer *Renderer, senders ...Sender) *Dispatcher {
	def := DefaultConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = def.QueueSize
	}
	if config.Workers <= 0 {
		config.Workers = def.Workers
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = def.InitialBackoff
	}
	if config.MaxBackoff < config.InitialBackoff {
		config.MaxBackoff = max(def.MaxBackoff, config.InitialBackoff)
	}
	if config.BackoffMultiplier < 1 {
		config.BackoffMultiplier = def.BackoffMultiplier
	}

	return &Dispatcher{
		config:   config,
		renderer: renderer,
		senders:  senders,
		queue:    make(chan job, config.QueueSize),
		stopCh:   make(chan struct{}),
	}
}

// Publish queues the changes for every sender.
func (d *Dispatcher) Publish(_ context.Context, changes []feed.Change) {
	for _, c := range changes {
		n, err := d.renderer.Render(c)
		if err != nil {
			slog.Error("failed to render notification", "kind", c.Kind, "error", err)
			for _, s := range d.senders {
				metrics.NotificationsSent.WithLabelValues(s.Channel(), "failed").Inc()
			}
			continue
		}

		for _, s := range d.senders {
			select {
			case d.queue <- job{sender: s, notification: n}:
			default:
				slog.Warn("notification queue full, dropping",
					"channel", s.Channel(),
					"subject", n.Subject,
				)
				metrics.NotificationsSent.WithLabelValues(s.Channel(), "dropped").Inc()
			}
		}
	}
}

// Start launches worker goroutines.
func (d *Dispatcher) Start(ctx context.Context) {
	slog.Info("starting notification dispatcher",
		"workers", d.config.Workers,
		"queue_size", d.config.QueueSize,
		"senders", len(d.senders),
	)

	for i := 0; i < d.config.Workers; i++ {
		d.wg.Add(1)
		go d.run(ctx, i)
	}
}

// Stop stops the workers and waits for in-flight deliveries.
// Notifications still queued are discarded.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()
	slog.Info("notification dispatcher stopped", "discarded", len(d.queue))
}

func (d *Dispatcher) run(ctx context.Context, workerID int) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case j := <-d.queue:
			d.deliver(ctx, workerID, j)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, workerID int, j job) {
	channel := j.sender.Channel()

	for attempt := 1; ; attempt++ {
		start := time.Now()
		err := j.sender.Send(ctx, j.notification)
		if err == nil {
			metrics.NotificationsSent.WithLabelValues(channel, "success").Inc()
			slog.Debug("notification sent",
				"worker", workerID,
				"channel", channel,
				"attempt", attempt,
				"duration", time.Since(start),
			)
			return
		}

		slog.Warn("send failed",
			"worker", workerID,
			"channel", channel,
			"attempt", attempt,
			"max_attempts", d.config.MaxAttempts,
			"error", err,
		)

		if !IsRetryable(err) || attempt >= d.config.MaxAttempts {
			metrics.NotificationsSent.WithLabelValues(channel, "failed").Inc()
			slog.Error("failed to send notification",
				"channel", channel,
				"subject", j.notification.Subject,
				"error", err,
			)
			return
		}

		metrics.NotificationsSent.WithLabelValues(channel, "retry").Inc()
		if !d.wait(ctx, d.backoff(attempt)) {
			metrics.NotificationsSent.WithLabelValues(channel, "failed").Inc()
			return
		}
	}
}

// wait sleeps for delay unless the dispatcher stops first.
func (d *Dispatcher) wait(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-d.stopCh:
		return false
	}
}

// backoff returns the delay before retry number attempt.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	backoff := float64(d.config.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= d.config.BackoffMultiplier
	}

	if backoff > float64(d.config.MaxBackoff) {
		backoff = float64(d.config.MaxBackoff)
	}

	return time.Duration(backoff)
}
