// Package app wires the status page together and manages its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bissquit/statuspage-web/internal/backend"
	"github.com/bissquit/statuspage-web/internal/config"
	"github.com/bissquit/statuspage-web/internal/feed"
	"github.com/bissquit/statuspage-web/internal/notify"
	"github.com/bissquit/statuspage-web/internal/notify/email"
	"github.com/bissquit/statuspage-web/internal/notify/mattermost"
	"github.com/bissquit/statuspage-web/internal/notify/slack"
	"github.com/bissquit/statuspage-web/internal/pkg/ctxlog"
	"github.com/bissquit/statuspage-web/internal/pkg/httputil"
	"github.com/bissquit/statuspage-web/internal/routes"
	"github.com/bissquit/statuspage-web/internal/version"
	"github.com/bissquit/statuspage-web/internal/views"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	backend       *backend.Client
	table         *routes.Table
	server        *http.Server
	metricsServer *http.Server

	hub        *feed.Hub
	poller     *feed.Poller
	dispatcher *notify.Dispatcher
	workerCtx  context.Context
	cancel     context.CancelFunc
}

// New creates a new application instance. Nothing is started until Run.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	client, err := backend.New(backend.Config{
		BaseURL:   cfg.Backend.URL,
		Timeout:   cfg.Backend.Timeout,
		RateLimit: cfg.Backend.RateLimit,
		Burst:     cfg.Backend.Burst,
		CacheTTL:  cfg.Backend.CacheTTL,
		CacheSize: cfg.Backend.CacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("create backend client: %w", err)
	}

	workerCtx, cancel := context.WithCancel(context.Background())

	app := &App{
		config:    cfg,
		logger:    logger,
		backend:   client,
		workerCtx: workerCtx,
		cancel:    cancel,
	}

	if err := app.setupFeed(); err != nil {
		cancel()
		client.Close()
		return nil, fmt.Errorf("setup feed: %w", err)
	}

	router, err := app.setupRouter()
	if err != nil {
		cancel()
		client.Close()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Run starts the background workers and the HTTP servers. It returns when
// the main server stops.
func (a *App) Run() error {
	if a.dispatcher != nil {
		a.dispatcher.Start(a.workerCtx)
	}
	if a.poller != nil {
		a.poller.Start(a.workerCtx)
	}

	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
		"backend", a.config.Backend.URL,
		"version", version.Version,
	)

	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	// The poller feeds the dispatcher, so it stops first.
	if a.poller != nil {
		a.poller.Stop()
	}
	if a.dispatcher != nil {
		a.dispatcher.Stop()
	}
	a.cancel()
	if a.hub != nil {
		a.hub.Close()
	}

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	a.backend.Close()

	return errors.Join(errs...)
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Routes returns the page route table.
func (a *App) Routes() *routes.Table {
	return a.table
}

// Hub returns the live feed hub. Nil when the feed is disabled.
func (a *App) Hub() *feed.Hub {
	return a.hub
}

// Poller returns the change poller. Nil when neither the feed nor
// notifications are enabled.
func (a *App) Poller() *feed.Poller {
	return a.poller
}

func (a *App) setupFeed() error {
	var sinks []feed.Sink

	if a.config.Feed.Enabled {
		a.hub = feed.NewHub(feed.HubConfig{
			ClientBuffer:   a.config.Feed.ClientBuffer,
			AllowedOrigins: a.config.CORS.AllowedOrigins,
		})
		sinks = append(sinks, a.hub)
	}

	slog.Info("notifications configured",
		"enabled", a.config.Notifications.Enabled,
		"slack_enabled", a.config.Notifications.Slack.WebhookURL != "",
		"mattermost_enabled", a.config.Notifications.Mattermost.WebhookURL != "",
		"email_enabled", a.config.Notifications.Email.Active(),
	)

	if a.config.NotificationsActive() {
		dispatcher, err := a.setupNotifications()
		if err != nil {
			return err
		}
		a.dispatcher = dispatcher
		sinks = append(sinks, dispatcher)
	} else if a.config.Notifications.Enabled {
		slog.Warn("notifications are enabled but no webhook is configured: nothing will be sent")
	}

	if len(sinks) > 0 {
		a.poller = feed.NewPoller(a.backend, a.config.Feed.PollInterval, sinks...)
	}
	return nil
}

func (a *App) setupNotifications() (*notify.Dispatcher, error) {
	cfg := a.config.Notifications

	renderer, err := notify.NewRenderer(a.config.Server.PublicURL)
	if err != nil {
		return nil, fmt.Errorf("create notification renderer: %w", err)
	}

	var senders []notify.Sender
	if cfg.Slack.WebhookURL != "" {
		sender, err := slack.NewSender(slack.Config{
			WebhookURL: cfg.Slack.WebhookURL,
			Channel:    cfg.Slack.Channel,
			Username:   cfg.Slack.Username,
		})
		if err != nil {
			return nil, fmt.Errorf("create slack sender: %w", err)
		}
		senders = append(senders, sender)
	}
	if cfg.Mattermost.WebhookURL != "" {
		sender, err := mattermost.NewSender(mattermost.Config{
			WebhookURL: cfg.Mattermost.WebhookURL,
			Username:   cfg.Mattermost.Username,
			IconURL:    cfg.Mattermost.IconURL,
			Timeout:    cfg.Mattermost.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("create mattermost sender: %w", err)
		}
		senders = append(senders, sender)
	}
	if cfg.Email.Active() {
		sender, err := email.NewSender(email.Config{
			SMTPHost:     cfg.Email.SMTPHost,
			SMTPPort:     cfg.Email.SMTPPort,
			SMTPUser:     cfg.Email.SMTPUser,
			SMTPPassword: cfg.Email.SMTPPassword,
			FromAddress:  cfg.Email.FromAddress,
			Recipients:   cfg.Email.Recipients,
			BatchSize:    cfg.Email.BatchSize,
		})
		if err != nil {
			return nil, fmt.Errorf("create email sender: %w", err)
		}
		senders = append(senders, sender)
	}

	return notify.NewDispatcher(notify.Config{
		QueueSize:      cfg.QueueSize,
		Workers:        cfg.Workers,
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
	}, renderer, senders...), nil
}

func (a *App) setupRouter() (*chi.Mux, error) {
	set, err := views.NewSet(a.backend, views.Options{
		SiteTitle:      a.config.Site.Title,
		LiveFeed:       a.hub != nil,
		ResolvedWindow: a.config.Site.ResolvedWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("create views: %w", err)
	}

	table, err := routes.DefaultRoutes(set)
	if err != nil {
		return nil, fmt.Errorf("build route table: %w", err)
	}
	set.UseRoutes(table)
	a.table = table

	actions, err := set.NewAdminActions(a.backend, table)
	if err != nil {
		return nil, fmt.Errorf("create admin actions: %w", err)
	}

	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.EchoRequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	// The websocket outlives any request timeout.
	if a.hub != nil {
		r.Get("/live", a.hub.ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(a.config.Server.RequestTimeout))

		r.Handle("/static/*", set.Static())
		actions.Mount(r)
		table.Mount(r, set.LoadFailed)
	})

	return r, nil
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.backend.Health(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Backend unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, version.Get())
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
