// Package app builds the client's object graph from a Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/fedsync/libs/auth"
	"github.com/md-rashed-zaman/fedsync/libs/db"
	"github.com/md-rashed-zaman/fedsync/libs/grpcx"
	"github.com/md-rashed-zaman/fedsync/libs/httpx"
	"github.com/md-rashed-zaman/fedsync/libs/kafkax"
	"github.com/md-rashed-zaman/fedsync/libs/runtime"
	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/cache"
	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/connectivity"
	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/docstore"
	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/outbox"
	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/prefs"
	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/push"
	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/repository"
	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/session"
	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/state"
	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/statusapi"
)

// App owns every long-lived component. There is exactly one per process.
type App struct {
	Config  Config
	Logger  *slog.Logger
	Prefs   *prefs.Store
	Backend docstore.Store
	Store   *cache.Backend
	Monitor *connectivity.Monitor
	Queue   *outbox.Queue
	Flusher *outbox.Flusher
	Repos   *repository.Set
	Session *session.Manager
	Banner  *state.BannerHolder
	Router  *push.Router

	// Out receives local notifications.
	Out io.Writer

	pool    *db.Pool
	ready   []runtime.ReadyCheck
	closers []func() error
}

// New wires the graph. Nothing here needs the network: an offline device
// starts with reads served from the cache and writes queued.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger, Out: os.Stdout}
	if err := a.build(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	store, err := prefs.Open(prefs.Options{Path: cfg.PrefsPath, Passphrase: []byte(cfg.Passphrase), ScryptN: cfg.ScryptN})
	if err != nil {
		return fmt.Errorf("open preferences: %w", err)
	}
	a.Prefs = store

	backend, err := a.openDocstore(ctx)
	if err != nil {
		return err
	}
	a.Backend = backend

	c, err := cache.Open(cache.Config{Driver: cfg.CacheDriver, Path: cfg.CachePath, RedisURL: cfg.RedisURL, Prefix: cfg.CachePrefix})
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	a.closers = append(a.closers, c.Close)
	a.Store = cache.NewBackend(backend, c, a.Logger)

	probe, err := a.buildProbe()
	if err != nil {
		return err
	}
	a.Monitor = connectivity.NewMonitor(probe, a.Logger, connectivity.Config{Interval: cfg.ProbeInterval, Timeout: cfg.ProbeTimeout})
	if probe == nil {
		// Without probes the backend is assumed reachable and failed calls
		// fall back to the queue on their own.
		a.Monitor.Set(true)
	}

	a.Queue = outbox.NewQueue(a.Prefs, outbox.NewDocumentReplayer(a.Store), a.Logger, outbox.Config{MaxAttempts: cfg.MaxAttempts})
	a.Flusher = outbox.NewFlusher(a.Queue, a.Monitor, a.Logger, outbox.FlusherConfig{Interval: cfg.SyncInterval})
	a.Repos = repository.NewSet(repository.Deps{Store: a.Store, Queue: a.Queue, Conn: a.Monitor, Logger: a.Logger})
	a.Banner = state.NewBannerHolder(a.Monitor, a.Queue)

	httpClient := &http.Client{Timeout: 10 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	var verifier session.Verifier
	if cfg.JWKSURL != "" {
		verifier = auth.NewJWKSClient(cfg.JWKSURL, 0, httpClient)
	}
	a.Session = session.NewManager(session.NewClient(cfg.AuthURL, httpClient), a.Prefs, verifier, a.Logger, session.Config{})

	router, err := push.LoadRouter(cfg.RoutesFile)
	if err != nil {
		return err
	}
	a.Router = router

	a.ready = append(a.ready, runtime.ReadyCheck{Name: "backend", Check: a.Backend.Ping})
	if a.pool != nil {
		a.ready = append(a.ready, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(a.pool)})
	}
	if cfg.KafkaBrokers != "" {
		a.ready = append(a.ready, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers, cfg.KafkaTopic)})
	}
	return nil
}

func (a *App) openDocstore(ctx context.Context) (docstore.Store, error) {
	if a.Config.Docstore == DocstoreMemory {
		return docstore.NewMemory(), nil
	}
	pool, err := db.Open(ctx, a.Config.DatabaseURL, db.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}
	a.pool = pool
	a.closers = append(a.closers, func() error { pool.Close(); return nil })

	pg := docstore.NewPostgres(pool, a.Logger)
	if a.Config.EnsureSchema {
		if err := pg.EnsureSchema(ctx); err != nil {
			a.Logger.Warn("schema check skipped", "err", err)
		}
	}
	return pg, nil
}

func (a *App) buildProbe() (connectivity.Probe, error) {
	kinds, err := connectivity.ParseKinds(a.Config.Probes)
	if err != nil {
		return nil, err
	}
	var probes []connectivity.Probe
	for _, kind := range kinds {
		switch kind {
		case connectivity.ProbeDB:
			probes = append(probes, connectivity.DBProbe(a.Backend))
		case connectivity.ProbeGRPC:
			conn, err := grpcx.Dial(a.Config.GRPCHealthAddr, grpcx.DialOptions{})
			if err != nil {
				return nil, fmt.Errorf("grpc health client: %w", err)
			}
			a.closers = append(a.closers, conn.Close)
			probes = append(probes, connectivity.GRPCHealthProbe(conn, a.Config.GRPCHealthService))
		case connectivity.ProbeHTTP:
			probes = append(probes, connectivity.HTTPProbe(a.Config.HealthURL, nil))
		}
	}
	switch len(probes) {
	case 0:
		return nil, nil
	case 1:
		return probes[0], nil
	}
	return connectivity.All(probes...), nil
}

// StatusHandler is the loopback status API.
func (a *App) StatusHandler() http.Handler {
	h := statusapi.NewHandler(a.Monitor, a.Queue, a.Logger)
	return statusapi.NewRouter(h, a.Logger, statusapi.RouterConfig{
		CORS: httpx.CORSPolicy{
			AllowedOrigins: a.Config.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
			AllowedHeaders: []string{"Content-Type", httpx.RequestIDHeader},
		},
		ReadyChecks: a.ready,
	})
}

// PushConsumer returns nil when no brokers are configured.
func (a *App) PushConsumer() *push.Consumer {
	if a.Config.KafkaBrokers == "" {
		return nil
	}
	reader := kafkax.NewReader(kafkax.ReaderConfig{
		Brokers: a.Config.KafkaBrokers,
		GroupID: a.Config.KafkaGroupID,
		Topic:   a.Config.KafkaTopic,
	})
	dispatcher := push.NewDispatcher(a.Router, push.NewTerminalNotifier(a.Out), a.Prefs.NotificationsEnabled, a.Logger)
	return push.NewConsumer(a.Logger, push.NewPrefsInbox(a.Prefs, 0), reader, dispatcher.Handle)
}

// Run is the daemon: it probes connectivity, flushes the queue on
// reconnect, consumes pushes and serves the status API until ctx is done.
func (a *App) Run(ctx context.Context) error {
	go a.Monitor.Run(ctx)
	go a.Flusher.Run(ctx)
	go a.Banner.Run(ctx)
	if c := a.PushConsumer(); c != nil {
		go c.Run(ctx)
	} else {
		a.Logger.Info("push notifications disabled, no brokers configured")
	}

	if a.Config.StatusAddr == "" {
		<-ctx.Done()
		return nil
	}
	srv := &http.Server{
		Addr:              a.Config.StatusAddr,
		Handler:           a.StatusHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("status api starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("status api: %w", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error("status api shutdown error", "err", err)
	}
	a.Logger.Info("status api stopped")
	return nil
}

// Close releases everything New opened, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
