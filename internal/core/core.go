// Package core wires the stores, the sync engine and its supporting
// services into one instance per tenant.
//
// A Core owns everything it builds: there are no package-level singletons,
// so several cores (one per data directory) can run in the same process.
package core

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kimhsiao/fieldsync/backend/internal/blob"
	"github.com/kimhsiao/fieldsync/backend/internal/config"
	"github.com/kimhsiao/fieldsync/backend/internal/connectivity"
	"github.com/kimhsiao/fieldsync/backend/internal/db"
	"github.com/kimhsiao/fieldsync/backend/internal/errors"
	"github.com/kimhsiao/fieldsync/backend/internal/events"
	"github.com/kimhsiao/fieldsync/backend/internal/logging"
	"github.com/kimhsiao/fieldsync/backend/internal/media"
	"github.com/kimhsiao/fieldsync/backend/internal/remote"
	"github.com/kimhsiao/fieldsync/backend/internal/store"
	syncpkg "github.com/kimhsiao/fieldsync/backend/internal/sync"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/handlers"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/queue"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/scheduler"
)

// Core is a running sync core for one organization.
type Core struct {
	cfg    *config.Config
	logger *logging.Logger
	now    func() time.Time

	db        *db.DB
	blobs     *blob.Store
	urls      *blob.URLs
	queue     *queue.Queue
	store     *store.Store
	bus       *events.Bus
	client    *remote.Client
	monitor   connectivity.Monitor
	runners   []func(ctx context.Context) error
	engine    *syncpkg.SyncEngine
	scheduler *scheduler.Scheduler

	mu      sync.Mutex
	runCtx  context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	running bool
	closed  bool
}

type options struct {
	logger     *logging.Logger
	monitor    connectivity.Monitor
	handlers   []syncpkg.Handler
	httpClient *http.Client
	now        func() time.Time
}

// Option configures a Core.
type Option func(*options)

// WithLogger sets the logger. Defaults to the global logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMonitor replaces the connectivity source derived from the config.
func WithMonitor(m connectivity.Monitor) Option {
	return func(o *options) { o.monitor = m }
}

// WithHandlers replaces the remote API handlers.
func WithHandlers(hs ...syncpkg.Handler) Option {
	return func(o *options) { o.handlers = hs }
}

// WithHTTPClient sets the HTTP client used for the remote API.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithClock overrides the time source of every component.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New opens the database in cfg.DataDir, applies migrations and builds
// every component. The returned Core is idle until Start.
func New(cfg *config.Config, opts ...Option) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "invalid configuration", err)
	}
	o := &options{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.Get()
	}
	logger := o.logger.With(map[string]interface{}{"organization_id": cfg.OrganizationID})

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "open database", err)
	}
	if err := db.Migrate(context.Background(), database); err != nil {
		database.Close()
		return nil, err
	}

	c := &Core{
		cfg:    cfg,
		logger: logger.Component("core"),
		now:    o.now,
		db:     database,
		urls:   blob.NewURLs(),
		bus:    events.New(events.WithLogger(logger), events.WithClock(o.now)),
	}
	c.blobs = blob.New(database.DB,
		blob.WithThumbnailer(media.NewThumbnailer(cfg.ThumbnailSize)),
		blob.WithLogger(logger.Component("blob")),
		blob.WithClock(o.now))
	c.queue = queue.New(database.DB,
		queue.WithMaxIntentos(cfg.MaxIntentos),
		queue.WithLogger(logger.Component("queue")),
		queue.WithClock(o.now))
	c.store = store.New(database, c.blobs, c.queue,
		store.WithLogger(logger.Component("store")),
		store.WithClock(o.now))

	if strings.TrimSpace(cfg.APIBaseURL) != "" {
		c.client, err = newClient(cfg, o.httpClient)
		if err != nil {
			database.Close()
			return nil, err
		}
	}

	c.monitor = o.monitor
	if c.monitor == nil {
		c.monitor = c.defaultMonitor(logger)
	}

	hs := o.handlers
	if hs == nil && c.client != nil {
		hs = handlers.All(c.client, c.store, c.blobs)
	}
	if len(hs) == 0 {
		c.logger.Warn("Remote API not configured, entities will stay queued")
	}

	c.engine = syncpkg.NewSyncEngine(cfg.OrganizationID, c.queue, c.store,
		syncpkg.WithMonitor(c.monitor),
		syncpkg.WithEvents(c.bus),
		syncpkg.WithLogger(logger),
		syncpkg.WithClock(o.now),
		syncpkg.WithHandlers(hs...))

	c.scheduler = scheduler.NewScheduler(c.engine, c.queue, c, &scheduler.SchedulerConfig{
		OrganizationID:  cfg.OrganizationID,
		SyncInterval:    cfg.SyncInterval,
		CleanupInterval: cfg.CleanupInterval,
		RetentionDays:   cfg.RetentionDays,
		Logger:          logger,
	})

	c.logger.Info("Core initialized", map[string]interface{}{
		"data_dir": cfg.DataDir,
		"db_path":  database.Path(),
		"handlers": len(hs),
	})
	return c, nil
}

func newClient(cfg *config.Config, hc *http.Client) (*remote.Client, error) {
	opts := []remote.Option{remote.WithTimeout(cfg.RequestTimeout)}
	if hc != nil {
		opts = append(opts, remote.WithHTTPClient(hc))
	}
	if cfg.APIToken != "" {
		opts = append(opts, remote.WithBearerToken(cfg.APIToken))
	}
	if cfg.DeviceID != "" {
		opts = append(opts, remote.WithHeader("X-Device-Id", cfg.DeviceID))
	}
	return remote.New(cfg.APIBaseURL, opts...)
}

// defaultMonitor picks the connectivity source: a signal file written by
// the platform shell when configured, else a health probe of the remote
// API, else a monitor that stays offline.
func (c *Core) defaultMonitor(logger *logging.Logger) connectivity.Monitor {
	if c.cfg.ConnectivityFile != "" {
		f := connectivity.NewFileSignal(c.cfg.ConnectivityFile, logger)
		c.runners = append(c.runners, f.Run)
		return f
	}
	if c.client != nil {
		p := connectivity.NewProbe(c.client, c.cfg.ProbePath, c.cfg.ProbeInterval, logger)
		c.runners = append(c.runners, p.Run)
		return p
	}
	return connectivity.NewManual(false)
}

// Start resets entities left in syncing by a previous run, then starts
// connectivity watching, the engine and the scheduler. It returns once
// everything is running; background work uses ctx.
func (c *Core) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New(errors.ErrConflict, "core is shut down")
	}
	if c.running {
		return errors.New(errors.ErrConflict, "core is already running")
	}

	if _, err := c.store.RecoverInFlight(ctx, c.cfg.OrganizationID); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	for _, run := range c.runners {
		run := run
		group.Go(func() error { return run(groupCtx) })
	}
	c.engine.Start(groupCtx)
	c.scheduler.Start(groupCtx)

	c.runCtx = groupCtx
	c.cancel = cancel
	c.group = group
	c.running = true

	c.logger.Info("Core started", map[string]interface{}{"online": c.monitor.Online()})
	return nil
}

// Wait blocks until the background goroutines return and reports the first
// error one of them failed with.
func (c *Core) Wait() error {
	c.mu.Lock()
	group := c.group
	c.mu.Unlock()
	if group == nil {
		return nil
	}
	if err := group.Wait(); err != nil && !stderrors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Shutdown stops background work, waits for it up to ctx's deadline and
// closes the database. It is safe to call more than once.
func (c *Core) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	running := c.running
	c.running = false
	cancel := c.cancel
	c.mu.Unlock()

	if running {
		cancel()

		done := make(chan error, 1)
		go func() {
			c.scheduler.Stop()
			c.engine.Stop()
			done <- c.Wait()
		}()
		select {
		case err := <-done:
			if err != nil {
				c.logger.Error("Background task failed", err)
			}
		case <-ctx.Done():
			c.logger.Warn("Shutdown deadline reached before background tasks returned")
		}
	}

	c.urls.RevokeAll()
	if err := c.db.Close(); err != nil {
		return errors.Wrap(errors.ErrDatabase, "close database", err)
	}
	c.logger.Info("Core shut down")
	return nil
}

// Running reports whether Start succeeded and Shutdown has not been called.
func (c *Core) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// kick asks for a background drain if the core runs and the API is reachable.
func (c *Core) kick() {
	c.mu.Lock()
	ctx, running := c.runCtx, c.running
	c.mu.Unlock()
	if running && c.monitor.Online() {
		c.scheduler.TriggerSync(ctx)
	}
}

// RefreshConnectivity re-checks reachability once and returns the result.
// One-shot commands use it in place of the background watchers.
func (c *Core) RefreshConnectivity(ctx context.Context) bool {
	switch m := c.monitor.(type) {
	case *connectivity.Probe:
		return m.Check(ctx)
	case *connectivity.FileSignal:
		return m.Refresh()
	}
	return c.monitor.Online()
}

// Config returns the configuration the core was built with.
func (c *Core) Config() *config.Config { return c.cfg }

// Store returns the entity store.
func (c *Core) Store() *store.Store { return c.store }

// Engine returns the sync engine.
func (c *Core) Engine() *syncpkg.SyncEngine { return c.engine }

// Events returns the event bus.
func (c *Core) Events() *events.Bus { return c.bus }

// Monitor returns the connectivity source.
func (c *Core) Monitor() connectivity.Monitor { return c.monitor }

func (c *Core) String() string {
	return fmt.Sprintf("core(%s, %s)", c.cfg.OrganizationID, c.db.Path())
}
