package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/nats-io/nats.go"

	"conveyor/internal/bus"
	"conveyor/internal/config"
	"conveyor/internal/db"
	"conveyor/internal/ingest"
	"conveyor/internal/logging"
	"conveyor/internal/notify"
	"conveyor/internal/queue"
	"conveyor/internal/services/mediaconvert"
	"conveyor/internal/store"
	"conveyor/internal/worker"
	"conveyor/internal/workflow"
)

// Daemon owns the long-running pipeline: bus subscription, worker pool, and
// status API. A file lock enforces a single instance per data directory.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	database *db.DB
	store    *store.Store
	queue    *queue.Queue
	listener *ingest.Listener
	pool     *worker.Pool
	notifier notify.Service

	busClient *bus.Client
	sub       *nats.Subscription

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status is the daemon runtime snapshot served by the API and CLI.
type Status struct {
	Running      bool                `json:"running"`
	QueueDepth   int                 `json:"queueDepth"`
	Jobs         store.HealthSummary `json:"jobs"`
	DatabasePath string              `json:"databasePath"`
	LockFilePath string              `json:"lockFilePath"`
}

// New wires the daemon from configuration. The bus connection is optional:
// without one, ingestion happens only through the CLI and API, and completion
// events are dropped.
func New(cfg *config.Config, database *db.DB, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || database == nil {
		return nil, errors.New("daemon requires config and database")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	st := store.New(database)
	q := queue.New(database)

	var busClient *bus.Client
	if cfg.Bus.URL != "" {
		client, err := bus.Connect(cfg.Bus.URL)
		if err != nil {
			return nil, fmt.Errorf("connect bus: %w", err)
		}
		busClient = client
	}

	var publisher notify.EventPublisher
	if busClient != nil {
		publisher = busClient
	}
	notifier := notify.NewService(cfg, publisher)

	converter := mediaconvert.NewHTTPClient(
		cfg.Converter.BaseURL,
		mediaconvert.WithToken(cfg.Converter.Token),
		mediaconvert.WithTimeout(time.Duration(cfg.Converter.RequestTimeout)*time.Second),
	)

	engine := workflow.NewEngine(cfg, st, q, converter, notifier, logger)
	pool := worker.NewPool(cfg, q, engine, notifier, logger)
	listener := ingest.New(st, q, logger)

	lockPath := filepath.Join(cfg.Paths.DataDir, "conveyord.lock")
	d := &Daemon{
		cfg:       cfg,
		logger:    logger.With(logging.String(logging.FieldComponent, "daemon")),
		database:  database,
		store:     st,
		queue:     q,
		listener:  listener,
		pool:      pool,
		notifier:  notifier,
		busClient: busClient,
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the instance lock and launches the pool, bus subscription,
// and API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another conveyor daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if d.busClient != nil {
		sub, err := d.listener.Subscribe(d.busClient, d.cfg.Bus.InputSubject)
		if err != nil {
			cancel()
			_ = d.lock.Unlock()
			return fmt.Errorf("subscribe %s: %w", d.cfg.Bus.InputSubject, err)
		}
		d.sub = sub
		d.logger.Info("listening for requests",
			logging.String("subject", d.cfg.Bus.InputSubject))
	}

	if d.api != nil {
		if err := d.api.start(runCtx); err != nil {
			d.unsubscribe()
			cancel()
			_ = d.lock.Unlock()
			return err
		}
	}

	d.pool.Start(runCtx)
	d.running.Store(true)
	d.logger.Info("conveyor daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop shuts everything down in reverse order and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.unsubscribe()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.pool.Wait()
	if d.api != nil {
		d.api.stop()
	}
	d.busClient.Close()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("conveyor daemon stopped")
}

// Close stops the daemon and releases the database.
func (d *Daemon) Close() error {
	d.Stop()
	if d.database != nil {
		return d.database.Close()
	}
	return nil
}

// Run starts the daemon and blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	d.Stop()
	return nil
}

// Status reports the daemon runtime snapshot.
func (d *Daemon) Status(ctx context.Context) (Status, error) {
	health, err := d.store.Health(ctx)
	if err != nil {
		return Status{}, err
	}
	depth, err := d.queue.Depth(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Running:      d.running.Load(),
		QueueDepth:   depth,
		Jobs:         health,
		DatabasePath: d.cfg.DatabasePath(),
		LockFilePath: d.lockPath,
	}, nil
}

// APIAddr returns the bound status API address, or empty when disabled.
func (d *Daemon) APIAddr() string {
	if d.api == nil {
		return ""
	}
	return d.api.addr()
}

func (d *Daemon) unsubscribe() {
	if d.sub != nil {
		_ = d.sub.Drain()
		d.sub = nil
	}
}
