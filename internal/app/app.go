// Package app wires the long-lived services one collector process needs and
// runs jobs against them.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/lawdata-collector/internal/api"
	"github.com/JakeFAU/lawdata-collector/internal/apiclient"
	"github.com/JakeFAU/lawdata-collector/internal/clock/system"
	"github.com/JakeFAU/lawdata-collector/internal/collector"
	"github.com/JakeFAU/lawdata-collector/internal/config"
	"github.com/JakeFAU/lawdata-collector/internal/hash/sha256"
	"github.com/JakeFAU/lawdata-collector/internal/id/uuid"
	"github.com/JakeFAU/lawdata-collector/internal/jobs"
	"github.com/JakeFAU/lawdata-collector/internal/metrics"
	"github.com/JakeFAU/lawdata-collector/internal/publisher/pubsub"
	"github.com/JakeFAU/lawdata-collector/internal/storage/gcs"
	"github.com/JakeFAU/lawdata-collector/internal/storage/local"
	"github.com/JakeFAU/lawdata-collector/internal/storage/postgres"
	"github.com/JakeFAU/lawdata-collector/internal/storage/sqlite"
	"github.com/JakeFAU/lawdata-collector/internal/worker"
)

const startupPingTimeout = 10 * time.Second

// Store is a record store that also keeps the run ledger.
type Store interface {
	collector.Store
	collector.RunLedger
	Migrate(ctx context.Context) error
}

// App holds the services shared by every command.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store     Store
	blobStore collector.BlobStore
	publisher collector.Publisher
	hasher    collector.Hasher
	clock     collector.Clock
	ids       collector.IDGenerator

	registry *prometheus.Registry
	recorder *metrics.Recorder
	board    *api.RunBoard

	httpClient *http.Client
	closers    []namedCloser

	serverCancel context.CancelFunc
	serverDone   chan struct{}
	closeOnce    sync.Once
}

type namedCloser struct {
	name string
	c    io.Closer
}

// Option customizes New, mostly for tests.
type Option func(*App)

// WithStore replaces the configured database.
func WithStore(s Store) Option {
	return func(a *App) { a.store = s }
}

// WithBlobStore replaces the configured archive.
func WithBlobStore(b collector.BlobStore) Option {
	return func(a *App) { a.blobStore = b }
}

// WithPublisher replaces the configured publisher.
func WithPublisher(p collector.Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// WithClock replaces the wall clock.
func WithClock(c collector.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithIDGenerator replaces the run id generator.
func WithIDGenerator(g collector.IDGenerator) Option {
	return func(a *App) { a.ids = g }
}

// WithHTTPClient sets the HTTP client used by the API clients.
func WithHTTPClient(hc *http.Client) Option {
	return func(a *App) { a.httpClient = hc }
}

// New builds the container. It fails fast when the store cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:      cfg,
		logger:   logger,
		hasher:   sha256.New(),
		clock:    system.New(),
		ids:      uuid.New(),
		registry: prometheus.NewRegistry(),
		board:    api.NewRunBoard(),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec, err := metrics.NewRecorder(a.registry)
	if err != nil {
		return nil, err
	}
	a.recorder = rec

	if err := a.initStore(ctx); err != nil {
		return nil, err
	}
	if err := a.initArchive(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) initStore(ctx context.Context) error {
	if a.store == nil {
		var err error
		switch a.cfg.Database.Driver {
		case "sqlite":
			a.logger.Info("opening sqlite store", zap.String("path", a.cfg.Database.DSN))
			a.store, err = sqlite.Open(ctx, a.cfg.Database.DSN)
		case "postgres", "":
			a.logger.Info("connecting to postgres")
			a.store, err = postgres.NewStore(ctx, postgres.Config{
				DSN:             a.cfg.Database.DSN,
				MaxConns:        a.cfg.Database.MaxConns,
				MinConns:        a.cfg.Database.MinConns,
				MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
			})
		default:
			return fmt.Errorf("unknown database driver %q", a.cfg.Database.Driver)
		}
		if err != nil {
			return fmt.Errorf("init store: %w", err)
		}
	}
	a.closers = append(a.closers, namedCloser{name: "store", c: a.store})

	pingCtx, cancel := context.WithTimeout(ctx, startupPingTimeout)
	defer cancel()
	if err := a.store.Ping(pingCtx); err != nil {
		a.Close()
		return fmt.Errorf("database health check: %w", err)
	}
	return nil
}

func (a *App) initArchive(ctx context.Context) error {
	if a.blobStore != nil {
		return nil
	}
	switch a.cfg.Archive.Provider {
	case "local":
		bs, err := local.New(a.cfg.Archive.LocalDir)
		if err != nil {
			return fmt.Errorf("init local archive: %w", err)
		}
		a.logger.Info("archiving pages locally", zap.String("dir", a.cfg.Archive.LocalDir))
		a.blobStore = bs
	case "gcs":
		bs, err := gcs.New(ctx, a.cfg.Archive.GCSBucket)
		if err != nil {
			return fmt.Errorf("init gcs archive: %w", err)
		}
		a.logger.Info("archiving pages to gcs", zap.String("bucket", a.cfg.Archive.GCSBucket))
		a.blobStore = bs
		a.closers = append(a.closers, namedCloser{name: "archive", c: bs})
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	if a.publisher != nil {
		return nil
	}
	if a.cfg.Publisher.Provider != "pubsub" {
		return nil
	}
	p, err := pubsub.New(ctx, a.cfg.Publisher.ProjectID)
	if err != nil {
		return fmt.Errorf("init publisher: %w", err)
	}
	a.logger.Info("publishing notifications", zap.String("topic", a.cfg.Publisher.Topic))
	a.publisher = p
	a.closers = append(a.closers, namedCloser{name: "publisher", c: p})
	return nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Store returns the record store.
func (a *App) Store() Store {
	return a.store
}

// Registry returns the Prometheus registry served on /metrics.
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// Runs returns the board of runs started by this process.
func (a *App) Runs() *api.RunBoard {
	return a.board
}

// StartServer serves the ops endpoints in the background when metrics.port
// is positive. Close stops it.
func (a *App) StartServer(ctx context.Context) {
	if a.cfg.Metrics.Port <= 0 || a.serverCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	a.serverCancel = cancel
	a.serverDone = make(chan struct{})
	srv := api.NewServer(a.store, a.registry, a.board, a.logger.Named("api"))
	addr := ":" + strconv.Itoa(a.cfg.Metrics.Port)
	go func() {
		defer close(a.serverDone)
		if err := api.Serve(ctx, addr, srv.Handler(), a.logger); err != nil {
			a.logger.Error("ops server failed", zap.Error(err))
		}
	}()
}

// Migrate applies the record and ledger schema.
func (a *App) Migrate(ctx context.Context) error {
	if err := a.store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate %s: %w", a.cfg.Database.Driver, err)
	}
	a.logger.Info("schema applied", zap.String("driver", a.cfg.Database.Driver))
	return nil
}

// NewJob builds the job definition for name.
func (a *App) NewJob(name collector.JobName) (collector.Job, config.APIConfig, error) {
	switch name {
	case collector.JobLaws:
		return jobs.NewLaws(a.cfg.Laws), a.cfg.Laws, nil
	case collector.JobPrecedents:
		return jobs.NewPrecedents(a.cfg.Precedents), a.cfg.Precedents, nil
	default:
		return nil, config.APIConfig{}, fmt.Errorf("unknown job %q", name)
	}
}

func (a *App) newClient(apiCfg config.APIConfig) (*apiclient.Client, error) {
	opts := []apiclient.Option{
		apiclient.WithObserver(a.recorder),
		apiclient.WithLogger(a.logger.Named("apiclient")),
	}
	if a.httpClient != nil {
		opts = append(opts, apiclient.WithHTTPClient(a.httpClient))
	}
	client, err := apiclient.New(apiclient.Config{
		BaseURL:       apiCfg.BaseURL,
		DefaultParams: jobs.DefaultParams(apiCfg),
		UserAgent:     apiCfg.UserAgent,
		Timeout:       apiCfg.Timeout(),
		RPS:           apiCfg.RateLimitRPS,
		Retry: apiclient.RetryPolicy{
			MaxAttempts: a.cfg.HTTP.MaxRetries,
			BaseDelay:   seconds(a.cfg.HTTP.BackoffSeconds),
			MaxDelay:    seconds(a.cfg.HTTP.MaxBackoffSeconds),
		},
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("build api client: %w", err)
	}
	return client, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// RunJob executes one ingestion run of the named job and records it in the
// ledger. The returned RunRecord carries the final status and stats even when
// err is non-nil.
func (a *App) RunJob(ctx context.Context, name collector.JobName, params collector.RunParams) (collector.RunRecord, error) {
	job, apiCfg, err := a.NewJob(name)
	if err != nil {
		return collector.RunRecord{}, err
	}
	client, err := a.newClient(apiCfg)
	if err != nil {
		return collector.RunRecord{}, err
	}
	runID, err := a.ids.NewID()
	if err != nil {
		return collector.RunRecord{}, err
	}

	run := collector.RunRecord{
		RunID:        runID,
		Job:          name,
		CollectionID: params.CollectionID,
		StartedAt:    a.clock.Now(),
		Status:       collector.RunRunning,
	}
	logger := a.logger.With(
		zap.String("job", string(name)),
		zap.String("run_id", runID),
		zap.String("collection_id", params.CollectionID),
	)
	if err := a.store.StartRun(ctx, run); err != nil {
		return run, fmt.Errorf("start run: %w", err)
	}
	a.board.Record(run)
	a.recorder.RecordRunStart(string(name))
	logger.Info("run started",
		zap.String("query", params.Query),
		zap.Int("start_page", params.StartPage),
		zap.Int("pages", params.Pages),
	)

	w := worker.New(job, client, a.store, a.blobStore, a.publisher, a.hasher, a.clock, worker.Config{
		TransactionMode: a.cfg.Database.TransactionMode,
		ArchivePrefix:   a.cfg.Archive.Prefix,
		Topic:           a.cfg.Publisher.Topic,
	}, a.logger.Named("worker"))
	stats, runErr := w.Run(ctx, params)

	finished := a.clock.Now()
	run.FinishedAt = &finished
	run.Stats = stats
	run.Status = statusFor(runErr)
	if runErr != nil {
		msg := runErr.Error()
		run.ErrorMessage = &msg
	}
	a.recorder.RecordRunEnd(string(name), stats.Collected, stats.Duplicates, stats.Failures)
	a.board.Record(run)

	// The ledger row is closed even when the run was canceled.
	if err := a.store.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		logger.Error("failed to finish run ledger entry", zap.Error(err))
		if runErr == nil {
			runErr = fmt.Errorf("finish run: %w", err)
		}
	}

	logger.Info("run finished",
		zap.String("status", string(run.Status)),
		zap.Int("pages", stats.Pages),
		zap.Int("collected", stats.Collected),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("failures", stats.Failures),
		zap.Duration("duration", finished.Sub(run.StartedAt)),
	)
	return run, runErr
}

func statusFor(err error) collector.RunStatus {
	switch {
	case err == nil:
		return collector.RunSucceeded
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return collector.RunCanceled
	default:
		return collector.RunFailed
	}
}

// Close stops the ops server and releases every owned resource in reverse
// order of creation. It is safe to call more than once.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.serverCancel != nil {
			a.serverCancel()
			<-a.serverDone
		}
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i].c.Close(); err != nil {
				a.logger.Warn("close failed", zap.String("resource", a.closers[i].name), zap.Error(err))
			}
		}
		_ = a.logger.Sync()
	})
}
