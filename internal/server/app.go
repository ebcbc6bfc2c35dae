// Package server assembles the registry crawler from configuration and runs
// its HTTP surface and job workers.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/registry-crawler/internal/api"
	"github.com/JakeFAU/registry-crawler/internal/clock/system"
	"github.com/JakeFAU/registry-crawler/internal/config"
	"github.com/JakeFAU/registry-crawler/internal/crawler"
	"github.com/JakeFAU/registry-crawler/internal/dispatcher"
	"github.com/JakeFAU/registry-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/registry-crawler/internal/fetcher/colly"
	renderfetcher "github.com/JakeFAU/registry-crawler/internal/fetcher/render"
	"github.com/JakeFAU/registry-crawler/internal/hash/sha256"
	"github.com/JakeFAU/registry-crawler/internal/id/uuid"
	"github.com/JakeFAU/registry-crawler/internal/jobs"
	"github.com/JakeFAU/registry-crawler/internal/logging"
	"github.com/JakeFAU/registry-crawler/internal/metrics"
	"github.com/JakeFAU/registry-crawler/internal/pipeline"
	"github.com/JakeFAU/registry-crawler/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/registry-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/registry-crawler/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/registry-crawler/internal/queue/memory"
	"github.com/JakeFAU/registry-crawler/internal/search"
	gcsstorage "github.com/JakeFAU/registry-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/registry-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/registry-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/registry-crawler/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/registry-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/registry-crawler/internal/telemetry"
	"github.com/JakeFAU/registry-crawler/internal/worker"
)

// Version is stamped into trace resources.
var Version = "dev"

// closer is implemented by fetchers that hold pooled connections.
type closer interface {
	Close()
}

// readiness is implemented by KV backends that can be pinged.
type readiness interface {
	Ping(ctx context.Context) error
}

// App contains the application's dependencies.
type App struct {
	cfg             config.Config
	logger          *zap.Logger
	kv              crawler.KVStore
	jobs            *jobs.Store
	fetcher         closer
	queue           *queuememory.Queue
	dispatch        *dispatcher.Dispatcher
	service         *search.Service
	apiServer       *api.Server
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	storage         *storage.Client
	tracerShutdown  func(context.Context) error
	closeOnce       sync.Once
}

// Build creates the application's dependencies. On error, everything built
// so far is released.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{cfg: cfg, logger: logger}
	if err := app.build(ctx); err != nil {
		app.closeInfrastructure(context.WithoutCancel(ctx))
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger
	var err error

	a.tracerShutdown, err = telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     Version,
		ProjectID:   cfg.Telemetry.ProjectID,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	metrics.Init()

	logger.Info("building application dependencies",
		zap.String("store", cfg.Store.Backend),
		zap.String("provider", cfg.Provider.Kind),
		zap.String("archive", cfg.Archive.Backend),
	)

	if a.kv, err = setupStore(ctx, a); err != nil {
		return err
	}
	a.jobs = jobs.NewStore(a.kv, logger.Named("jobs"))

	fetcher, err := setupFetcher(a)
	if err != nil {
		return err
	}
	archiver, err := setupArchive(ctx, a)
	if err != nil {
		return err
	}
	extractor, err := extract.New(cfg.Registry.BaseURL, cfg.Registry.LinkClass)
	if err != nil {
		return fmt.Errorf("extractor init failed: %w", err)
	}
	pool := pipeline.NewPool(cfg.Pipeline.MaxInFlight, cfg.Pipeline.ParseWorkers)
	pipe := pipeline.New(
		pipeline.Config{BaseURL: cfg.Registry.BaseURL, PerRunParallel: cfg.Pipeline.PerRunParallel},
		pipeline.NewPageFetcher(fetcher, pool, archiver),
		extractor,
		logger.Named("pipeline"),
	)

	publisher, err := setupPublisher(ctx, a)
	if err != nil {
		return err
	}

	a.queue = queuememory.NewQueue(cfg.Jobs.QueueDepth)
	a.dispatch = setupDispatcher(a, pipe, publisher)

	a.service = search.NewService(a.jobs, pipe, a.dispatch, uuid.New(), system.New(), logger.Named("search"))
	a.apiServer = api.NewServer(a.service, api.Options{
		AuthEnabled:    cfg.Auth.Enabled,
		APIKey:         cfg.Auth.APIKey,
		RequestTimeout: cfg.JobTimeout(),
	}, a.ready, logger)

	return nil
}

// Service exposes the search layer for in-process callers such as the CLI.
func (a *App) Service() *search.Service {
	return a.service
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the workers and HTTP server and blocks until the context is
// canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.dispatch.Workers()))
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.queue.Close()
	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not stop before shutdown deadline")
	}

	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return errors.Join(fmt.Errorf("http server: %w", err), closeErr)
	default:
		return closeErr
	}
}

// Close releases every client the application holds. Later calls are no-ops.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		if a.queue != nil {
			a.queue.Close()
		}
		a.closeInfrastructure(ctx)
		a.logger.Info("shutdown complete")
		if err := a.logger.Sync(); err != nil {
			a.logger.Debug("logger sync failed", zap.Error(err))
		}
	})
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.fetcher != nil {
		a.fetcher.Close()
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	switch kv := a.kv.(type) {
	case *pgstore.KVStore:
		kv.Close()
	case *sqlitestore.KVStore:
		if err := kv.Close(); err != nil {
			a.logger.Warn("sqlite store close failed", zap.Error(err))
		}
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}

func (a *App) ready(ctx context.Context) error {
	if r, ok := a.kv.(readiness); ok {
		if err := r.Ping(ctx); err != nil {
			return fmt.Errorf("store not ready: %w", err)
		}
	}
	return nil
}

func setupStore(ctx context.Context, app *App) (crawler.KVStore, error) {
	cfg := app.cfg.Store
	switch cfg.Backend {
	case config.StorePostgres:
		kv, err := pgstore.NewKVStore(ctx, pgstore.Config{
			DSN:             cfg.Postgres.DSN,
			Table:           cfg.Postgres.Table,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: time.Duration(cfg.Postgres.MaxConnLifetimeMinutes) * time.Minute,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		if err := kv.EnsureSchema(ctx); err != nil {
			kv.Close()
			return nil, fmt.Errorf("postgres schema init failed: %w", err)
		}
		app.logger.Info("using postgres store", zap.String("table", cfg.Postgres.Table))
		return kv, nil
	case config.StoreSQLite:
		kv, err := sqlitestore.Open(ctx, sqlitestore.Config{
			Path:  cfg.SQLite.Path,
			Table: cfg.SQLite.Table,
		})
		if err != nil {
			return nil, fmt.Errorf("sqlite store init failed: %w", err)
		}
		app.logger.Info("using sqlite store", zap.String("path", cfg.SQLite.Path))
		return kv, nil
	default:
		app.logger.Warn("using in-memory store; jobs and cache are lost on restart")
		return memorystorage.NewKVStore(), nil
	}
}

func setupFetcher(app *App) (crawler.Fetcher, error) {
	cfg := app.cfg.Provider
	var fetcher crawler.Fetcher
	switch cfg.Kind {
	case config.ProviderColly:
		f := collyfetcher.New(collyfetcher.Config{
			UserAgent:     cfg.UserAgent,
			RespectRobots: cfg.RespectRobots,
			Timeout:       app.cfg.FetchTimeout(),
		})
		app.fetcher = f
		fetcher = f
		app.logger.Info("using direct fetcher", zap.String("user_agent", cfg.UserAgent))
	default:
		f, err := renderfetcher.New(renderfetcher.Config{
			Endpoint:      cfg.Endpoint,
			APIKey:        cfg.APIKey,
			AuthScheme:    cfg.AuthScheme,
			SettleSeconds: cfg.SettleSeconds,
			Timeout:       app.cfg.FetchTimeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("render fetcher init failed: %w", err)
		}
		app.fetcher = f
		fetcher = f
		app.logger.Info("using render provider", zap.String("endpoint", cfg.Endpoint))
	}

	rl := app.cfg.RateLimit
	if !rl.Enabled {
		return fetcher, nil
	}
	app.logger.Info("rate limiting enabled",
		zap.Float64("default_rps", rl.DefaultRPS),
		zap.Int("default_burst", rl.DefaultBurst),
	)
	return ratelimit.Wrap(fetcher, ratelimit.New(ratelimit.Config{
		DefaultRPS:   rl.DefaultRPS,
		DefaultBurst: rl.DefaultBurst,
		HostRPS:      rl.HostRPS,
	})), nil
}

func setupArchive(ctx context.Context, app *App) (*pipeline.Archiver, error) {
	cfg := app.cfg.Archive
	var blobs crawler.BlobStore
	switch cfg.Backend {
	case config.ArchiveGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		blobs, err = gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Info("archiving pages to gcs", zap.String("bucket", cfg.GCSBucket))
	case config.ArchiveLocal:
		local, err := localstorage.New(localstorage.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		blobs = local
		app.logger.Info("archiving pages locally", zap.String("path", cfg.LocalDir))
	case config.ArchiveMemory:
		blobs = memorystorage.NewBlobStore()
		app.logger.Info("archiving pages in memory")
	default:
		return nil, nil
	}
	return pipeline.NewArchiver(blobs, sha256.New(), cfg.Prefix, app.logger.Named("archive")), nil
}

func setupPublisher(ctx context.Context, app *App) (crawler.Publisher, error) {
	cfg := app.cfg.PubSub
	if cfg.TopicName == "" || cfg.ProjectID == "" {
		app.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.pubsubPublisher = gcppublisher.New(client.Publisher(cfg.TopicName))
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", cfg.ProjectID),
		zap.String("topic", cfg.TopicName),
	)
	return app.pubsubPublisher, nil
}

func setupDispatcher(app *App, runner worker.Runner, publisher crawler.Publisher) *dispatcher.Dispatcher {
	cfg := app.cfg.Jobs
	workerCfg := worker.Config{
		Timeout: app.cfg.JobTimeout(),
		Topic:   app.cfg.PubSub.TopicName,
	}
	app.logger.Info("worker config",
		zap.Int("workers", cfg.Workers),
		zap.Int("queue_depth", cfg.QueueDepth),
		zap.Duration("job_timeout", workerCfg.Timeout),
		zap.String("topic", workerCfg.Topic),
	)

	claims := worker.NewClaims()
	clock := system.New()
	runners := make([]dispatcher.Runner, 0, cfg.Workers)
	for i := range cfg.Workers {
		runners = append(runners, worker.New(
			app.queue,
			app.jobs,
			runner,
			publisher,
			clock,
			claims,
			workerCfg,
			app.logger.Named("worker").With(zap.Int("worker", i)),
		))
	}
	return dispatcher.New(app.queue, runners)
}
