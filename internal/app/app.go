// Package app builds the long-lived services shared by the download and
// serve commands, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/biodumpy/internal/api"
	"github.com/JakeFAU/biodumpy/internal/biodumpy"
	"github.com/JakeFAU/biodumpy/internal/clock/system"
	"github.com/JakeFAU/biodumpy/internal/config"
	"github.com/JakeFAU/biodumpy/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/biodumpy/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/biodumpy/internal/fetcher/headless"
	"github.com/JakeFAU/biodumpy/internal/hash/sha256"
	"github.com/JakeFAU/biodumpy/internal/httpclient"
	"github.com/JakeFAU/biodumpy/internal/id/uuid"
	"github.com/JakeFAU/biodumpy/internal/metrics"
	"github.com/JakeFAU/biodumpy/internal/policy/ratelimit"
	"github.com/JakeFAU/biodumpy/internal/progress"
	progresssinks "github.com/JakeFAU/biodumpy/internal/progress/sinks"
	"github.com/JakeFAU/biodumpy/internal/publisher"
	gcppublisher "github.com/JakeFAU/biodumpy/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/biodumpy/internal/queue/memory"
	"github.com/JakeFAU/biodumpy/internal/sources"
	"github.com/JakeFAU/biodumpy/internal/sources/base"
	"github.com/JakeFAU/biodumpy/internal/sources/paperdown"
	gcsstorage "github.com/JakeFAU/biodumpy/internal/storage/gcs"
	localstorage "github.com/JakeFAU/biodumpy/internal/storage/local"
	memoryStorage "github.com/JakeFAU/biodumpy/internal/storage/memory"
	pgstore "github.com/JakeFAU/biodumpy/internal/storage/postgres"
	"github.com/JakeFAU/biodumpy/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	template string

	client    *httpclient.Client
	scraper   *collyfetcher.Fetcher
	headless  *headlessfetcher.Fetcher
	renderer  paperdown.Renderer
	blobStore biodumpy.BlobStore
	manifest  *pgstore.ManifestStore
	recorders []biodumpy.DumpRecorder

	gcsClient    *storage.Client
	pubsubClient *pubsub.Client
	publisher    *gcppublisher.Publisher
}

// Build creates the application's dependencies. Manifest and Pub/Sub are
// only opened when configured.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	metrics.Init()

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.HTTP.RatePerSecond,
		DefaultBurst: cfg.HTTP.Burst,
		PerHost:      cfg.HostRates(),
	})
	a.client = httpclient.New(httpclient.Config{
		UserAgent:      cfg.HTTP.UserAgent,
		Timeout:        cfg.HTTPTimeout(),
		MaxAttempts:    cfg.HTTP.MaxRetries,
		BackoffInitial: time.Duration(cfg.HTTP.BackoffInitialMs) * time.Millisecond,
		BackoffMax:     time.Duration(cfg.HTTP.BackoffMaxMs) * time.Millisecond,
	}, limiter, logger.Named("http"))
	a.scraper = collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.HTTPTimeout(),
	}, limiter)
	a.setupHeadless()

	var err error
	if err = a.setupStorage(ctx); err != nil {
		a.closeInfrastructure()
		return nil, err
	}
	if err = a.setupManifest(ctx); err != nil {
		a.closeInfrastructure()
		return nil, err
	}
	if err = a.setupPublisher(ctx); err != nil {
		a.closeInfrastructure()
		return nil, err
	}
	return a, nil
}

func (a *App) setupHeadless() {
	a.renderer = headlessfetcher.NewNoop()
	if !a.cfg.Headless.Enabled {
		return
	}
	fetcher, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		MaxParallel:       a.cfg.Headless.MaxParallel,
		UserAgent:         a.cfg.HTTP.UserAgent,
		NavigationTimeout: time.Duration(a.cfg.Headless.NavTimeoutSec) * time.Second,
		Settle:            a.cfg.Headless.Settle,
	})
	if err != nil {
		a.logger.Warn("headless fetcher init failed", zap.Error(err))
		return
	}
	a.headless = fetcher
	a.renderer = fetcher
	a.logger.Info("using headless fetcher", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
}

// setupStorage picks the blob store. For the local backend the placeholder
// free head of output.path becomes part of the store root.
func (a *App) setupStorage(ctx context.Context) error {
	var err error
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		a.gcsClient, err = storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.blobStore, err = gcsstorage.New(a.gcsClient, gcsstorage.Config{
			Bucket: a.cfg.Storage.GCSBucket,
			Prefix: a.cfg.Storage.Prefix,
		})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.template = strings.TrimLeft(a.cfg.Output.Path, "/")
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCSBucket))
	case config.BackendMemory:
		a.blobStore = memoryStorage.NewBlobStore()
		a.template = a.cfg.Output.Path
		a.logger.Info("using in-memory storage backend")
	default:
		root, rel := biodumpy.SplitTemplateRoot(a.cfg.Output.Path)
		dir := a.cfg.Storage.LocalRoot
		switch {
		case filepath.IsAbs(root):
			dir = root
		case root != "":
			dir = filepath.Join(dir, root)
		}
		if dir == "" {
			dir = "."
		}
		store, err := localstorage.New(localstorage.Config{BaseDir: dir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.blobStore = store
		a.template = rel
		a.logger.Debug("local storage backend", zap.String("path", store.Root()))
	}
	return nil
}

func (a *App) setupManifest(ctx context.Context) error {
	if a.cfg.Manifest.DSN == "" {
		a.logger.Debug("no manifest DSN configured, skipping dump manifest")
		return nil
	}
	var err error
	a.manifest, err = pgstore.NewManifestStore(ctx, pgstore.ManifestStoreConfig{
		DSN:   a.cfg.Manifest.DSN,
		Table: a.cfg.Manifest.Table,
	}, uuid.New())
	if err != nil {
		return fmt.Errorf("manifest store init failed: %w", err)
	}
	if err := a.manifest.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("manifest schema: %w", err)
	}
	a.recorders = append(a.recorders, a.manifest)
	a.logger.Info("manifest store initialized", zap.String("table", a.cfg.Manifest.Table))
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.TopicName == "" {
		a.logger.Debug("no Pub/Sub topic configured, dump notifications disabled")
		return nil
	}
	var err error
	a.publisher, a.pubsubClient, err = gcppublisher.Open(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return fmt.Errorf("pubsub init failed: %w", err)
	}
	a.recorders = append(a.recorders, publisher.NewNotifier(a.publisher, a.cfg.PubSub.TopicName))
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName))
	return nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// BlobStore returns the configured blob store.
func (a *App) BlobStore() biodumpy.BlobStore {
	return a.blobStore
}

// OutputTemplate is output.path relative to the blob store root.
func (a *App) OutputTemplate() string {
	return a.template
}

// SourceDeps returns the collaborators module constructors need.
func (a *App) SourceDeps() sources.Deps {
	return sources.Deps{
		Deps: base.Deps{
			Client: a.client,
			Logger: a.logger.Named("sources"),
		},
		Scraper:  a.scraper,
		Renderer: a.renderer,
	}
}

// Inputs builds the named modules, forcing bulk when asked.
func (a *App) Inputs(names []string, bulk bool) ([]biodumpy.Input, error) {
	mods := a.cfg.Modules
	if bulk {
		var err error
		if mods, err = mods.WithBulk(names); err != nil {
			return nil, err
		}
	}
	inputs, err := sources.BuildAll(names, mods, a.SourceDeps())
	if err != nil {
		return nil, fmt.Errorf("build modules: %w", err)
	}
	return inputs, nil
}

// RunnerDeps returns the store, hasher, clock and recorders a Runner writes
// through, plus the metrics observer and any extra observers.
func (a *App) RunnerDeps(observers ...biodumpy.Observer) biodumpy.Deps {
	return biodumpy.Deps{
		Store:     a.blobStore,
		Hasher:    sha256.New(),
		Clock:     system.New(),
		Recorders: append([]biodumpy.DumpRecorder(nil), a.recorders...),
		Observers: append([]biodumpy.Observer{metrics.RunObserver{}}, observers...),
		Logger:    a.logger,
	}
}

// NewRunner builds a Runner for a CLI download.
func (a *App) NewRunner(names []string, bulk bool, observers ...biodumpy.Observer) (*biodumpy.Runner, error) {
	inputs, err := a.Inputs(names, bulk)
	if err != nil {
		return nil, err
	}
	runner, err := biodumpy.NewRunner(inputs, a.RunnerDeps(observers...), biodumpy.RunnerConfig{
		ContinueOnError: a.cfg.Output.ContinueOnError,
	})
	if err != nil {
		return nil, fmt.Errorf("new runner: %w", err)
	}
	return runner, nil
}

// Service is the serve-mode part of the container.
type Service struct {
	Server     *api.Server
	Dispatcher *dispatcher.Dispatcher
	Queue      *queueMemory.Queue
	Hub        *progress.Hub
	JobStore   *memoryStorage.JobStore
}

// NewService wires the job store, queue, workers and API server.
func (a *App) NewService() *Service {
	jobStore := memoryStorage.NewJobStore()
	queue := queueMemory.NewQueue(a.cfg.Server.QueueDepth)
	hub := progress.NewHub(progress.Config{Logger: a.logger},
		progresssinks.NewLogSink(a.logger.Named("progress_log")))

	workers := make([]dispatcher.Runner, 0, a.cfg.Server.Workers)
	for i := 0; i < a.cfg.Server.Workers; i++ {
		workers = append(workers, worker.New(
			queue,
			jobStore,
			a.Inputs,
			a.RunnerDeps(),
			worker.Config{ContinueOnError: a.cfg.Output.ContinueOnError, Progress: hub},
			a.logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(queue, jobStore, uuid.New(), system.New(), workers)
	check := func(names []string, bulk bool) error {
		_, err := a.Inputs(names, bulk)
		return err
	}
	server := api.NewServer(jobStore, dispatch, check, api.Options{
		APIKey:      a.cfg.Server.APIKey,
		MaxElements: a.cfg.Server.MaxElements,
		Progress:    hub,
	}, a.logger.Named("api"))
	return &Service{
		Server:     server,
		Dispatcher: dispatch,
		Queue:      queue,
		Hub:        hub,
		JobStore:   jobStore,
	}
}

// Serve runs the HTTP API and the worker pool until ctx is canceled, then
// drains them within the configured shutdown budget.
func (a *App) Serve(ctx context.Context) error {
	svc := a.NewService()
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           svc.Server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Server.Workers))
		svc.Dispatcher.Run(gctx)
		return nil
	})
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		svc.Queue.Close()
		if err := svc.Hub.Close(shutdownCtx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		return nil
	})
	return g.Wait()
}

// Close releases clients opened by Build and flushes the logger.
func (a *App) Close() {
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}

func (a *App) closeInfrastructure() {
	if a.headless != nil {
		a.headless.Close()
	}
	if a.publisher != nil {
		a.publisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.manifest != nil {
		a.manifest.Close()
	}
}
