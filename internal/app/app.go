// Package app builds the long-lived services from configuration and runs them
// until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/mediafetch/internal/api"
	"github.com/JakeFAU/mediafetch/internal/canonical"
	"github.com/JakeFAU/mediafetch/internal/clock/system"
	"github.com/JakeFAU/mediafetch/internal/config"
	"github.com/JakeFAU/mediafetch/internal/download"
	"github.com/JakeFAU/mediafetch/internal/engine"
	"github.com/JakeFAU/mediafetch/internal/id/uuid"
	"github.com/JakeFAU/mediafetch/internal/notify"
	pubsubnotify "github.com/JakeFAU/mediafetch/internal/notify/pubsub"
	"github.com/JakeFAU/mediafetch/internal/probe"
	"github.com/JakeFAU/mediafetch/internal/retry"
	gcsstorage "github.com/JakeFAU/mediafetch/internal/storage/gcs"
	localstorage "github.com/JakeFAU/mediafetch/internal/storage/local"
	"github.com/JakeFAU/mediafetch/internal/storage/memory"
	"github.com/JakeFAU/mediafetch/internal/telemetry"
	collytransport "github.com/JakeFAU/mediafetch/internal/transport/colly"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	engine    *engine.Engine
	transport *collytransport.Transport
	apiServer *api.Server

	storageClient  *storage.Client
	pubsubClient   *pubsub.Client
	pubsubNotifier *pubsubnotify.Notifier
	tracerProvider *sdktrace.TracerProvider
}

// New wires every service described by cfg. settings persists runtime
// configuration changes; it may be nil.
func New(ctx context.Context, cfg config.Config, settings *config.Store, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings == nil {
		settings = config.NewStore(cfg.Downloads)
	}
	a := &App{cfg: cfg, logger: logger}

	tp, err := telemetry.InitTracerProvider(ctx, "mediafetch")
	if err != nil {
		return nil, fmt.Errorf("tracing init failed: %w", err)
	}
	a.tracerProvider = tp

	blobs, err := a.setupStorage(ctx)
	if err != nil {
		a.closeInfrastructure()
		return nil, err
	}

	a.transport, err = collytransport.New(collytransport.Config{
		UserAgent:    cfg.Transport.UserAgent,
		Timeout:      cfg.Transport.Timeout,
		MaxBodyBytes: cfg.Transport.MaxBodyBytes,
		PerHostRPS:   cfg.Transport.PerHostRPS,
		PerHostBurst: cfg.Transport.PerHostBurst,
	}, blobs, logger)
	if err != nil {
		a.closeInfrastructure()
		return nil, fmt.Errorf("transport init failed: %w", err)
	}

	var validator download.Validator
	if cfg.Validator.Enabled {
		validator = probe.New(probe.Config{UserAgent: cfg.Transport.UserAgent, Timeout: cfg.Validator.Timeout}, logger)
		logger.Info("reachability probe enabled", zap.Duration("timeout", cfg.Validator.Timeout))
	}
	enhancer := canonical.NewEnhancer(canonical.New(nil), validator, cfg.Validator.Timeout, logger.Named("canonical"))

	notifier, err := a.setupNotifier(ctx)
	if err != nil {
		a.closeInfrastructure()
		return nil, err
	}

	a.engine, err = engine.New(engine.Options{
		Settings:    cfg.Downloads,
		GC:          cfg.GC,
		Transport:   a.transport,
		Signals:     a.transport.Signals(),
		Enhancer:    enhancer,
		Notifier:    notifier,
		ConfigStore: settings,
		Store:       memory.NewJobStore(nil),
		Clock:       system.New(),
		IDs:         uuid.New(),
		Policy:      retry.NewLinearPolicy(),
		Logger:      logger,
	})
	if err != nil {
		a.closeInfrastructure()
		return nil, fmt.Errorf("engine init failed: %w", err)
	}

	a.apiServer = api.NewServer(a.engine, enhancer, cfg, logger)
	logger.Info("application initialized",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Int("max_concurrent", cfg.Downloads.MaxConcurrent),
	)
	return a, nil
}

// Handler exposes the HTTP surface.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Engine returns the orchestrator.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

// Run starts the engine and the HTTP server and blocks until ctx is canceled,
// a termination signal arrives or either component fails.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("engine started")
		return a.engine.Run(gctx)
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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		return nil
	})

	runErr := g.Wait()
	return errors.Join(runErr, a.Close())
}

// Close releases transport, notifier and cloud clients.
func (a *App) Close() error {
	var errs []error
	if a.transport != nil {
		if err := a.transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("transport close: %w", err))
		}
	}
	a.closeInfrastructure()
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

func (a *App) closeInfrastructure() {
	if a.pubsubNotifier != nil {
		a.pubsubNotifier.Close()
		a.pubsubNotifier = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.storageClient != nil {
		if err := a.storageClient.Close(); err != nil {
			a.logger.Warn("storage client close failed", zap.Error(err))
		}
		a.storageClient = nil
	}
	if a.tracerProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer provider shutdown failed", zap.Error(err))
		}
		a.tracerProvider = nil
	}
}

func (a *App) setupStorage(ctx context.Context) (download.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("storage client init failed: %w", err)
		}
		a.storageClient = client
		a.logger.Info("using GCS storage", zap.String("bucket", a.cfg.Storage.GCSBucket))
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs storage init failed: %w", err)
		}
		return store, nil
	case config.BackendMemory:
		a.logger.Warn("using in-memory storage; saved files are lost on exit")
		return memory.NewBlobStore(), nil
	default:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local storage init failed: %w", err)
		}
		a.logger.Info("using local storage", zap.String("base_dir", a.cfg.Storage.Local.BaseDir))
		return store, nil
	}
}

func (a *App) setupNotifier(ctx context.Context) (download.Notifier, error) {
	if !a.cfg.PubSub.Enabled() {
		a.logger.Info("no Pub/Sub topic configured, notifications go to the log")
		return notify.NewLog(a.logger), nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.pubsubNotifier = pubsubnotify.New(client.Publisher(a.cfg.PubSub.TopicName), a.logger)
	a.logger.Info("Pub/Sub notifier initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.pubsubNotifier, nil
}
