// Package app wires configuration into running bookinglake services.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httpapi "github.com/bookinglake/bookinglake/internal/api/http"
	"github.com/bookinglake/bookinglake/internal/compaction"
	"github.com/bookinglake/bookinglake/internal/config"
	"github.com/bookinglake/bookinglake/internal/partition"
	"github.com/bookinglake/bookinglake/internal/pipeline"
	"github.com/bookinglake/bookinglake/internal/queue"
	"github.com/bookinglake/bookinglake/internal/schema"
	"github.com/bookinglake/bookinglake/internal/server"
	"github.com/bookinglake/bookinglake/internal/storage"
)

// Components are the pipeline pieces built from configuration. They are
// shared by the long-running App and the Lambda entrypoint.
type Components struct {
	Store       storage.ObjectStorage
	Ingestor    *pipeline.Ingestor
	Events      *pipeline.EventWriter
	Compactor   *compaction.Compactor
	BatchPolicy pipeline.BatchPolicy
}

// Build constructs the object store and pipeline components for cfg.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	store, err := NewStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	bookings, err := schema.New(schema.WithZone(schema.BookingsDefinition(),
		cfg.Partition.TimeZone, cfg.Partition.UTCOffsetSeconds))
	if err != nil {
		return nil, fmt.Errorf("invalid bookings schema: %w", err)
	}
	events := schema.QueueEvents()

	policy, err := pipeline.ParseBatchPolicy(cfg.Pipeline.BatchPolicy)
	if err != nil {
		return nil, err
	}

	pcfg := pipeline.Config{
		MaxConflictRetries: cfg.Pipeline.MaxConflictRetries,
		ConflictBackoff:    cfg.Pipeline.ConflictBackoff,
		ScratchDir:         cfg.Pipeline.ScratchDir,
		Unconditional:      cfg.Pipeline.Unconditional,
	}
	if pcfg.Unconditional {
		logger.Warn("conditional writes disabled; concurrent bookings can overwrite each other")
	}

	daily := partition.NewResolver(partition.WithKeyPrefix(cfg.Partition.KeyPrefix))
	perEvent := partition.NewResolver(partition.WithKeyPrefix(cfg.Partition.EventKeyPrefix))

	return &Components{
		Store:       store,
		Ingestor:    pipeline.NewIngestor(bookings, store, daily, pcfg, logger),
		Events:      pipeline.NewEventWriter(events, store, perEvent, pcfg, logger),
		Compactor:   compaction.NewCompactor(store, partition.NewCodec(events, nil), perEvent, compactionConfig(cfg), logger),
		BatchPolicy: policy,
	}, nil
}

func compactionConfig(cfg *config.Config) compaction.Config {
	return compaction.Config{
		CheckInterval:       cfg.Compaction.CheckInterval,
		LookbackDays:        cfg.Compaction.LookbackDays,
		DownloadConcurrency: cfg.Compaction.DownloadConcurrency,
		WorkDir:             cfg.Compaction.WorkDir,
	}
}

// NewStorage creates the configured object store.
func NewStorage(ctx context.Context, cfg config.StorageConfig) (storage.ObjectStorage, error) {
	switch cfg.Type {
	case "local":
		return storage.NewLocalStorage(cfg.Path)
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if cfg.S3.Region != "" {
			s3Cfg.Region = cfg.S3.Region
		}
		s3Cfg.Endpoint = cfg.S3.Endpoint
		s3Cfg.UsePathStyle = cfg.S3.UsePathStyle
		if cfg.S3.MaxRetries > 0 {
			s3Cfg.MaxRetries = cfg.S3.MaxRetries
		}
		return storage.NewS3Storage(ctx, cfg.S3.Bucket, s3Cfg)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// App manages the lifecycle of the services selected by the mode.
type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	components *Components
	shutdown   *server.ShutdownManager
	daemon     *compaction.Daemon
	source     queue.Source
}

// Option customises an App.
type Option func(*App)

// WithQueueSource replaces the Redis source, mainly for tests.
func WithQueueSource(src queue.Source) Option {
	return func(a *App) { a.source = src }
}

// New validates cfg, prepares directories and builds the components.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	components, err := Build(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	a := &App{
		cfg:        cfg,
		logger:     logger,
		components: components,
		shutdown:   server.NewShutdownManager(server.DefaultShutdownConfig(), logger),
	}
	for _, opt := range opts {
		opt(a)
	}

	if cfg.ShouldRunCompact() {
		a.daemon = compaction.NewDaemon(compactionConfig(cfg), components.Compactor, nil, logger)
	}
	return a, nil
}

// Handler returns the REST surface for the configured mode.
func (a *App) Handler() http.Handler {
	rc := httpapi.RouterConfig{
		BatchPolicy:    a.components.BatchPolicy,
		MaxBodyBytes:   a.cfg.HTTP.MaxBodyBytes,
		AllowedOrigins: a.cfg.HTTP.AllowedOrigins,
		Middleware:     []func(http.Handler) http.Handler{server.ShutdownMiddleware(a.shutdown)},
	}
	if a.cfg.ShouldRunHTTP() {
		rc.Bookings = a.components.Ingestor
		rc.Events = a.components.Events
	}
	if a.daemon != nil {
		rc.Compactor = a.daemon
	}
	return httpapi.NewRouter(rc, a.logger)
}

// Run starts every service of the mode and blocks until ctx is cancelled
// or one of them fails, then shuts the rest down.
func (a *App) Run(ctx context.Context) error {
	// Connect before starting anything so a bad Redis address fails fast.
	if a.cfg.ShouldRunQueue() && a.source == nil {
		rs, err := queue.NewRedisSource(ctx, queue.RedisConfig{
			Addr:       a.cfg.Queue.RedisAddr,
			Password:   a.cfg.Queue.RedisPassword,
			DB:         a.cfg.Queue.RedisDB,
			List:       a.cfg.Queue.List,
			DeadLetter: a.cfg.Queue.DeadLetter,
		})
		if err != nil {
			return err
		}
		a.shutdown.RegisterCloser("redis", rs)
		a.source = rs
	}

	if a.daemon != nil {
		if err := a.daemon.Start(ctx); err != nil {
			return err
		}
		a.shutdown.RegisterCloser("compaction", server.CloserFunc(a.daemon.Stop))
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.cfg.ShouldRunHTTP() || a.cfg.ShouldRunCompact() {
		srv := &http.Server{
			Addr:         a.cfg.HTTP.Addr,
			Handler:      a.Handler(),
			ReadTimeout:  a.cfg.HTTP.ReadTimeout,
			WriteTimeout: a.cfg.HTTP.WriteTimeout,
			IdleTimeout:  a.cfg.HTTP.IdleTimeout,
		}
		g.Go(func() error {
			return server.ServeHTTP(gctx, srv, 10*time.Second, a.logger)
		})
	}

	if a.cfg.ShouldRunQueue() {
		consumer := queue.NewConsumer(a.source, a.components.Events, queue.ConsumerConfig{
			BatchSize:    a.cfg.Queue.BatchSize,
			PollTimeout:  a.cfg.Queue.PollTimeout,
			Policy:       a.components.BatchPolicy,
			RetryBackoff: time.Second,
		}, a.logger)
		g.Go(func() error {
			return consumer.Run(gctx)
		})
	}

	a.logger.Info("bookinglake started", zap.String("mode", string(a.cfg.Mode)))

	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown.Shutdown(context.Background(), "context done")
	})

	return g.Wait()
}
