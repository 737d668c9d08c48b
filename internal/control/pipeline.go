package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/catalog-etl/internal/core/config"
	"github.com/vietddude/catalog-etl/internal/core/domain"
	"github.com/vietddude/catalog-etl/internal/extract"
	redisclient "github.com/vietddude/catalog-etl/internal/infra/redis"
	"github.com/vietddude/catalog-etl/internal/infra/storage"
	"github.com/vietddude/catalog-etl/internal/infra/storage/memory"
	"github.com/vietddude/catalog-etl/internal/infra/storage/postgres"
	"github.com/vietddude/catalog-etl/internal/ingestion/health"
	"github.com/vietddude/catalog-etl/internal/ingestion/loop"
	"github.com/vietddude/catalog-etl/internal/ingestion/recovery"
)

const (
	shutdownTimeout    = 10 * time.Second
	poolSampleInterval = 15 * time.Second
)

// Counter reports how many rows the sink holds.
type Counter interface {
	Count(ctx context.Context) (int64, error)
}

// Pipeline owns every component of the ingestion daemon.
type Pipeline struct {
	cfg          *config.AppConfig
	target       storage.Target
	loop         *loop.Loop
	healthMon    *health.Monitor
	healthServer *health.Server
	sink         Counter
	db           *postgres.DB
	redisClient  *redisclient.Client
	log          *slog.Logger
}

// Option customizes a Pipeline.
type Option func(*options)

type options struct {
	sleep recovery.SleepFunc
}

// WithSleep replaces the real-time wait used for backoff and the cycle interval.
func WithSleep(sleep recovery.SleepFunc) Option {
	return func(o *options) {
		o.sleep = sleep
	}
}

// NewPipeline validates cfg and builds all dependencies. Only invalid
// configuration fails here; an unreachable sink is retried by the loop.
func NewPipeline(ctx context.Context, cfg *config.AppConfig, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	o := options{sleep: recovery.Sleep}
	for _, opt := range opts {
		opt(&o)
	}

	log := slog.Default().With("component", "pipeline")
	target := storage.Target{Schema: cfg.Sink.Schema, Table: cfg.Sink.Table}
	p := &Pipeline{cfg: cfg, target: target, log: log}

	// 1. Initialize Storage
	var connector storage.SinkConnector
	var pinger health.Pinger
	if cfg.DryRun() {
		store := memory.NewProductStore()
		connector = store
		p.sink = store
		log.Info("Using memory sink (dry run)")
	} else {
		// Connection failures are left to the supervised cycle.
		db, err := postgres.OpenDB(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		p.db = db

		repo := postgres.NewProductRepo(db, target)
		if cfg.Database.Bootstrap {
			repo.EnableBootstrap()
		}
		connector = repo
		p.sink = repo
		pinger = db
		log.Info("Using database sink", "driver", db.Driver(), "target", target.String())
	}

	// 2. Optional cross-process lock
	var lock loop.CycleLock
	var recorder loop.RunRecorder
	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			log.Warn("Failed to connect to Redis, cycle lock disabled", "error", err)
		} else {
			p.redisClient = client
			cycleLock := redisclient.NewCycleLock(client, target.String(), cfg.Redis.LockTTL)
			lock = cycleLock
			recorder = cycleLock
		}
	}

	// 3. Extraction and loop
	extractor := extract.NewExtractor(extract.NewFileSource(cfg.Source.Path), extract.Config{
		ProductTag:           cfg.Source.ProductTag,
		CategoryContainerTag: cfg.Source.CategoryContainerTag,
		CategoryTag:          cfg.Source.CategoryTag,
		ChunkSize:            cfg.Source.ChunkSize,
		PathSeparator:        cfg.Source.PathSeparator,
	})

	p.healthMon = health.NewMonitor(pinger, cfg.Server.FailureThreshold, cfg.Server.StaleAfter)
	if !cfg.Server.Disabled {
		p.healthServer = health.NewServer(p.healthMon, cfg.Server.Port)
	}

	p.loop = loop.New(loop.Config{
		Interval:   cfg.Loop.Interval,
		Extractor:  extractor,
		Sink:       connector,
		Supervisor: recovery.NewSupervisor(cfg.Loop.Backoff, o.sleep),
		Lock:       lock,
		Recorder:   recorder,
		Observer:   p.healthMon,
		Sleep:      o.sleep,
	})

	return p, nil
}

// Run starts the health server and the loop, and blocks until ctx is
// cancelled or a component fails.
func (p *Pipeline) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if p.healthServer != nil {
		g.Go(func() error {
			p.log.Info("Health server listening", "port", p.cfg.Server.Port)
			return p.healthServer.Start()
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return p.healthServer.Stop(shutdownCtx)
		})
	}

	if p.db != nil {
		p.db.StartMetricsCollector(gctx, poolSampleInterval)
	}

	g.Go(func() error {
		p.log.Info("Starting ingestion loop",
			"source", p.cfg.Source.Path,
			"target", p.target.String(),
			"interval", p.cfg.Loop.Interval,
		)
		return p.loop.Run(gctx)
	})

	return g.Wait()
}

// RunOnce runs a single supervised cycle.
func (p *Pipeline) RunOnce(ctx context.Context) (domain.CycleStats, error) {
	return p.loop.RunOnce(ctx)
}

// Count returns the number of rows in the sink.
func (p *Pipeline) Count(ctx context.Context) (int64, error) {
	return p.sink.Count(ctx)
}

// Health returns the current health report.
func (p *Pipeline) Health(ctx context.Context) health.HealthReport {
	return p.healthMon.CheckHealth(ctx)
}

// Close releases the database and Redis connections.
func (p *Pipeline) Close() error {
	p.log.Info("Stopping pipeline...")

	if p.redisClient != nil {
		if err := p.redisClient.Close(); err != nil {
			p.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
	}
	return nil
}
