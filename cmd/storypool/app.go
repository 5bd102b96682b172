package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"storypool/internal/admin"
	"storypool/internal/config"
	"storypool/internal/covers"
	"storypool/internal/evaluation"
	"storypool/internal/generation"
	"storypool/internal/graph"
	"storypool/internal/metrics"
	"storypool/internal/notify"
	"storypool/internal/orchestrator"
	"storypool/internal/pool"
	"storypool/internal/scheduler"
	"storypool/internal/store"
)

// app carries what every subcommand shares: the loaded config and the logger.
type app struct {
	configPath string
	configRead bool
	cfg        *config.Config
	logger     *zap.Logger
}

// skipConfig marks commands that run before a config file exists.
const skipConfig = "skip-config"

func (a *app) setup(cmd *cobra.Command, args []string) error {
	var (
		cfg *config.Config
		err error
	)
	if cmd.Annotations[skipConfig] == "" {
		cfg, err = config.Load(a.configPath)
	}
	switch {
	case cmd.Annotations[skipConfig] != "":
		cfg = config.Default()
	case err == nil:
		a.configRead = true
	case errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config"):
		cfg = config.Default()
	default:
		return err
	}
	a.cfg = cfg

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	a.logger = logger
	if !a.configRead && cmd.Annotations[skipConfig] == "" {
		logger.Debug("config file not found, using defaults", zap.String("path", a.configPath))
	}
	return nil
}

func (a *app) teardown(cmd *cobra.Command, args []string) {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		zcfg.Level = level
	}
	return zcfg.Build()
}

// stack is the wired set of services. Without generation only the parts
// that never call a model are set, and the runner can only discover
// relationships.
type stack struct {
	store     store.Store
	live      *config.Live
	runtime   *config.Source
	hub       *notify.Hub
	graph     *graph.Service
	enricher  *scheduler.Enricher
	pool      *pool.Maintainer
	scheduler *scheduler.Scheduler
	gate      *evaluation.Gate
	covers    *covers.Service
	runner    *orchestrator.Runner
	admin     *admin.Service
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
}

func (a *app) openStack(ctx context.Context, withGeneration bool) (*stack, error) {
	db, err := openStore(ctx, a.cfg.Database)
	if err != nil {
		return nil, err
	}

	s := &stack{
		store:    db,
		live:     config.NewLive(a.cfg.Runtime),
		hub:      notify.NewHub(a.logger.Named("events")),
		registry: prometheus.NewRegistry(),
	}
	s.runtime = config.NewSource(s.live, db)
	s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s.metrics = metrics.New(s.registry)
	metrics.RegisterEvents(s.registry, s.hub)

	deps := admin.Deps{
		Store:     db,
		Runtime:   s.runtime,
		Publisher: s.hub,
		Logger:    a.logger.Named("admin"),
		LeaseTTL:  a.cfg.Loop.LeaseTTL,
	}
	loop := orchestrator.Deps{
		Store:    db,
		Runtime:  s.runtime,
		Observer: s.metrics,
		Logger:   a.logger.Named("orchestrator"),
	}

	if withGeneration {
		backend, err := generation.NewBackend(ctx, a.cfg.Generation)
		if err != nil {
			_ = db.Close(ctx)
			return nil, err
		}
		gen := generation.New(backend, backend, a.cfg.Generation, a.logger.Named("generation"))

		s.graph = graph.New(db, gen, a.logger.Named("graph"))
		s.enricher = scheduler.NewEnricher(s.graph, a.cfg.Loop.ExtractionQueue, a.logger.Named("enrichment"))
		metrics.RegisterEnrichment(s.registry, s.enricher)

		s.pool = pool.New(db, gen, s.hub, a.logger.Named("pool"), nil)
		s.scheduler = scheduler.New(db, gen, s.enricher, s.hub, a.logger.Named("scheduler"))
		s.gate = evaluation.New(db, gen, s.hub, a.logger.Named("evaluation"))

		var uploader covers.Uploader
		if a.cfg.Storage.Bucket != "" {
			s3store, err := covers.NewS3Store(ctx, a.cfg.Storage)
			if err != nil {
				_ = db.Close(ctx)
				return nil, err
			}
			uploader = s3store
		}
		s.covers = covers.New(db, gen, uploader, a.cfg.Storage.Prefix, a.logger.Named("covers"))

		loop.Pool = s.pool
		loop.Scheduler = s.scheduler
		loop.Evaluation = s.gate
		loop.Covers = s.covers
		deps.Pool = s.pool
		deps.Chapters = s.scheduler
		deps.Covers = s.covers
	} else {
		s.graph = graph.New(db, nil, a.logger.Named("graph"))
	}
	loop.Relationships = s.graph
	s.runner = orchestrator.New(loop, a.cfg.Loop)
	deps.Entities = s.graph
	s.admin = admin.New(deps)
	return s, nil
}

func (s *stack) Close(ctx context.Context) error {
	return s.store.Close(ctx)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
