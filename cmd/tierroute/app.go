package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/tierroute/internal/config"
	"github.com/haasonsaas/tierroute/internal/experiments"
	"github.com/haasonsaas/tierroute/internal/models"
	"github.com/haasonsaas/tierroute/internal/observability"
	"github.com/haasonsaas/tierroute/internal/pipeline"
	"github.com/haasonsaas/tierroute/internal/providers"
	"github.com/haasonsaas/tierroute/internal/routing"
	"github.com/haasonsaas/tierroute/internal/server"
	"github.com/haasonsaas/tierroute/internal/usage"
)

// newAdapter builds provider adapters. Tests replace it.
var newAdapter = providers.New

// app holds the components wired from one configuration.
type app struct {
	cfg         *config.Config
	logger      *observability.Logger
	log         *slog.Logger
	registry    *models.Registry
	router      *routing.Router
	metrics     *observability.Metrics
	promReg     *prometheus.Registry
	tracer      *observability.Tracer
	usage       *usage.Tracker
	experiments *experiments.Manager
	engine      *server.Engine

	// providerErr is set when the provider adapter could not be built.
	providerErr error
	closers     []func(context.Context) error
}

type appOptions struct {
	// withProvider builds the provider adapter for completions.
	withProvider bool
}

// loadApp loads the configuration named by the persistent flags and wires
// the application, logging to the command's stderr.
func loadApp(cmd *cobra.Command, opts appOptions) (*app, error) {
	cfg, err := config.Load(resolveConfigPath(configPath))
	if err != nil {
		return nil, err
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	return newApp(cmd.Context(), cfg, cmd.ErrOrStderr(), opts)
}

func newApp(ctx context.Context, cfg *config.Config, logOutput io.Writer, opts appOptions) (*app, error) {
	logCfg := cfg.Logging
	if logOutput != nil {
		logCfg.Output = logOutput
	}
	logger := observability.NewLogger(logCfg)
	log := logger.Slog()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(promReg)
	tracer, shutdownTracer := observability.NewTracer(cfg.Tracing)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		log:     log,
		metrics: metrics,
		promReg: promReg,
		tracer:  tracer,
		closers: []func(context.Context) error{shutdownTracer},
	}

	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	a.registry = registry

	routerOpts := []routing.Option{routing.WithRecorder(metrics), routing.WithLogger(log)}
	if classifier := a.buildClassifier(ctx); classifier != nil {
		routerOpts = append(routerOpts, routing.WithClassifier(classifier))
	}
	a.router, err = routing.NewRouter(cfg.Router, registry, routerOpts...)
	if err != nil {
		return nil, err
	}

	var store usage.Store
	if cfg.Usage.DatabaseURL != "" {
		sqlStore, err := usage.OpenSQLStore(ctx, cfg.Usage.DatabaseURL, usage.DefaultSQLConfig())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return sqlStore.Close() })
		store = sqlStore
	}
	a.usage = usage.NewTracker(usage.TrackerConfig{
		MaxAge:   cfg.Usage.MaxAge,
		MaxCount: cfg.Usage.MaxRecords,
		Prices:   registry,
		Store:    store,
		Logger:   log,
	})
	// Registered after the store so queued records are written before it closes.
	a.closers = append(a.closers, func(context.Context) error { return a.usage.Close() })

	a.experiments = experiments.NewManager(registry,
		experiments.WithProvider(cfg.Router.Provider),
		experiments.WithRecorder(metrics),
		experiments.WithLogger(log),
	)
	if cfg.Experiments.File != "" {
		loaded, err := a.experiments.LoadFile(cfg.Experiments.File)
		if err != nil {
			logger.Warn(ctx, "experiments file loaded with errors", "file", cfg.Experiments.File, "loaded", loaded, "error", err)
		} else {
			logger.Debug(ctx, "experiments loaded", "file", cfg.Experiments.File, "count", loaded)
		}
	}

	var final pipeline.Handler
	if opts.withProvider {
		adapter, err := newAdapter(ctx, cfg.Provider)
		if err != nil {
			a.providerErr = err
		} else {
			final = pipeline.ProviderHandler(adapter)
		}
	}

	a.engine, err = server.NewEngine(server.EngineConfig{
		Router:      a.router,
		Experiments: a.experiments,
		Pipeline:    a.buildPipeline(),
		Final:       final,
		Logger:      log,
		Tracer:      tracer,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// buildClassifier returns nil when the router will not consult a classifier
// or the classifier provider cannot be built.
func (a *app) buildClassifier(ctx context.Context) *routing.LLMClassifier {
	cfg := a.cfg
	if !cfg.Router.Intelligent || cfg.Router.ForceTier != "" || cfg.Classifier.Model == "" {
		return nil
	}
	adapter, err := newAdapter(ctx, cfg.ClassifierProvider())
	if err != nil {
		a.logger.Warn(ctx, "llm classifier disabled", "error", err)
		return nil
	}
	classifier, err := routing.NewLLMClassifier(routing.LLMClassifierConfig{
		Client:    adapter,
		Model:     cfg.Classifier.Model,
		Timeout:   cfg.Classifier.Timeout,
		CacheSize: cfg.Classifier.CacheSize,
		Registry:  a.registry,
		Provider:  cfg.Router.Provider,
		Logger:    a.log,
	})
	if err != nil {
		a.logger.Warn(ctx, "llm classifier disabled", "error", err)
		return nil
	}
	return classifier
}

// buildPipeline assembles the middlewares outermost first. Cache hits skip
// retries and cost recording; each attempt gets its own timeout.
func (a *app) buildPipeline() *pipeline.Pipeline {
	cfg := a.cfg.Pipeline
	p := pipeline.New(
		pipeline.Logging(a.log),
		pipeline.Metrics(a.metrics),
		pipeline.Tracing(a.tracer),
	)

	if cfg.Cache.Enabled {
		responses := pipeline.NewResponseCache(pipeline.ResponseCacheOptions{
			TTL:        cfg.Cache.TTL,
			MaxEntries: cfg.Cache.MaxEntries,
			OnLookup:   a.metrics.RecordCacheLookup,
		})
		p.Use(responses.Middleware())
	}

	retry := pipeline.DefaultRetryOptions()
	retry.MaxRetries = *cfg.Retry.MaxRetries
	retry.Backoff = cfg.Retry.Backoff
	retry.Retryable = func(err error) bool { return !providers.IsPermanent(err) }
	retry.OnRetry = func(attempt int, err error, delay time.Duration) {
		a.log.Warn("retrying provider call", "attempt", attempt, "delay", delay, "error", err)
	}

	return p.
		Use(pipeline.Retry(retry)).
		Use(pipeline.Timeout(cfg.Timeout)).
		Use(pipeline.CostRecorder(a.usage))
}

// Close releases the database and flushes traces.
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}
