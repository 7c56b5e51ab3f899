// Package app assembles the analysis service from configuration.
package app

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"theological-agent/internal/agent"
	"theological-agent/internal/audit"
	"theological-agent/internal/cache"
	"theological-agent/internal/config"
	"theological-agent/internal/hitl"
	"theological-agent/internal/llm"
	"theological-agent/internal/logging"
	"theological-agent/internal/notify"
	"theological-agent/internal/observability"
	"theological-agent/internal/repository"
	"theological-agent/internal/services"
	"theological-agent/internal/workflow"
)

const (
	notifyQueueSize = 64
	notifyTimeout   = 30 * time.Second
)

// App holds the wired service and the resources it owns.
type App struct {
	Service    *services.AnalysisService
	Store      repository.Store
	Metrics    *observability.Metrics
	dispatcher *notify.Dispatcher
	traces     *observability.TraceExporter
}

type options struct {
	generator llm.Generator
	store     repository.Store
	notifier  notify.Notifier
}

// Option overrides a component built from configuration.
type Option func(*options)

// WithGenerator replaces the configured LLM client.
func WithGenerator(g llm.Generator) Option {
	return func(o *options) { o.generator = g }
}

// WithStore replaces the configured store.
func WithStore(s repository.Store) Option {
	return func(o *options) { o.store = s }
}

// WithNotifier replaces the SMTP notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// OpenStore connects to the configured storage driver. The postgres driver
// applies pending migrations when migrate is set.
func OpenStore(ctx context.Context, cfg *config.Config, migrate bool, logger *logging.Logger) (repository.Store, error) {
	switch cfg.Storage.Driver {
	case "memory":
		logger.Warn("using in-memory storage; data is lost on restart")
		return repository.NewMemoryStore(), nil
	case "postgres":
		pool, err := repository.OpenPool(ctx, cfg.DSN(), cfg.DB.MaxConns)
		if err != nil {
			return nil, err
		}
		store := repository.NewPostgresStore(pool)
		if migrate {
			applied, err := store.Migrate(ctx)
			if err != nil {
				store.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
			logger.Info("migrations_applied", "versions", applied)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// New builds the analysis service.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	gen := o.generator
	if gen == nil {
		client, err := llm.NewGoogleClient(ctx, cfg.LLM.APIKey, llm.Options{
			Tiers:     cfg.LLM.Tiers,
			Fallbacks: cfg.LLM.Fallbacks,
			RPM:       cfg.LLM.RPM,
			Timeout:   cfg.LLM.Timeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		gen = client
	}

	catalog, err := agent.LoadCatalog(cfg.Prompts.File)
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}

	graph, err := agent.BuildGraph(agent.GraphConfig{
		Generator:     gen,
		Catalog:       catalog,
		MandatoryStep: cfg.Workflow.MandatoryStep,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	metrics, err := observability.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return nil, err
	}

	store := o.store
	if store == nil {
		store, err = OpenStore(ctx, cfg, true, logger)
		if err != nil {
			return nil, err
		}
	}

	executor := workflow.NewExecutor(graph,
		workflow.WithLogger(logger),
		workflow.WithTracer(otel.Tracer("theological-agent/workflow")),
		workflow.WithMaxParallel(cfg.Workflow.MaxParallel),
		workflow.WithNodeObserver(metrics.ObserveNode),
	)

	notifier := o.notifier
	if notifier == nil {
		notifier = notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			User:     cfg.SMTP.User,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			To:       cfg.SMTP.Reviewer,
		})
	}
	dispatcher := notify.NewDispatcher(notifier, notifyQueueSize, notifyTimeout, logger)

	var objects observability.ObjectStore
	if cfg.Traces.Enabled {
		client, err := observability.NewMinIO(observability.MinIOConfig{
			Endpoint:  cfg.Traces.Endpoint,
			AccessKey: cfg.Traces.AccessKey,
			SecretKey: cfg.Traces.SecretKey,
			UseSSL:    cfg.Traces.UseSSL,
		})
		if err != nil {
			dispatcher.Close()
			store.Close()
			return nil, err
		}
		objects = client
	}
	traces := observability.NewTraceExporter(objects, cfg.Traces.Bucket, store, logger)

	recorder := audit.NewRecorder(store, logger)
	svc := services.NewAnalysisService(services.Deps{
		Runner:   executor,
		Reviews:  hitl.NewController(store, executor, recorder, dispatcher, cfg.SMTP.ReviewBaseURL, logger),
		Cache:    cache.New(store, cfg.Cache.Enabled, logger, metrics),
		Recorder: recorder,
		Metrics:  metrics,
		Traces:   traces,
		Logger:   logger,
	})

	return &App{
		Service:    svc,
		Store:      store,
		Metrics:    metrics,
		dispatcher: dispatcher,
		traces:     traces,
	}, nil
}

// Close drains pending notifications and trace uploads, then releases the
// store.
func (a *App) Close() {
	a.dispatcher.Close()
	a.traces.Wait()
	a.Store.Close()
}
