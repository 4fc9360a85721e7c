package app

import (
	"context"
	"fmt"

	"txpilot/internal/backend"
	"txpilot/internal/builder"
	"txpilot/internal/config"
	"txpilot/internal/engine"
	"txpilot/internal/executor"
	"txpilot/internal/logger"
	"txpilot/internal/metrics"
	"txpilot/internal/notifier"
	"txpilot/internal/order"
	"txpilot/internal/store"
	"txpilot/internal/store/sqlite"
	apihttp "txpilot/internal/transport/http/api"
)

// AppBuilder assembles the application. Every provider func can be swapped
// out, which is how tests inject in-memory stores and fake backends.
type AppBuilder struct {
	cfg *config.Config

	storeFn    func(config.StoreConfig) (store.Store, error)
	registryFn func(config.BackendsConfig) (*backend.Registry, error)
	builderFn  func(config.BuilderConfig) (builder.PayloadBuilder, error)
	notifierFn func(config.NotifyConfig) notifier.EventNotifier

	registryOverride *backend.Registry
	storeOverride    store.Store
}

type AppBuilderOption func(*AppBuilder)

// WithStore replaces the sqlite store, typically with a test database.
func WithStore(s store.Store) AppBuilderOption {
	return func(b *AppBuilder) { b.storeOverride = s }
}

// WithRegistry replaces the file-backed backend registry.
func WithRegistry(r *backend.Registry) AppBuilderOption {
	return func(b *AppBuilder) { b.registryOverride = r }
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		storeFn:    buildStore,
		registryFn: buildRegistry,
		builderFn:  buildPayloadBuilder,
		notifierFn: buildNotifier,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func buildStore(cfg config.StoreConfig) (store.Store, error) {
	return sqlite.NewSqliteStore(cfg.Path)
}

func buildRegistry(cfg config.BackendsConfig) (*backend.Registry, error) {
	return backend.NewRegistry(cfg.RegistryPath)
}

func buildPayloadBuilder(cfg config.BuilderConfig) (builder.PayloadBuilder, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("builder.url is required")
	}
	return builder.NewHTTPBuilder(cfg.URL, cfg.Timeout()), nil
}

func buildNotifier(cfg config.NotifyConfig) notifier.EventNotifier {
	sinks := notifier.Multi{notifier.LogNotifier{}}
	if cfg.Webhook.Enabled && cfg.Webhook.URL != "" {
		sinks = append(sinks, notifier.NewWebhookNotifier(cfg.Webhook.URL, cfg.Webhook.Timeout()))
	}
	return sinks
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	st := b.storeOverride
	if st == nil {
		var err error
		st, err = b.storeFn(cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	}

	registry := b.registryOverride
	if registry == nil {
		var err error
		registry, err = b.registryFn(cfg.Backends)
		if err != nil {
			return nil, fmt.Errorf("load backend registry: %w", err)
		}
	}
	logger.Infof("backend chain: %d backends loaded from %s", len(registry.Chain()), cfg.Backends.RegistryPath)

	payloadBuilder, err := b.builderFn(cfg.Builder)
	if err != nil {
		return nil, err
	}

	manager := order.NewManager(st, cfg.Engine.MaxRetries)
	exec := executor.New(
		registry.Chain,
		executor.Options{
			ExecutionTimeout: cfg.Executor.ExecutionTimeout(),
			ConfirmBudget:    cfg.Executor.ConfirmBudget(),
			PollInitial:      cfg.Executor.ConfirmPollInitial(),
			PollMax:          cfg.Executor.ConfirmPollMax(),
			Preflight:        cfg.Executor.Preflight,
		},
		cfg.Executor.CircuitBreakerThreshold,
		cfg.Executor.CircuitBreakerReset(),
	)
	collector := metrics.NewCollector()
	events := b.notifierFn(cfg.Notify)
	eng := engine.New(cfg.Engine, manager, payloadBuilder, exec, collector, events)

	httpServer, err := apihttp.NewServer(apihttp.ServerConfig{
		Addr:   cfg.App.HTTPAddr,
		Router: apihttp.NewRouter(eng, manager, exec, collector),
	})
	if err != nil {
		return nil, fmt.Errorf("build http server: %w", err)
	}

	return &App{
		cfg:      cfg,
		store:    st,
		registry: registry,
		manager:  manager,
		engine:   eng,
		metrics:  collector,
		http:     httpServer,
	}, nil
}
