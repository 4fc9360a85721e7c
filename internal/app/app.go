package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"txpilot/internal/backend"
	"txpilot/internal/config"
	"txpilot/internal/engine"
	"txpilot/internal/logger"
	"txpilot/internal/metrics"
	"txpilot/internal/order"
	"txpilot/internal/scheduler"
	"txpilot/internal/store"
	"txpilot/internal/store/model"
	apihttp "txpilot/internal/transport/http/api"
)

// App owns application-level orchestration: config, store, engine, the HTTP
// surface and the maintenance loops.
type App struct {
	cfg      *config.Config
	store    store.Store
	registry *backend.Registry
	manager  *order.Manager
	engine   *engine.Engine
	metrics  *metrics.Collector
	http     *apihttp.Server
}

// NewApp builds the application from config without starting it.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	return NewAppBuilder(cfg).Build(context.Background())
}

// Engine exposes the execution engine, used by test harnesses.
func (a *App) Engine() *engine.Engine {
	if a == nil {
		return nil
	}
	return a.engine
}

// Run starts the engine, HTTP server and maintenance loops, and blocks until
// ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}

	// the engine's lifetime is owned by Stop, not by the signal context:
	// cancelling workers on SIGINT would abort in-flight submissions before
	// the drain timeout had its say
	if err := a.engine.Start(context.Background()); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.http.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		if err := a.engine.Stop(); err != nil {
			logger.Warnf("engine shutdown: %v", err)
		}
		a.persistMetricsSnapshot()
		if a.registry != nil {
			_ = a.registry.Close()
		}
		return a.store.Close()
	})

	group.Go(func() error {
		cleanup := scheduler.NewIntervalScheduler(ctx, "order-cleanup", a.cfg.Store.CleanupInterval())
		cleanup.Start(a.runCleanup)
		return nil
	})

	group.Go(func() error {
		snapshots := scheduler.NewIntervalScheduler(ctx, "metrics-snapshot", a.cfg.Store.SnapshotInterval())
		snapshots.Start(a.persistMetricsSnapshot)
		return nil
	})

	logger.Infof("txpilot running, http on %s", a.http.Addr())
	return group.Wait()
}

func (a *App) runCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := a.manager.Cleanup(ctx, a.cfg.Store.Retention())
	if err != nil {
		logger.Warnf("order cleanup: %v", err)
		return
	}
	if n > 0 {
		logger.Infof("order cleanup: %d terminal orders removed", n)
	}
}

// persistMetricsSnapshot writes the current rolling-window stats so success
// rates survive a restart for offline inspection.
func (a *App) persistMetricsSnapshot() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	snap := a.metrics.Export()
	for window, stats := range snap.Windows {
		payload, err := json.Marshal(stats)
		if err != nil {
			logger.Warnf("metrics snapshot: marshal %s: %v", window, err)
			continue
		}
		rec := &model.MetricsSnapshotModel{
			WindowStartUnix: snap.GeneratedAt.Add(-window.Duration()).Unix(),
			Window:          string(window),
			PayloadJSON:     datatypes.JSON(payload),
			CreatedAtUnix:   snap.GeneratedAt.Unix(),
		}
		if err := a.store.Metrics().SaveSnapshot(ctx, rec); err != nil {
			logger.Warnf("metrics snapshot: save %s: %v", window, err)
		}
	}
}
