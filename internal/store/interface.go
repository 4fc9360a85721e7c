package store

import (
	"context"
	"time"

	"txpilot/internal/store/model"
)

// Store aggregates the persistence surfaces used by the execution core.
type Store interface {
	Orders() OrderRepository
	Attempts() AttemptRepository
	Metrics() MetricsRepository
	Close() error
}

// OrderRepository persists the order arena keyed by order id.
type OrderRepository interface {
	Create(ctx context.Context, order *model.OrderModel) error
	FindByID(ctx context.Context, id string) (*model.OrderModel, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*model.OrderModel, error)
	// UpdateWhereStatus applies fields in a single guarded row update and
	// reports false when the order is no longer in fromStatus. This is the
	// primitive behind atomic state transitions.
	UpdateWhereStatus(ctx context.Context, id, fromStatus string, fields map[string]any) (bool, error)
	Update(ctx context.Context, id string, fields map[string]any) error
	ListByStatus(ctx context.Context, statuses []string) ([]model.OrderModel, error)
	CountByStatus(ctx context.Context, statuses []string) (int64, error)
	DeleteTerminalBefore(ctx context.Context, statuses []string, cutoff time.Time) (int64, error)
}

// AttemptRepository stores immutable per-try execution records.
type AttemptRepository interface {
	Append(ctx context.Context, attempt *model.AttemptModel) error
	ListByOrder(ctx context.Context, orderID string, limit int) ([]model.AttemptModel, error)
}

// MetricsRepository stores periodic aggregate snapshots keyed by window start.
type MetricsRepository interface {
	SaveSnapshot(ctx context.Context, snap *model.MetricsSnapshotModel) error
	ListSnapshots(ctx context.Context, since time.Time) ([]model.MetricsSnapshotModel, error)
}
