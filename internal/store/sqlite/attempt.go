package sqlite

import (
	"context"
	"errors"
	"time"

	"txpilot/internal/store/model"

	"gorm.io/gorm"
)

type attemptRepository struct {
	db *gorm.DB
}

func (r *attemptRepository) Append(ctx context.Context, attempt *model.AttemptModel) error {
	if attempt == nil {
		return errors.New("attempt cannot be nil")
	}
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *attemptRepository) ListByOrder(ctx context.Context, orderID string, limit int) ([]model.AttemptModel, error) {
	var attempts []model.AttemptModel
	if limit <= 0 {
		limit = 100
	}
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("started_at ASC, id ASC").
		Limit(limit).
		Find(&attempts).Error; err != nil {
		return nil, err
	}
	return attempts, nil
}

type metricsRepository struct {
	db *gorm.DB
}

func (r *metricsRepository) SaveSnapshot(ctx context.Context, snap *model.MetricsSnapshotModel) error {
	if snap == nil {
		return errors.New("snapshot cannot be nil")
	}
	if snap.CreatedAtUnix == 0 {
		snap.CreatedAtUnix = time.Now().Unix()
	}
	return r.db.WithContext(ctx).Create(snap).Error
}

func (r *metricsRepository) ListSnapshots(ctx context.Context, since time.Time) ([]model.MetricsSnapshotModel, error) {
	var snaps []model.MetricsSnapshotModel
	if err := r.db.WithContext(ctx).
		Where("created_at >= ?", since.Unix()).
		Order("window_start ASC, id ASC").
		Find(&snaps).Error; err != nil {
		return nil, err
	}
	return snaps, nil
}
