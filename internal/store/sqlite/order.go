package sqlite

import (
	"context"
	"errors"
	"time"

	"txpilot/internal/store/model"

	"gorm.io/gorm"
)

type orderRepository struct {
	db *gorm.DB
}

func (r *orderRepository) Create(ctx context.Context, order *model.OrderModel) error {
	if order == nil {
		return errors.New("order cannot be nil")
	}
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *orderRepository) FindByID(ctx context.Context, id string) (*model.OrderModel, error) {
	var order model.OrderModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) FindByIdempotencyKey(ctx context.Context, key string) (*model.OrderModel, error) {
	if key == "" {
		return nil, nil
	}
	var order model.OrderModel
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateWhereStatus is the single-row transactional transition primitive.
// The WHERE guard on the current status makes concurrent workers racing for
// the same order resolve to exactly one winner.
func (r *orderRepository) UpdateWhereStatus(ctx context.Context, id, fromStatus string, fields map[string]any) (bool, error) {
	fields["updated_at"] = time.Now().Unix()
	res := r.db.WithContext(ctx).
		Model(&model.OrderModel{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *orderRepository) Update(ctx context.Context, id string, fields map[string]any) error {
	if _, ok := fields["updated_at"]; !ok {
		fields["updated_at"] = time.Now().Unix()
	}
	return r.db.WithContext(ctx).
		Model(&model.OrderModel{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *orderRepository) ListByStatus(ctx context.Context, statuses []string) ([]model.OrderModel, error) {
	var orders []model.OrderModel
	if err := r.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("created_at ASC, id ASC").
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *orderRepository) CountByStatus(ctx context.Context, statuses []string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.OrderModel{}).
		Where("status IN ?", statuses).
		Count(&count).Error
	return count, err
}

func (r *orderRepository) DeleteTerminalBefore(ctx context.Context, statuses []string, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", statuses, cutoff.Unix()).
		Delete(&model.OrderModel{})
	return res.RowsAffected, res.Error
}
