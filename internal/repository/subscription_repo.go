package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/taskflow/internal/domain"
	"gorm.io/gorm"
)

type SubscriptionRepository interface {
	Create(ctx context.Context, s *domain.Subscription) error
	GetForUser(ctx context.Context, id string, userID string) (*domain.Subscription, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Subscription, error)
	ListActiveByUser(ctx context.Context, userID string) ([]domain.Subscription, error)
	SetActive(ctx context.Context, id string, userID string, active bool) error
	Delete(ctx context.Context, id string, userID string) error
	RecordSuccess(ctx context.Context, id string, at time.Time) error
	RecordFailure(ctx context.Context, id string, at time.Time) error
}

type GormSubscriptionRepo struct {
	db *gorm.DB
}

func NewGormSubscriptionRepo(db *gorm.DB) *GormSubscriptionRepo {
	return &GormSubscriptionRepo{db: db}
}

func (r *GormSubscriptionRepo) Create(ctx context.Context, s *domain.Subscription) error {
	model := subscriptionModelFromDomain(s)
	if model == nil {
		return errors.New("subscription is required")
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	*s = *subscriptionModelToDomain(model)
	return nil
}

// GetForUser hides other users' subscriptions behind ErrNotFound.
func (r *GormSubscriptionRepo) GetForUser(ctx context.Context, id string, userID string) (*domain.Subscription, error) {
	var model SubscriptionModel
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return subscriptionModelToDomain(&model), nil
}

func (r *GormSubscriptionRepo) ListByUser(ctx context.Context, userID string) ([]domain.Subscription, error) {
	return r.list(ctx, r.db.WithContext(ctx).Where("user_id = ?", userID))
}

// ListActiveByUser returns active subscriptions in creation order. Event
// filtering happens in the dispatcher.
func (r *GormSubscriptionRepo) ListActiveByUser(ctx context.Context, userID string) ([]domain.Subscription, error) {
	return r.list(ctx, r.db.WithContext(ctx).Where("user_id = ? AND active = ?", userID, true))
}

func (r *GormSubscriptionRepo) SetActive(ctx context.Context, id string, userID string, active bool) error {
	result := r.db.WithContext(ctx).
		Model(&SubscriptionModel{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("active", active)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormSubscriptionRepo) Delete(ctx context.Context, id string, userID string) error {
	result := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&SubscriptionModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// RecordSuccess resets the failure streak. Concurrent updates for the
// same subscription may interleave; the counter is approximate.
func (r *GormSubscriptionRepo) RecordSuccess(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&SubscriptionModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"failure_count":   0,
			"last_success_at": at,
		}).Error
}

func (r *GormSubscriptionRepo) RecordFailure(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&SubscriptionModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"failure_count":   gorm.Expr("failure_count + 1"),
			"last_failure_at": at,
		}).Error
}

func (r *GormSubscriptionRepo) list(ctx context.Context, query *gorm.DB) ([]domain.Subscription, error) {
	var models []SubscriptionModel
	if err := query.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	subs := make([]domain.Subscription, 0, len(models))
	for i := range models {
		subs = append(subs, *subscriptionModelToDomain(&models[i]))
	}
	return subs, nil
}
