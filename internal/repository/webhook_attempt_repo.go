package repository

import (
	"context"

	"github.com/kursadbilgin/taskflow/internal/domain"
	"gorm.io/gorm"
)

const defaultAttemptListLimit = 50

type WebhookAttemptRepository interface {
	Create(ctx context.Context, a *domain.WebhookAttempt) error
	ListBySubscription(ctx context.Context, subscriptionID string, limit int) ([]domain.WebhookAttempt, error)
}

type GormWebhookAttemptRepo struct {
	db *gorm.DB
}

func NewGormWebhookAttemptRepo(db *gorm.DB) *GormWebhookAttemptRepo {
	return &GormWebhookAttemptRepo{db: db}
}

func (r *GormWebhookAttemptRepo) Create(ctx context.Context, a *domain.WebhookAttempt) error {
	model := webhookAttemptModelFromDomain(a)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if a != nil {
		*a = *webhookAttemptModelToDomain(model)
	}
	return nil
}

// ListBySubscription returns the most recent attempts first.
func (r *GormWebhookAttemptRepo) ListBySubscription(ctx context.Context, subscriptionID string, limit int) ([]domain.WebhookAttempt, error) {
	if limit < 1 {
		limit = defaultAttemptListLimit
	}
	limit = min(limit, 200)

	var models []WebhookAttemptModel
	err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	attempts := make([]domain.WebhookAttempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, *webhookAttemptModelToDomain(&models[i]))
	}

	return attempts, nil
}
