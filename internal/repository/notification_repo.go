package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/taskflow/internal/domain"
	"gorm.io/gorm"
)

type NotificationRepository interface {
	// CreateWithJob stores the notification and its delivery job atomically.
	CreateWithJob(ctx context.Context, n *domain.Notification, job *domain.DeliveryJob) error
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
}

type GormNotificationRepo struct {
	db *gorm.DB
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db}
}

func (r *GormNotificationRepo) CreateWithJob(ctx context.Context, n *domain.Notification, job *domain.DeliveryJob) error {
	notificationModel := notificationModelFromDomain(n)
	jobModel := deliveryJobModelFromDomain(job)
	if notificationModel == nil || jobModel == nil {
		return errors.New("notification and job are required")
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(notificationModel).Error; err != nil {
			return err
		}
		return tx.Create(jobModel).Error
	})
	if err != nil {
		return err
	}

	*n = *notificationModelToDomain(notificationModel)
	*job = *deliveryJobModelToDomain(jobModel)
	return nil
}

func (r *GormNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}
