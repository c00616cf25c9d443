package repository

import (
	"time"

	"github.com/kursadbilgin/taskflow/internal/domain"
	"gorm.io/datatypes"
)

// UserModel is the persistence model for the users table.
type UserModel struct {
	ID               string  `gorm:"type:uuid;primaryKey"`
	Name             string  `gorm:"type:varchar(255);not null"`
	Email            string  `gorm:"type:varchar(255);not null"`
	PasswordHash     string  `gorm:"type:varchar(255);not null"`
	RefreshJTI       *string `gorm:"column:refresh_jti;type:varchar(64)"`
	RefreshExpiresAt *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (UserModel) TableName() string {
	return "users"
}

// SubscriptionModel is the persistence model for webhook_subscriptions.
type SubscriptionModel struct {
	ID            string                                `gorm:"type:uuid;primaryKey"`
	UserID        string                                `gorm:"type:uuid;not null"`
	URL           string                                `gorm:"type:text;not null"`
	Secret        string                                `gorm:"type:varchar(255);not null"`
	Active        bool                                  `gorm:"not null;default:true"`
	Events        datatypes.JSONSlice[domain.EventType] `gorm:"type:jsonb;not null"`
	FailureCount  int                                   `gorm:"not null;default:0"`
	LastSuccessAt *time.Time
	LastFailureAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (SubscriptionModel) TableName() string {
	return "webhook_subscriptions"
}

// NotificationModel is the persistence model for the notifications table.
type NotificationModel struct {
	ID          string             `gorm:"type:uuid;primaryKey"`
	UserID      string             `gorm:"type:uuid;not null"`
	ActorID     *string            `gorm:"type:uuid"`
	EventType   domain.EventType   `gorm:"type:varchar(40);not null"`
	Message     string             `gorm:"type:text;not null"`
	Metadata    datatypes.JSONMap  `gorm:"type:jsonb"`
	SubjectType domain.SubjectType `gorm:"type:varchar(20);not null"`
	SubjectID   string             `gorm:"type:varchar(64);not null"`
	Read        bool               `gorm:"not null;default:false"`
	CreatedAt   time.Time
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// DeliveryJobModel is the persistence model for delivery_jobs.
type DeliveryJobModel struct {
	ID                       string                      `gorm:"type:uuid;primaryKey"`
	NotificationID           string                      `gorm:"type:uuid;not null"`
	Status                   domain.JobStatus            `gorm:"type:varchar(20);not null"`
	Attempts                 int                         `gorm:"not null;default:0"`
	MaxAttempts              int                         `gorm:"not null;default:4"`
	NextRunAt                *time.Time                  `gorm:"type:timestamptz"`
	LastError                *string                     `gorm:"type:text"`
	DeliveredSubscriptionIDs datatypes.JSONSlice[string] `gorm:"type:jsonb"`
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

func (DeliveryJobModel) TableName() string {
	return "delivery_jobs"
}

// WebhookAttemptModel is the persistence model for webhook_attempts.
type WebhookAttemptModel struct {
	ID             string  `gorm:"type:uuid;primaryKey"`
	SubscriptionID string  `gorm:"type:uuid;not null"`
	NotificationID string  `gorm:"type:uuid;not null"`
	JobID          *string `gorm:"type:uuid"`
	StatusCode     *int    `gorm:"type:int"`
	Error          *string `gorm:"type:text"`
	Delivered      bool    `gorm:"not null"`
	DurationMs     int64   `gorm:"not null;default:0"`
	CreatedAt      time.Time
}

func (WebhookAttemptModel) TableName() string {
	return "webhook_attempts"
}

func userModelFromDomain(u *domain.User) *UserModel {
	if u == nil {
		return nil
	}

	return &UserModel{
		ID:               u.ID,
		Name:             u.Name,
		Email:            u.Email,
		PasswordHash:     u.PasswordHash,
		RefreshJTI:       u.RefreshJTI,
		RefreshExpiresAt: u.RefreshExpiresAt,
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
	}
}

func userModelToDomain(m *UserModel) *domain.User {
	if m == nil {
		return nil
	}

	return &domain.User{
		ID:               m.ID,
		Name:             m.Name,
		Email:            m.Email,
		PasswordHash:     m.PasswordHash,
		RefreshJTI:       m.RefreshJTI,
		RefreshExpiresAt: m.RefreshExpiresAt,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func subscriptionModelFromDomain(s *domain.Subscription) *SubscriptionModel {
	if s == nil {
		return nil
	}

	return &SubscriptionModel{
		ID:            s.ID,
		UserID:        s.UserID,
		URL:           s.URL,
		Secret:        s.Secret,
		Active:        s.Active,
		Events:        datatypes.JSONSlice[domain.EventType](s.Events),
		FailureCount:  s.FailureCount,
		LastSuccessAt: s.LastSuccessAt,
		LastFailureAt: s.LastFailureAt,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

func subscriptionModelToDomain(m *SubscriptionModel) *domain.Subscription {
	if m == nil {
		return nil
	}

	return &domain.Subscription{
		ID:            m.ID,
		UserID:        m.UserID,
		URL:           m.URL,
		Secret:        m.Secret,
		Active:        m.Active,
		Events:        []domain.EventType(m.Events),
		FailureCount:  m.FailureCount,
		LastSuccessAt: m.LastSuccessAt,
		LastFailureAt: m.LastFailureAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	if n == nil {
		return nil
	}

	return &NotificationModel{
		ID:          n.ID,
		UserID:      n.UserID,
		ActorID:     n.ActorID,
		EventType:   n.EventType,
		Message:     n.Message,
		Metadata:    datatypes.JSONMap(n.Metadata),
		SubjectType: n.Subject.Type,
		SubjectID:   n.Subject.ID,
		Read:        n.Read,
		CreatedAt:   n.CreatedAt,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	return &domain.Notification{
		ID:        m.ID,
		UserID:    m.UserID,
		ActorID:   m.ActorID,
		EventType: m.EventType,
		Message:   m.Message,
		Metadata:  map[string]any(m.Metadata),
		Subject:   domain.SubjectRef{Type: m.SubjectType, ID: m.SubjectID},
		Read:      m.Read,
		CreatedAt: m.CreatedAt,
	}
}

func deliveryJobModelFromDomain(j *domain.DeliveryJob) *DeliveryJobModel {
	if j == nil {
		return nil
	}

	return &DeliveryJobModel{
		ID:                       j.ID,
		NotificationID:           j.NotificationID,
		Status:                   j.Status,
		Attempts:                 j.Attempts,
		MaxAttempts:              j.MaxAttempts,
		NextRunAt:                j.NextRunAt,
		LastError:                j.LastError,
		DeliveredSubscriptionIDs: datatypes.JSONSlice[string](j.DeliveredSubscriptionIDs),
		CreatedAt:                j.CreatedAt,
		UpdatedAt:                j.UpdatedAt,
	}
}

func deliveryJobModelToDomain(m *DeliveryJobModel) *domain.DeliveryJob {
	if m == nil {
		return nil
	}

	return &domain.DeliveryJob{
		ID:                       m.ID,
		NotificationID:           m.NotificationID,
		Status:                   m.Status,
		Attempts:                 m.Attempts,
		MaxAttempts:              m.MaxAttempts,
		NextRunAt:                m.NextRunAt,
		LastError:                m.LastError,
		DeliveredSubscriptionIDs: []string(m.DeliveredSubscriptionIDs),
		CreatedAt:                m.CreatedAt,
		UpdatedAt:                m.UpdatedAt,
	}
}

func webhookAttemptModelFromDomain(a *domain.WebhookAttempt) *WebhookAttemptModel {
	if a == nil {
		return nil
	}

	return &WebhookAttemptModel{
		ID:             a.ID,
		SubscriptionID: a.SubscriptionID,
		NotificationID: a.NotificationID,
		JobID:          a.JobID,
		StatusCode:     a.StatusCode,
		Error:          a.Error,
		Delivered:      a.Delivered,
		DurationMs:     a.DurationMs,
		CreatedAt:      a.CreatedAt,
	}
}

func webhookAttemptModelToDomain(m *WebhookAttemptModel) *domain.WebhookAttempt {
	if m == nil {
		return nil
	}

	return &domain.WebhookAttempt{
		ID:             m.ID,
		SubscriptionID: m.SubscriptionID,
		NotificationID: m.NotificationID,
		JobID:          m.JobID,
		StatusCode:     m.StatusCode,
		Error:          m.Error,
		Delivered:      m.Delivered,
		DurationMs:     m.DurationMs,
		CreatedAt:      m.CreatedAt,
	}
}
