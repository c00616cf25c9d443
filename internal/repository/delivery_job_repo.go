package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/taskflow/internal/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DeliveryJobRepository interface {
	GetByID(ctx context.Context, id string) (*domain.DeliveryJob, error)
	LockForRunning(ctx context.Context, id string, now time.Time, lease time.Duration) (*domain.DeliveryJob, error)
	Complete(ctx context.Context, id string, delivered []string) error
	ScheduleRetry(ctx context.Context, id string, nextRunAt time.Time, lastError string, delivered []string) error
	Discard(ctx context.Context, id string, reason string) error
	MarkDead(ctx context.Context, id string, lastError string, delivered []string) error
	GetDueForRetry(ctx context.Context, now time.Time, limit int) ([]domain.DeliveryJob, error)
	ReleaseStale(ctx context.Context, staleBefore time.Time, now time.Time) (int64, error)
	ClearNextRunAt(ctx context.Context, id string, status domain.JobStatus, expected time.Time) (bool, error)
}

// leaseExpiredError is recorded on jobs taken back from a worker that
// stopped heartbeating mid-attempt.
const leaseExpiredError = "running lease expired"

type GormDeliveryJobRepo struct {
	db *gorm.DB
}

func NewGormDeliveryJobRepo(db *gorm.DB) *GormDeliveryJobRepo {
	return &GormDeliveryJobRepo{db: db}
}

func (r *GormDeliveryJobRepo) GetByID(ctx context.Context, id string) (*domain.DeliveryJob, error) {
	var model DeliveryJobModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return deliveryJobModelToDomain(&model), nil
}

// LockForRunning claims the job for one attempt and bumps its attempt
// counter. It returns nil, nil when the job must not run now: it is
// terminal, a retry is not yet due, or another worker holds a fresh lease.
// A RUNNING job whose lease is older than lease is reclaimed.
func (r *GormDeliveryJobRepo) LockForRunning(ctx context.Context, id string, now time.Time, lease time.Duration) (*domain.DeliveryJob, error) {
	var locked *domain.DeliveryJob

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model DeliveryJobModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		switch {
		case model.Status.IsTerminal():
			return nil
		case model.Status == domain.JobStatusRunning && model.UpdatedAt.After(now.Add(-lease)):
			return nil
		case model.Status == domain.JobStatusRetrying && model.NextRunAt != nil && model.NextRunAt.After(now):
			return nil
		}

		model.Status = domain.JobStatusRunning
		model.Attempts++
		model.NextRunAt = nil
		model.UpdatedAt = now
		if err := tx.Model(&model).Updates(map[string]any{
			"status":      domain.JobStatusRunning,
			"attempts":    model.Attempts,
			"next_run_at": nil,
			"updated_at":  now,
		}).Error; err != nil {
			return err
		}

		locked = deliveryJobModelToDomain(&model)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return locked, nil
}

func (r *GormDeliveryJobRepo) Complete(ctx context.Context, id string, delivered []string) error {
	return r.update(ctx, id, map[string]any{
		"status":                     domain.JobStatusCompleted,
		"next_run_at":                nil,
		"last_error":                 nil,
		"delivered_subscription_ids": datatypes.JSONSlice[string](delivered),
	})
}

func (r *GormDeliveryJobRepo) ScheduleRetry(ctx context.Context, id string, nextRunAt time.Time, lastError string, delivered []string) error {
	return r.update(ctx, id, map[string]any{
		"status":                     domain.JobStatusRetrying,
		"next_run_at":                nextRunAt,
		"last_error":                 lastError,
		"delivered_subscription_ids": datatypes.JSONSlice[string](delivered),
	})
}

func (r *GormDeliveryJobRepo) Discard(ctx context.Context, id string, reason string) error {
	return r.update(ctx, id, map[string]any{
		"status":      domain.JobStatusDiscarded,
		"next_run_at": nil,
		"last_error":  reason,
	})
}

func (r *GormDeliveryJobRepo) MarkDead(ctx context.Context, id string, lastError string, delivered []string) error {
	return r.update(ctx, id, map[string]any{
		"status":                     domain.JobStatusDead,
		"next_run_at":                nil,
		"last_error":                 lastError,
		"delivered_subscription_ids": datatypes.JSONSlice[string](delivered),
	})
}

// GetDueForRetry returns jobs waiting for (re)publication: retries whose
// backoff elapsed and queued jobs whose initial publish never happened.
func (r *GormDeliveryJobRepo) GetDueForRetry(ctx context.Context, now time.Time, limit int) ([]domain.DeliveryJob, error) {
	var models []DeliveryJobModel
	err := r.db.WithContext(ctx).
		Where("status IN ? AND next_run_at <= ?", []domain.JobStatus{domain.JobStatusRetrying, domain.JobStatusQueued}, now).
		Order("next_run_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	jobs := make([]domain.DeliveryJob, 0, len(models))
	for i := range models {
		jobs = append(jobs, *deliveryJobModelToDomain(&models[i]))
	}
	return jobs, nil
}

// ReleaseStale turns RUNNING jobs whose lease started at or before
// staleBefore into retries due at now, so the scanner republishes them.
// The status and updated_at checks run in the UPDATE itself; a worker that
// finished in the meantime is left alone.
func (r *GormDeliveryJobRepo) ReleaseStale(ctx context.Context, staleBefore time.Time, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&DeliveryJobModel{}).
		Where("status = ? AND updated_at <= ?", domain.JobStatusRunning, staleBefore).
		Updates(map[string]any{
			"status":      domain.JobStatusRetrying,
			"next_run_at": now,
			"last_error":  leaseExpiredError,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// ClearNextRunAt drops the due time of a job that was just published, but
// only while the job still has the status and next_run_at the publisher
// read. A worker may already have run the attempt and scheduled another
// retry; that schedule must survive. It reports whether a row changed.
func (r *GormDeliveryJobRepo) ClearNextRunAt(ctx context.Context, id string, status domain.JobStatus, expected time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&DeliveryJobModel{}).
		Where("id = ? AND status = ? AND next_run_at = ?", id, status, expected.UTC().Truncate(time.Microsecond)).
		Update("next_run_at", nil)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormDeliveryJobRepo) update(ctx context.Context, id string, values map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&DeliveryJobModel{}).
		Where("id = ?", id).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
