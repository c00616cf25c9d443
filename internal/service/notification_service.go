package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/taskflow/internal/domain"
	"github.com/kursadbilgin/taskflow/internal/observability"
	"github.com/kursadbilgin/taskflow/internal/queue"
	"github.com/kursadbilgin/taskflow/internal/repository"
	"github.com/kursadbilgin/taskflow/internal/task"
	"go.uber.org/zap"
)

// publishGrace is how long a freshly created job waits before the retry
// scanner treats it as unpublished.
const publishGrace = 30 * time.Second

type NotificationService struct {
	notifications repository.NotificationRepository
	jobs          repository.DeliveryJobRepository
	publisher     queue.Publisher
	logger        *zap.Logger
	metrics       *observability.Metrics
	maxAttempts   int
	now           func() time.Time
	newID         func() string
}

func NewNotificationService(
	notifications repository.NotificationRepository,
	jobs repository.DeliveryJobRepository,
	publisher queue.Publisher,
	maxAttempts int,
	logger *zap.Logger,
) (*NotificationService, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if jobs == nil {
		return nil, fmt.Errorf("delivery job repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if maxAttempts < 1 {
		maxAttempts = task.DefaultMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &NotificationService{
		notifications: notifications,
		jobs:          jobs,
		publisher:     publisher,
		logger:        logger,
		maxAttempts:   maxAttempts,
		now:           time.Now,
		newID:         uuid.NewString,
	}, nil
}

func (s *NotificationService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Publish persists the notification together with its delivery job and
// enqueues the first attempt. A broker failure does not fail the call: the
// job keeps its next_run_at and the retry scanner publishes it later.
func (s *NotificationService) Publish(ctx context.Context, n *domain.Notification) (*domain.Notification, *domain.DeliveryJob, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.prepare(n); err != nil {
		return nil, nil, err
	}

	nextRunAt := n.CreatedAt.Add(publishGrace).Truncate(time.Microsecond)
	job := &domain.DeliveryJob{
		ID:             s.newID(),
		NotificationID: n.ID,
		Status:         domain.JobStatusQueued,
		MaxAttempts:    s.maxAttempts,
		NextRunAt:      &nextRunAt,
	}
	if err := s.notifications.CreateWithJob(ctx, n, job); err != nil {
		return nil, nil, err
	}

	logger := observability.WithContextLogger(s.logger, ctx)
	msg := queue.DeliveryMessage{JobID: job.ID, NotificationID: n.ID}
	if requestID, ok := observability.RequestIDFromContext(ctx); ok {
		msg.RequestID = requestID
	}

	err := s.publisher.Publish(ctx, queue.DeliveryQueue, msg)
	s.metrics.IncDeliveryPublish("api", err == nil)
	if err != nil {
		logger.Error("failed to publish delivery job, leaving it to the retry scanner",
			zap.String("notificationId", n.ID),
			zap.String("jobId", job.ID),
			zap.Error(err),
		)
		return n, job, nil
	}

	// A worker may have run the attempt before this point; the clear only
	// applies while the job is still QUEUED with the due time written above.
	cleared, err := s.jobs.ClearNextRunAt(ctx, job.ID, domain.JobStatusQueued, nextRunAt)
	if err != nil {
		// The scanner republishes; LockForRunning makes the duplicate harmless.
		logger.Warn("failed to clear next run time after publish",
			zap.String("jobId", job.ID),
			zap.Error(err),
		)
		return n, job, nil
	}
	if cleared {
		job.NextRunAt = nil
	}

	logger.Info("notification published",
		zap.String("notificationId", n.ID),
		zap.String("jobId", job.ID),
		zap.String("event", n.EventType.String()),
	)
	return n, job, nil
}

// GetForRecipient returns the notification only to its recipient; anyone
// else gets ErrNotFound.
func (s *NotificationService) GetForRecipient(ctx context.Context, id string, userID string) (*domain.Notification, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}

	n, err := s.notifications.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return n, nil
}

func (s *NotificationService) prepare(n *domain.Notification) error {
	if n == nil {
		return fmt.Errorf("%w: notification is required", domain.ErrValidation)
	}

	n.ID = s.newID()
	n.UserID = strings.TrimSpace(n.UserID)
	n.Message = strings.TrimSpace(n.Message)
	n.Subject.ID = strings.TrimSpace(n.Subject.ID)
	n.ActorID = normalizeOptionalString(n.ActorID)
	n.Read = false
	n.CreatedAt = s.now().UTC()

	return n.Validate()
}

func normalizeOptionalString(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// isNotFound keeps call sites short where ErrNotFound is an expected branch.
func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
