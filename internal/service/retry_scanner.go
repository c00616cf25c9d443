package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/taskflow/internal/observability"
	"github.com/kursadbilgin/taskflow/internal/queue"
	"github.com/kursadbilgin/taskflow/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultRetryScanInterval = 5 * time.Second
	defaultRetryScanLimit    = 100
)

// RetryScanner periodically republishes delivery jobs whose next run is
// due: scheduled retries, jobs whose first publish was lost, and RUNNING
// jobs whose worker let the lease run out.
type RetryScanner struct {
	jobs      repository.DeliveryJobRepository
	publisher queue.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics
	interval  time.Duration
	limit     int
	lease     time.Duration
	now       func() time.Time
}

func NewRetryScanner(
	jobs repository.DeliveryJobRepository,
	publisher queue.Publisher,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*RetryScanner, error) {
	if jobs == nil {
		return nil, fmt.Errorf("delivery job repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultRetryScanInterval
	}
	if limit <= 0 {
		limit = defaultRetryScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryScanner{
		jobs:      jobs,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		limit:     limit,
		lease:     defaultRunningLease,
		now:       time.Now,
	}, nil
}

func (s *RetryScanner) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *RetryScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial scan so already-due retries do not wait for the first ticker edge.
	if err := s.scanDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("retry scanner initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scanDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("retry scanner scan failed", zap.Error(err))
			}
		}
	}
}

func (s *RetryScanner) scanDue(ctx context.Context) error {
	now := s.now().UTC()

	released, err := s.jobs.ReleaseStale(ctx, now.Add(-s.lease), now)
	if err != nil {
		return fmt.Errorf("failed to release stale delivery jobs: %w", err)
	}
	if released > 0 {
		s.logger.Warn("released delivery jobs with an expired lease", zap.Int64("count", released))
	}

	dueJobs, err := s.jobs.GetDueForRetry(ctx, now, s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch due delivery jobs: %w", err)
	}

	republished := 0
	for i := range dueJobs {
		job := dueJobs[i]
		msg := queue.DeliveryMessage{
			JobID:          job.ID,
			NotificationID: job.NotificationID,
		}

		err := s.publisher.Publish(ctx, queue.DeliveryQueue, msg)
		s.metrics.IncDeliveryPublish("scanner", err == nil)
		if err != nil {
			s.logger.Error("failed to enqueue due delivery job",
				zap.String("jobId", job.ID),
				zap.String("status", job.Status.String()),
				zap.Error(err),
			)
			continue
		}
		republished++

		if job.NextRunAt == nil {
			continue
		}
		if _, err := s.jobs.ClearNextRunAt(ctx, job.ID, job.Status, *job.NextRunAt); err != nil {
			s.logger.Error("failed to clear next run time after enqueue",
				zap.String("jobId", job.ID),
				zap.Error(err),
			)
		}
	}

	if len(dueJobs) > 0 {
		s.logger.Debug("retry scan finished",
			zap.Int("due", len(dueJobs)),
			zap.Int("republished", republished),
		)
	}
	return nil
}
