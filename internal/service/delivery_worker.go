package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/taskflow/internal/domain"
	"github.com/kursadbilgin/taskflow/internal/observability"
	"github.com/kursadbilgin/taskflow/internal/queue"
	"github.com/kursadbilgin/taskflow/internal/repository"
	"github.com/kursadbilgin/taskflow/internal/task"
	"github.com/kursadbilgin/taskflow/internal/webhook"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minWorkerConcurrency = 1
	// defaultRunningLease bounds how long a RUNNING job stays claimed by a
	// worker that may have crashed.
	defaultRunningLease = 15 * time.Minute
)

// ErrNotificationMissing marks a job whose notification no longer exists.
// Such jobs are discarded instead of retried.
var ErrNotificationMissing = errors.New("notification no longer exists")

// Dispatcher fans a notification out to its recipient's webhooks.
type Dispatcher interface {
	Dispatch(ctx context.Context, n domain.Notification, opts webhook.Options) (*webhook.Result, error)
}

// NotificationReader loads the notification a job delivers.
type NotificationReader interface {
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
}

// DeliveryRetryPolicy is the worker's schedule: with the default four
// attempts the retries wait 3s, 30s and 5m; the 30m step is reached only
// with a higher maxAttempts. Jobs are discarded when the notification is gone.
func DeliveryRetryPolicy(maxAttempts int) task.RetryPolicy {
	policy := task.DefaultRetryPolicy(task.DiscardOn(ErrNotificationMissing))
	if maxAttempts > 0 {
		policy.MaxAttempts = maxAttempts
	}
	return policy
}

// DeliveryWorker runs delivery job attempts taken from the queue.
type DeliveryWorker struct {
	jobs          repository.DeliveryJobRepository
	notifications NotificationReader
	consumer      queue.Consumer
	dispatcher    Dispatcher
	policy        task.RetryPolicy
	logger        *zap.Logger
	metrics       *observability.Metrics
	concurrency   int
	lease         time.Duration
	now           func() time.Time
}

func NewDeliveryWorker(
	jobs repository.DeliveryJobRepository,
	notifications NotificationReader,
	consumer queue.Consumer,
	dispatcher Dispatcher,
	policy task.RetryPolicy,
	concurrency int,
	logger *zap.Logger,
) (*DeliveryWorker, error) {
	if jobs == nil {
		return nil, fmt.Errorf("delivery job repository is required")
	}
	if notifications == nil {
		return nil, fmt.Errorf("notification reader is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if len(policy.Backoff) == 0 || policy.MaxAttempts < 1 {
		return nil, fmt.Errorf("retry policy needs a backoff schedule and at least one attempt")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DeliveryWorker{
		jobs:          jobs,
		notifications: notifications,
		consumer:      consumer,
		dispatcher:    dispatcher,
		policy:        policy,
		logger:        logger,
		concurrency:   concurrency,
		lease:         defaultRunningLease,
		now:           time.Now,
	}, nil
}

func (w *DeliveryWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Start consumes the delivery queue with the configured number of
// consumers until ctx is cancelled.
func (w *DeliveryWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("delivery worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queue.DeliveryQueue),
			)

			if err := w.consumer.Consume(groupCtx, queue.DeliveryQueue, w.processMessage); err != nil {
				w.logger.Error("delivery worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("delivery worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

// processMessage runs one attempt of a delivery job. A returned error means
// the job state could not be read or written and the message is requeued;
// delivery failures themselves are persisted and acknowledged.
func (w *DeliveryWorker) processMessage(ctx context.Context, msg queue.DeliveryMessage) error {
	if msg.RequestID != "" {
		ctx = observability.WithRequestID(ctx, msg.RequestID)
	}
	ctx = observability.WithJobID(ctx, msg.JobID)
	logger := observability.WithContextLogger(w.logger, ctx).With(
		zap.String("notificationId", msg.NotificationID),
	)

	job, err := w.jobs.LockForRunning(ctx, msg.JobID, w.now().UTC(), w.lease)
	if err != nil {
		if isNotFound(err) {
			logger.Warn("delivery job not found, skipping")
			return nil
		}
		return fmt.Errorf("failed to lock delivery job: %w", err)
	}
	// Nil means finished, claimed by another worker, or not yet due.
	if job == nil {
		return nil
	}

	if w.metrics != nil {
		w.metrics.IncWorkerInFlight()
		defer w.metrics.DecWorkerInFlight()
	}

	result, runErr := w.run(ctx, job)
	delivered := mergeDelivered(job.DeliveredSubscriptionIDs, result.Delivered())

	if runErr == nil {
		if failed := result.Failed(); failed > 0 {
			logger.Warn("delivery finished with failed webhooks",
				zap.Int("failed", failed),
				zap.Int("total", len(result.Outcomes)),
				zap.String("message", result.Message),
			)
		}
		if err := w.jobs.Complete(ctx, job.ID, delivered); err != nil {
			return fmt.Errorf("failed to complete delivery job: %w", err)
		}
		w.recordJob("completed")
		return nil
	}

	decision := w.policy.Decide(job.Attempts, runErr)
	switch decision.Action {
	case task.ActionDiscard:
		logger.Info("discarding delivery job", zap.Error(runErr))
		if err := w.jobs.Discard(ctx, job.ID, runErr.Error()); err != nil {
			return fmt.Errorf("failed to discard delivery job: %w", err)
		}
		w.recordJob("discarded")
	case task.ActionRetry:
		nextRunAt := w.now().UTC().Add(decision.Delay)
		logger.Warn("delivery attempt failed, retry scheduled",
			zap.Int("attempt", job.Attempts),
			zap.Duration("delay", decision.Delay),
			zap.Error(runErr),
		)
		if err := w.jobs.ScheduleRetry(ctx, job.ID, nextRunAt, runErr.Error(), delivered); err != nil {
			return fmt.Errorf("failed to schedule delivery retry: %w", err)
		}
		w.recordJob("retried")
	default:
		logger.Error("delivery attempts exhausted",
			zap.Int("attempt", job.Attempts),
			zap.Error(runErr),
		)
		if err := w.jobs.MarkDead(ctx, job.ID, runErr.Error(), delivered); err != nil {
			return fmt.Errorf("failed to mark delivery job dead: %w", err)
		}
		w.recordJob("dead")
	}

	return nil
}

// run loads the notification and dispatches it. A panic below this point
// becomes a retriable error.
func (w *DeliveryWorker) run(ctx context.Context, job *domain.DeliveryJob) (result *webhook.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = fmt.Errorf("delivery panicked: %v", rec)
		}
	}()

	n, err := w.notifications.GetByID(ctx, job.NotificationID)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotificationMissing, job.NotificationID)
		}
		return nil, fmt.Errorf("failed to load notification: %w", err)
	}

	return w.dispatcher.Dispatch(ctx, *n, webhook.Options{
		JobID: job.ID,
		Skip:  job.DeliveredSubscriptionIDs,
	})
}

func (w *DeliveryWorker) recordJob(result string) {
	if w.metrics != nil {
		w.metrics.IncDeliveryJob(result)
	}
}

func mergeDelivered(previous []string, current []string) []string {
	seen := make(map[string]struct{}, len(previous)+len(current))
	out := make([]string, 0, len(previous)+len(current))
	for _, ids := range [][]string{previous, current} {
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
