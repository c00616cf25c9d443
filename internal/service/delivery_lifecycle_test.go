package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/taskflow/internal/domain"
	"github.com/kursadbilgin/taskflow/internal/queue"
	"go.uber.org/zap"
)

// memJobStore keeps delivery jobs in memory with the same guards the gorm
// repository applies in SQL, so services can be run against each other.
type memJobStore struct {
	mu   sync.Mutex
	jobs map[string]domain.DeliveryJob
	now  func() time.Time
}

func newMemJobStore(jobs ...domain.DeliveryJob) *memJobStore {
	s := &memJobStore{jobs: make(map[string]domain.DeliveryJob), now: func() time.Time { return serviceNow }}
	for _, job := range jobs {
		s.jobs[job.ID] = job
	}
	return s
}

func (s *memJobStore) get(id string) domain.DeliveryJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

func (s *memJobStore) put(job domain.DeliveryJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.UpdatedAt = s.now()
	s.jobs[job.ID] = job
}

func (s *memJobStore) GetByID(ctx context.Context, id string) (*domain.DeliveryJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &job, nil
}

func (s *memJobStore) LockForRunning(ctx context.Context, id string, now time.Time, lease time.Duration) (*domain.DeliveryJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	switch {
	case job.Status.IsTerminal():
		return nil, nil
	case job.Status == domain.JobStatusRunning && job.UpdatedAt.After(now.Add(-lease)):
		return nil, nil
	case job.Status == domain.JobStatusRetrying && job.NextRunAt != nil && job.NextRunAt.After(now):
		return nil, nil
	}
	job.Status = domain.JobStatusRunning
	job.Attempts++
	job.NextRunAt = nil
	job.UpdatedAt = now
	s.jobs[id] = job
	return &job, nil
}

func (s *memJobStore) update(id string, fn func(job *domain.DeliveryJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	fn(&job)
	job.UpdatedAt = s.now()
	s.jobs[id] = job
	return nil
}

func (s *memJobStore) Complete(ctx context.Context, id string, delivered []string) error {
	return s.update(id, func(job *domain.DeliveryJob) {
		job.Status = domain.JobStatusCompleted
		job.NextRunAt = nil
		job.LastError = nil
		job.DeliveredSubscriptionIDs = delivered
	})
}

func (s *memJobStore) ScheduleRetry(ctx context.Context, id string, nextRunAt time.Time, lastError string, delivered []string) error {
	return s.update(id, func(job *domain.DeliveryJob) {
		job.Status = domain.JobStatusRetrying
		job.NextRunAt = &nextRunAt
		job.LastError = &lastError
		job.DeliveredSubscriptionIDs = delivered
	})
}

func (s *memJobStore) Discard(ctx context.Context, id string, reason string) error {
	return s.update(id, func(job *domain.DeliveryJob) {
		job.Status = domain.JobStatusDiscarded
		job.NextRunAt = nil
		job.LastError = &reason
	})
}

func (s *memJobStore) MarkDead(ctx context.Context, id string, lastError string, delivered []string) error {
	return s.update(id, func(job *domain.DeliveryJob) {
		job.Status = domain.JobStatusDead
		job.NextRunAt = nil
		job.LastError = &lastError
		job.DeliveredSubscriptionIDs = delivered
	})
}

func (s *memJobStore) GetDueForRetry(ctx context.Context, now time.Time, limit int) ([]domain.DeliveryJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []domain.DeliveryJob
	for _, job := range s.jobs {
		if job.Status != domain.JobStatusRetrying && job.Status != domain.JobStatusQueued {
			continue
		}
		if job.NextRunAt == nil || job.NextRunAt.After(now) {
			continue
		}
		due = append(due, job)
		if len(due) == limit {
			break
		}
	}
	return due, nil
}

func (s *memJobStore) ReleaseStale(ctx context.Context, staleBefore time.Time, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var released int64
	for id, job := range s.jobs {
		if job.Status != domain.JobStatusRunning || job.UpdatedAt.After(staleBefore) {
			continue
		}
		reason := "running lease expired"
		due := now
		job.Status = domain.JobStatusRetrying
		job.NextRunAt = &due
		job.LastError = &reason
		job.UpdatedAt = now
		s.jobs[id] = job
		released++
	}
	return released, nil
}

func (s *memJobStore) ClearNextRunAt(ctx context.Context, id string, status domain.JobStatus, expected time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != status || job.NextRunAt == nil || !job.NextRunAt.Equal(expected) {
		return false, nil
	}
	job.NextRunAt = nil
	s.jobs[id] = job
	return true, nil
}

func newLifecycleWorker(t *testing.T, store *memJobStore, notifications *fakeNotificationRepo, dispatcher *fakeDispatcher) *DeliveryWorker {
	t.Helper()

	worker, err := NewDeliveryWorker(store, notifications, &fakeConsumer{}, dispatcher, DeliveryRetryPolicy(0), 1, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDeliveryWorker() error = %v", err)
	}
	worker.now = func() time.Time { return serviceNow }
	return worker
}

// The broker can hand the message to a worker before Publish returns. If
// that attempt fails, the retry it schedules must not be wiped by the
// post-publish clear.
func TestPublishKeepsRetryScheduledByFastWorker(t *testing.T) {
	t.Parallel()

	store := newMemJobStore()
	notifications := &fakeNotificationRepo{
		createWithJobFn: func(ctx context.Context, n *domain.Notification, job *domain.DeliveryJob) error {
			store.put(*job)
			return nil
		},
		getByIDFn: func(ctx context.Context, id string) (*domain.Notification, error) {
			return nil, errors.New("replica lag")
		},
	}
	worker := newLifecycleWorker(t, store, notifications, &fakeDispatcher{})

	publisher := &fakePublisher{
		publishFn: func(ctx context.Context, queueName string, msg queue.DeliveryMessage) error {
			if err := worker.processMessage(ctx, msg); err != nil {
				t.Fatalf("processMessage() error = %v", err)
			}
			return nil
		},
	}
	svc := newTestNotificationService(t, notifications, &fakeDeliveryJobRepo{}, publisher)
	svc.jobs = store

	_, job, err := svc.Publish(context.Background(), validNotification())
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	stored := store.get(job.ID)
	if stored.Status != domain.JobStatusRetrying {
		t.Fatalf("status = %s, want RETRYING", stored.Status)
	}
	if stored.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", stored.Attempts)
	}
	want := serviceNow.Add(3 * time.Second)
	if stored.NextRunAt == nil || !stored.NextRunAt.Equal(want) {
		t.Fatalf("next run = %v, want %v", stored.NextRunAt, want)
	}

	due, err := store.GetDueForRetry(context.Background(), want, 10)
	if err != nil {
		t.Fatalf("GetDueForRetry() error = %v", err)
	}
	if len(due) != 1 || due[0].ID != job.ID {
		t.Fatalf("due = %+v, want the retried job", due)
	}
}

func TestPublishClearsNextRunWhenNoWorkerRanYet(t *testing.T) {
	t.Parallel()

	store := newMemJobStore()
	notifications := &fakeNotificationRepo{
		createWithJobFn: func(ctx context.Context, n *domain.Notification, job *domain.DeliveryJob) error {
			store.put(*job)
			return nil
		},
	}
	svc := newTestNotificationService(t, notifications, &fakeDeliveryJobRepo{}, &fakePublisher{})
	svc.jobs = store

	_, job, err := svc.Publish(context.Background(), validNotification())
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	stored := store.get(job.ID)
	if stored.Status != domain.JobStatusQueued || stored.NextRunAt != nil {
		t.Fatalf("stored = %s/%v, want QUEUED without next run", stored.Status, stored.NextRunAt)
	}
}

// A worker that dies mid-attempt leaves its job RUNNING. Redelivered
// messages are acked while the lease is fresh, so only the scanner can
// bring the job back.
func TestScannerRecoversJobStuckInRunning(t *testing.T) {
	t.Parallel()

	store := newMemJobStore(
		domain.DeliveryJob{
			ID:             "job-stuck",
			NotificationID: "n-1",
			Status:         domain.JobStatusRunning,
			Attempts:       1,
			MaxAttempts:    4,
			UpdatedAt:      serviceNow.Add(-defaultRunningLease - time.Minute),
		},
		domain.DeliveryJob{
			ID:             "job-busy",
			NotificationID: "n-2",
			Status:         domain.JobStatusRunning,
			Attempts:       1,
			MaxAttempts:    4,
			UpdatedAt:      serviceNow.Add(-time.Minute),
		},
	)
	worker := newLifecycleWorker(t, store, existingNotification(), &fakeDispatcher{})

	var published []string
	publisher := &fakePublisher{
		publishFn: func(ctx context.Context, queueName string, msg queue.DeliveryMessage) error {
			published = append(published, msg.JobID)
			return worker.processMessage(ctx, msg)
		},
	}

	scanner, err := NewRetryScanner(store, publisher, time.Second, 100, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRetryScanner() error = %v", err)
	}
	scanner.now = func() time.Time { return serviceNow }

	if err := scanner.scanDue(context.Background()); err != nil {
		t.Fatalf("scanDue() error = %v", err)
	}

	if len(published) != 1 || published[0] != "job-stuck" {
		t.Fatalf("published = %v, want only job-stuck", published)
	}
	stuck := store.get("job-stuck")
	if stuck.Status != domain.JobStatusCompleted || stuck.Attempts != 2 {
		t.Fatalf("job-stuck = %s after %d attempts, want COMPLETED after 2", stuck.Status, stuck.Attempts)
	}
	if busy := store.get("job-busy"); busy.Status != domain.JobStatusRunning {
		t.Fatalf("job-busy status = %s, want RUNNING", busy.Status)
	}
}
