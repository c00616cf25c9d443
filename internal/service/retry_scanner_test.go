package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/taskflow/internal/domain"
	"github.com/kursadbilgin/taskflow/internal/queue"
	"go.uber.org/zap"
)

func TestNewRetryScannerValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRetryScanner(nil, &fakePublisher{}, 0, 0, zap.NewNop())
	if err == nil {
		t.Fatal("expected error when job repository is nil")
	}

	_, err = NewRetryScanner(&fakeDeliveryJobRepo{}, nil, 0, 0, zap.NewNop())
	if err == nil {
		t.Fatal("expected error when publisher is nil")
	}
}

func TestRetryScannerScanDuePublishesJobs(t *testing.T) {
	t.Parallel()

	due1 := serviceNow.Add(-time.Minute)
	due2 := serviceNow.Add(-time.Second)
	cleared := make([]string, 0, 2)
	jobs := &fakeDeliveryJobRepo{
		getDueForRetryFn: func(ctx context.Context, now time.Time, limit int) ([]domain.DeliveryJob, error) {
			if limit != 100 {
				t.Fatalf("limit = %d, want 100", limit)
			}
			if !now.Equal(serviceNow) {
				t.Fatalf("now = %v, want %v", now, serviceNow)
			}
			return []domain.DeliveryJob{
				{ID: "job-1", NotificationID: "n-1", Status: domain.JobStatusRetrying, NextRunAt: &due1},
				{ID: "job-2", NotificationID: "n-2", Status: domain.JobStatusQueued, NextRunAt: &due2},
			}, nil
		},
		clearNextRunAtFn: func(ctx context.Context, id string, status domain.JobStatus, expected time.Time) (bool, error) {
			switch id {
			case "job-1":
				if status != domain.JobStatusRetrying || !expected.Equal(due1) {
					t.Fatalf("job-1 clear guard = %s/%v, want RETRYING/%v", status, expected, due1)
				}
			case "job-2":
				if status != domain.JobStatusQueued || !expected.Equal(due2) {
					t.Fatalf("job-2 clear guard = %s/%v, want QUEUED/%v", status, expected, due2)
				}
			}
			cleared = append(cleared, id)
			return true, nil
		},
	}

	published := make([]queue.DeliveryMessage, 0, 2)
	publisher := &fakePublisher{
		publishFn: func(ctx context.Context, queueName string, msg queue.DeliveryMessage) error {
			if queueName != queue.DeliveryQueue {
				t.Fatalf("queue = %q, want %q", queueName, queue.DeliveryQueue)
			}
			published = append(published, msg)
			return nil
		},
	}

	scanner, err := NewRetryScanner(jobs, publisher, 5*time.Second, 100, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRetryScanner() error = %v", err)
	}
	scanner.now = func() time.Time { return serviceNow }

	if err := scanner.scanDue(context.Background()); err != nil {
		t.Fatalf("scanDue() error = %v", err)
	}

	if len(published) != 2 {
		t.Fatalf("published count = %d, want 2", len(published))
	}
	if published[0].JobID != "job-1" || published[0].NotificationID != "n-1" {
		t.Fatalf("first published = %+v, want job-1/n-1", published[0])
	}
	if published[1].JobID != "job-2" {
		t.Fatalf("second published = %+v, want job-2", published[1])
	}
	if len(cleared) != 2 {
		t.Fatalf("ClearNextRunAt count = %d, want 2", len(cleared))
	}
}

func TestRetryScannerScanDueContinuesOnPublishError(t *testing.T) {
	t.Parallel()

	due := serviceNow.Add(-time.Minute)
	cleared := make([]string, 0, 1)
	jobs := &fakeDeliveryJobRepo{
		getDueForRetryFn: func(ctx context.Context, now time.Time, limit int) ([]domain.DeliveryJob, error) {
			return []domain.DeliveryJob{
				{ID: "job-1", NotificationID: "n-1", Status: domain.JobStatusRetrying, NextRunAt: &due},
				{ID: "job-2", NotificationID: "n-2", Status: domain.JobStatusRetrying, NextRunAt: &due},
			}, nil
		},
		clearNextRunAtFn: func(ctx context.Context, id string, status domain.JobStatus, expected time.Time) (bool, error) {
			cleared = append(cleared, id)
			return true, nil
		},
	}

	calls := 0
	publisher := &fakePublisher{
		publishFn: func(ctx context.Context, queueName string, msg queue.DeliveryMessage) error {
			calls++
			if msg.JobID == "job-1" {
				return errors.New("publish failed")
			}
			return nil
		},
	}

	scanner, err := NewRetryScanner(jobs, publisher, time.Second, 100, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRetryScanner() error = %v", err)
	}

	if err := scanner.scanDue(context.Background()); err != nil {
		t.Fatalf("scanDue() error = %v", err)
	}

	if calls != 2 {
		t.Fatalf("publish calls = %d, want 2", calls)
	}
	if len(cleared) != 1 || cleared[0] != "job-2" {
		t.Fatalf("cleared = %v, want only job-2 so job-1 stays due", cleared)
	}
}

func TestRetryScannerScanDueRepositoryError(t *testing.T) {
	t.Parallel()

	jobs := &fakeDeliveryJobRepo{
		getDueForRetryFn: func(ctx context.Context, now time.Time, limit int) ([]domain.DeliveryJob, error) {
			return nil, errors.New("db unavailable")
		},
	}

	scanner, err := NewRetryScanner(jobs, &fakePublisher{}, time.Second, 100, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRetryScanner() error = %v", err)
	}

	err = scanner.scanDue(context.Background())
	if err == nil {
		t.Fatal("expected scanDue() error")
	}
}

func TestRetryScannerReleasesStaleRunningJobs(t *testing.T) {
	t.Parallel()

	var steps []string
	jobs := &fakeDeliveryJobRepo{
		releaseStaleFn: func(ctx context.Context, staleBefore time.Time, now time.Time) (int64, error) {
			steps = append(steps, "release")
			if want := serviceNow.Add(-defaultRunningLease); !staleBefore.Equal(want) {
				t.Fatalf("staleBefore = %v, want %v", staleBefore, want)
			}
			if !now.Equal(serviceNow) {
				t.Fatalf("now = %v, want %v", now, serviceNow)
			}
			return 1, nil
		},
		getDueForRetryFn: func(ctx context.Context, now time.Time, limit int) ([]domain.DeliveryJob, error) {
			steps = append(steps, "due")
			return []domain.DeliveryJob{
				{ID: "job-stuck", NotificationID: "n-1", Status: domain.JobStatusRetrying, NextRunAt: &now},
			}, nil
		},
	}

	var published []string
	publisher := &fakePublisher{
		publishFn: func(ctx context.Context, queueName string, msg queue.DeliveryMessage) error {
			published = append(published, msg.JobID)
			return nil
		},
	}

	scanner, err := NewRetryScanner(jobs, publisher, time.Second, 100, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRetryScanner() error = %v", err)
	}
	scanner.now = func() time.Time { return serviceNow }

	if err := scanner.scanDue(context.Background()); err != nil {
		t.Fatalf("scanDue() error = %v", err)
	}

	if len(steps) != 2 || steps[0] != "release" || steps[1] != "due" {
		t.Fatalf("steps = %v, want release before due scan", steps)
	}
	if len(published) != 1 || published[0] != "job-stuck" {
		t.Fatalf("published = %v, want job-stuck", published)
	}
}

func TestRetryScannerReleaseError(t *testing.T) {
	t.Parallel()

	jobs := &fakeDeliveryJobRepo{
		releaseStaleFn: func(ctx context.Context, staleBefore time.Time, now time.Time) (int64, error) {
			return 0, errors.New("db unavailable")
		},
		getDueForRetryFn: func(ctx context.Context, now time.Time, limit int) ([]domain.DeliveryJob, error) {
			t.Fatal("GetDueForRetry should not run after a failed release")
			return nil, nil
		},
	}

	scanner, err := NewRetryScanner(jobs, &fakePublisher{}, time.Second, 100, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRetryScanner() error = %v", err)
	}

	if err := scanner.scanDue(context.Background()); err == nil {
		t.Fatal("expected scanDue() error")
	}
}

func TestRetryScannerStartReturnsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	scanner, err := NewRetryScanner(&fakeDeliveryJobRepo{}, &fakePublisher{}, time.Second, 100, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRetryScanner() error = %v", err)
	}

	if err := scanner.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}
