package domain

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of a delivery job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "QUEUED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusRetrying  JobStatus = "RETRYING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusDiscarded JobStatus = "DISCARDED"
	JobStatusDead      JobStatus = "DEAD"
)

func (s JobStatus) String() string { return string(s) }

func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusRetrying,
		JobStatusCompleted, JobStatusDiscarded, JobStatusDead:
		return true
	}
	return false
}

// IsTerminal reports whether no further attempts will be made.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusDiscarded, JobStatusDead:
		return true
	}
	return false
}

func ParseJobStatusFromString(s string) (JobStatus, error) {
	st := JobStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid job status %q", ErrValidation, s)
	}
	return st, nil
}

// DeliveryJob is the persisted state of the retrying delivery task for one
// notification. DeliveredSubscriptionIDs accumulates subscriptions that
// already received the notification so retries skip them.
type DeliveryJob struct {
	ID                       string
	NotificationID           string
	Status                   JobStatus
	Attempts                 int
	MaxAttempts              int
	NextRunAt                *time.Time
	LastError                *string
	DeliveredSubscriptionIDs []string
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// WebhookAttempt records a single outbound POST to one subscription.
type WebhookAttempt struct {
	ID             string
	SubscriptionID string
	NotificationID string
	JobID          *string
	StatusCode     *int
	Error          *string
	Delivered      bool
	DurationMs     int64
	CreatedAt      time.Time
}
