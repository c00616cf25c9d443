package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Subscription is an external endpoint a user registered for webhook delivery.
type Subscription struct {
	ID            string
	UserID        string
	URL           string
	Secret        string
	Active        bool
	Events        []EventType
	FailureCount  int
	LastSuccessAt *time.Time
	LastFailureAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Accepts reports whether the subscription should receive the event:
// it must be active and subscribed to the event type.
func (s *Subscription) Accepts(event EventType) bool {
	if s == nil || !s.Active {
		return false
	}
	for _, ev := range s.Events {
		if ev == event {
			return true
		}
	}
	return false
}

func (s *Subscription) Validate() error {
	if strings.TrimSpace(s.UserID) == "" {
		return fmt.Errorf("%w: owner is required", ErrValidation)
	}
	if err := ValidateWebhookURL(s.URL); err != nil {
		return err
	}
	if strings.TrimSpace(s.Secret) == "" {
		return fmt.Errorf("%w: secret is required", ErrValidation)
	}
	if len(s.Events) == 0 {
		return fmt.Errorf("%w: at least one event type is required", ErrValidation)
	}
	for _, ev := range s.Events {
		if !ev.IsValid() {
			return fmt.Errorf("%w: invalid event type %q", ErrValidation, ev)
		}
	}
	return nil
}

func ValidateWebhookURL(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fmt.Errorf("%w: url is required", ErrValidation)
	}
	u, err := url.ParseRequestURI(trimmed)
	if err != nil {
		return fmt.Errorf("%w: invalid url: %v", ErrValidation, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: url scheme must be http or https", ErrValidation)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: url host is required", ErrValidation)
	}
	return nil
}
