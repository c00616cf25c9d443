package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kursadbilgin/taskflow/internal/domain"
	"github.com/kursadbilgin/taskflow/internal/repository"
	"go.uber.org/zap"
)

const (
	secretBytes          = 32
	defaultAttemptsLimit = 50
)

// CreateSubscriptionInput is the owner-supplied part of a subscription.
type CreateSubscriptionInput struct {
	URL    string
	Events []string
	Secret string
}

type SubscriptionService struct {
	subscriptions repository.SubscriptionRepository
	attempts      repository.WebhookAttemptRepository
	logger        *zap.Logger
	newID         func() string
	randRead      func([]byte) (int, error)
}

func NewSubscriptionService(
	subscriptions repository.SubscriptionRepository,
	attempts repository.WebhookAttemptRepository,
	logger *zap.Logger,
) (*SubscriptionService, error) {
	if subscriptions == nil {
		return nil, fmt.Errorf("subscription repository is required")
	}
	if attempts == nil {
		return nil, fmt.Errorf("webhook attempt repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SubscriptionService{
		subscriptions: subscriptions,
		attempts:      attempts,
		logger:        logger,
		newID:         uuid.NewString,
		randRead:      rand.Read,
	}, nil
}

// Create registers a new active endpoint for userID. When no secret is
// given a random one is generated; the returned subscription carries it.
func (s *SubscriptionService) Create(ctx context.Context, userID string, in CreateSubscriptionInput) (*domain.Subscription, error) {
	events, err := parseEvents(in.Events)
	if err != nil {
		return nil, err
	}

	secret := strings.TrimSpace(in.Secret)
	if secret == "" {
		secret, err = s.generateSecret()
		if err != nil {
			return nil, err
		}
	}

	sub := &domain.Subscription{
		ID:     s.newID(),
		UserID: strings.TrimSpace(userID),
		URL:    strings.TrimSpace(in.URL),
		Secret: secret,
		Active: true,
		Events: events,
	}
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	if err := s.subscriptions.Create(ctx, sub); err != nil {
		return nil, err
	}

	s.logger.Info("webhook subscription created",
		zap.String("subscriptionId", sub.ID),
		zap.String("userId", sub.UserID),
		zap.Int("events", len(sub.Events)),
	)
	return sub, nil
}

func (s *SubscriptionService) List(ctx context.Context, userID string) ([]domain.Subscription, error) {
	return s.subscriptions.ListByUser(ctx, userID)
}

func (s *SubscriptionService) SetActive(ctx context.Context, id string, userID string, active bool) (*domain.Subscription, error) {
	if err := s.subscriptions.SetActive(ctx, strings.TrimSpace(id), userID, active); err != nil {
		return nil, err
	}
	return s.subscriptions.GetForUser(ctx, strings.TrimSpace(id), userID)
}

func (s *SubscriptionService) Delete(ctx context.Context, id string, userID string) error {
	return s.subscriptions.Delete(ctx, strings.TrimSpace(id), userID)
}

// Attempts lists recent deliveries of a subscription owned by userID.
func (s *SubscriptionService) Attempts(ctx context.Context, id string, userID string, limit int) ([]domain.WebhookAttempt, error) {
	sub, err := s.subscriptions.GetForUser(ctx, strings.TrimSpace(id), userID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultAttemptsLimit
	}
	return s.attempts.ListBySubscription(ctx, sub.ID, limit)
}

func (s *SubscriptionService) generateSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := s.randRead(buf); err != nil {
		return "", fmt.Errorf("failed to generate webhook secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// parseEvents validates and de-duplicates event names, keeping their order.
func parseEvents(raw []string) ([]domain.EventType, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: at least one event type is required", domain.ErrValidation)
	}

	seen := make(map[domain.EventType]struct{}, len(raw))
	events := make([]domain.EventType, 0, len(raw))
	for _, name := range raw {
		ev, err := domain.ParseEventType(name)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[ev]; ok {
			continue
		}
		seen[ev] = struct{}{}
		events = append(events, ev)
	}
	return events, nil
}
