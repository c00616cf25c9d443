package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/taskflow/internal/auth"
	"github.com/kursadbilgin/taskflow/internal/domain"
)

type NotificationService interface {
	Publish(ctx context.Context, n *domain.Notification) (*domain.Notification, *domain.DeliveryJob, error)
	GetForRecipient(ctx context.Context, id string, userID string) (*domain.Notification, error)
}

type NotificationHandler struct {
	service NotificationService
}

func NewNotificationHandler(service NotificationService) (*NotificationHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("notification service is required")
	}
	return &NotificationHandler{service: service}, nil
}

func RegisterNotificationRoutes(router fiber.Router, service NotificationService, requireAuth fiber.Handler) error {
	h, err := NewNotificationHandler(service)
	if err != nil {
		return err
	}
	if requireAuth == nil {
		return fmt.Errorf("access token middleware is required")
	}

	v1 := router.Group("/v1/notifications", requireAuth)
	v1.Post("/", h.CreateNotification)
	v1.Get("/:id", h.GetNotification)

	return nil
}

type subjectRequest struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type createNotificationRequest struct {
	UserID   string         `json:"user_id"`
	Event    string         `json:"event"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata"`
	Subject  subjectRequest `json:"subject"`
}

type subjectResponse struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type notificationResponse struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	ActorID   *string         `json:"actor_id"`
	Event     string          `json:"event"`
	Message   string          `json:"message"`
	Metadata  map[string]any  `json:"metadata"`
	Subject   subjectResponse `json:"subject"`
	Read      bool            `json:"read"`
	CreatedAt time.Time       `json:"created_at"`
}

type createNotificationResponse struct {
	notificationResponse
	JobID     string `json:"job_id"`
	JobStatus string `json:"job_status"`
}

// CreateNotification records a notification from the caller to user_id and
// queues its webhook delivery.
func (h *NotificationHandler) CreateNotification(c *fiber.Ctx) error {
	actorID, ok := auth.UserID(c)
	if !ok {
		return auth.Unauthorized(c, auth.ErrUnauthorized)
	}

	var req createNotificationRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	n, err := requestToDomainNotification(req, actorID)
	if err != nil {
		return toHTTPError(err)
	}

	created, job, err := h.service.Publish(c.UserContext(), &n)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(createNotificationResponse{
		notificationResponse: toNotificationResponse(created),
		JobID:                job.ID,
		JobStatus:            job.Status.String(),
	})
}

func (h *NotificationHandler) GetNotification(c *fiber.Ctx) error {
	userID, ok := auth.UserID(c)
	if !ok {
		return auth.Unauthorized(c, auth.ErrUnauthorized)
	}

	n, err := h.service.GetForRecipient(c.UserContext(), strings.TrimSpace(c.Params("id")), userID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toNotificationResponse(n))
}

func requestToDomainNotification(req createNotificationRequest, actorID string) (domain.Notification, error) {
	event, err := domain.ParseEventType(req.Event)
	if err != nil {
		return domain.Notification{}, err
	}

	subjectType, err := domain.ParseSubjectType(req.Subject.Type)
	if err != nil {
		return domain.Notification{}, err
	}

	n := domain.Notification{
		UserID:    strings.TrimSpace(req.UserID),
		EventType: event,
		Message:   req.Message,
		Metadata:  req.Metadata,
		Subject: domain.SubjectRef{
			Type: subjectType,
			ID:   strings.TrimSpace(req.Subject.ID),
		},
	}
	if actorID = strings.TrimSpace(actorID); actorID != "" {
		n.ActorID = &actorID
	}
	return n, nil
}

func toNotificationResponse(n *domain.Notification) notificationResponse {
	if n == nil {
		return notificationResponse{}
	}

	metadata := n.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	return notificationResponse{
		ID:        n.ID,
		UserID:    n.UserID,
		ActorID:   n.ActorID,
		Event:     n.EventType.String(),
		Message:   n.Message,
		Metadata:  metadata,
		Subject:   subjectResponse{Type: n.Subject.Type.String(), ID: n.Subject.ID},
		Read:      n.Read,
		CreatedAt: n.CreatedAt,
	}
}
