package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/taskflow/internal/auth"
	"github.com/kursadbilgin/taskflow/internal/domain"
	"github.com/kursadbilgin/taskflow/internal/service"
)

const maxAttemptsLimit = 200

type SubscriptionService interface {
	Create(ctx context.Context, userID string, in service.CreateSubscriptionInput) (*domain.Subscription, error)
	List(ctx context.Context, userID string) ([]domain.Subscription, error)
	SetActive(ctx context.Context, id string, userID string, active bool) (*domain.Subscription, error)
	Delete(ctx context.Context, id string, userID string) error
	Attempts(ctx context.Context, id string, userID string, limit int) ([]domain.WebhookAttempt, error)
}

type WebhookHandler struct {
	service SubscriptionService
}

func NewWebhookHandler(service SubscriptionService) (*WebhookHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("subscription service is required")
	}
	return &WebhookHandler{service: service}, nil
}

// RegisterWebhookRoutes mounts the owner-scoped subscription endpoints
// behind requireAuth.
func RegisterWebhookRoutes(router fiber.Router, service SubscriptionService, requireAuth fiber.Handler) error {
	h, err := NewWebhookHandler(service)
	if err != nil {
		return err
	}
	if requireAuth == nil {
		return fmt.Errorf("access token middleware is required")
	}

	v1 := router.Group("/v1/webhooks", requireAuth)
	v1.Get("/", h.List)
	v1.Post("/", h.Create)
	v1.Patch("/:id", h.Update)
	v1.Delete("/:id", h.Delete)
	v1.Get("/:id/attempts", h.Attempts)

	return nil
}

type createWebhookRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}

type updateWebhookRequest struct {
	Active *bool `json:"active"`
}

type webhookResponse struct {
	ID            string     `json:"id"`
	URL           string     `json:"url"`
	Events        []string   `json:"events"`
	Active        bool       `json:"active"`
	FailureCount  int        `json:"failure_count"`
	LastSuccessAt *time.Time `json:"last_success_at"`
	LastFailureAt *time.Time `json:"last_failure_at"`
	CreatedAt     time.Time  `json:"created_at"`
	// Secret is only populated in the create response.
	Secret string `json:"secret,omitempty"`
}

type attemptResponse struct {
	ID             string    `json:"id"`
	NotificationID string    `json:"notification_id"`
	JobID          *string   `json:"job_id"`
	Delivered      bool      `json:"delivered"`
	StatusCode     *int      `json:"status_code"`
	Error          *string   `json:"error"`
	DurationMs     int64     `json:"duration_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

func (h *WebhookHandler) List(c *fiber.Ctx) error {
	userID, ok := auth.UserID(c)
	if !ok {
		return auth.Unauthorized(c, auth.ErrUnauthorized)
	}

	subs, err := h.service.List(c.UserContext(), userID)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]webhookResponse, 0, len(subs))
	for i := range subs {
		data = append(data, toWebhookResponse(&subs[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func (h *WebhookHandler) Create(c *fiber.Ctx) error {
	userID, ok := auth.UserID(c)
	if !ok {
		return auth.Unauthorized(c, auth.ErrUnauthorized)
	}

	var req createWebhookRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	sub, err := h.service.Create(c.UserContext(), userID, service.CreateSubscriptionInput{
		URL:    req.URL,
		Events: req.Events,
		Secret: req.Secret,
	})
	if err != nil {
		return toHTTPError(err)
	}

	resp := toWebhookResponse(sub)
	resp.Secret = sub.Secret
	return c.Status(fiber.StatusCreated).JSON(resp)
}

func (h *WebhookHandler) Update(c *fiber.Ctx) error {
	userID, ok := auth.UserID(c)
	if !ok {
		return auth.Unauthorized(c, auth.ErrUnauthorized)
	}

	var req updateWebhookRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if req.Active == nil {
		return toHTTPError(fmt.Errorf("%w: active is required", domain.ErrValidation))
	}

	sub, err := h.service.SetActive(c.UserContext(), strings.TrimSpace(c.Params("id")), userID, *req.Active)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toWebhookResponse(sub))
}

func (h *WebhookHandler) Delete(c *fiber.Ctx) error {
	userID, ok := auth.UserID(c)
	if !ok {
		return auth.Unauthorized(c, auth.ErrUnauthorized)
	}

	if err := h.service.Delete(c.UserContext(), strings.TrimSpace(c.Params("id")), userID); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *WebhookHandler) Attempts(c *fiber.Ctx) error {
	userID, ok := auth.UserID(c)
	if !ok {
		return auth.Unauthorized(c, auth.ErrUnauthorized)
	}

	limit := c.QueryInt("limit", 0)
	if limit < 0 || limit > maxAttemptsLimit {
		return toHTTPError(fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrValidation, maxAttemptsLimit))
	}

	attempts, err := h.service.Attempts(c.UserContext(), strings.TrimSpace(c.Params("id")), userID, limit)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]attemptResponse, 0, len(attempts))
	for _, a := range attempts {
		data = append(data, attemptResponse{
			ID:             a.ID,
			NotificationID: a.NotificationID,
			JobID:          a.JobID,
			Delivered:      a.Delivered,
			StatusCode:     a.StatusCode,
			Error:          a.Error,
			DurationMs:     a.DurationMs,
			CreatedAt:      a.CreatedAt,
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func toWebhookResponse(s *domain.Subscription) webhookResponse {
	events := make([]string, 0, len(s.Events))
	for _, ev := range s.Events {
		events = append(events, ev.String())
	}

	return webhookResponse{
		ID:            s.ID,
		URL:           s.URL,
		Events:        events,
		Active:        s.Active,
		FailureCount:  s.FailureCount,
		LastSuccessAt: s.LastSuccessAt,
		LastFailureAt: s.LastFailureAt,
		CreatedAt:     s.CreatedAt,
	}
}
