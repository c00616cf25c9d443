package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/taskflow/internal/auth"
	"github.com/kursadbilgin/taskflow/internal/domain"
)

// AuthService is the session lifecycle behind the auth endpoints.
type AuthService interface {
	Login(ctx context.Context, email string, password string) (*auth.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*auth.Session, error)
	Logout(ctx context.Context, userID string) error
}

type AuthHandler struct {
	service AuthService
	now     func() time.Time
}

func NewAuthHandler(service AuthService) (*AuthHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("auth service is required")
	}
	return &AuthHandler{service: service, now: time.Now}, nil
}

// RegisterAuthRoutes mounts login, refresh and logout. requireAuth guards
// logout and is normally auth.RequireAccessToken.
func RegisterAuthRoutes(router fiber.Router, service AuthService, requireAuth fiber.Handler) error {
	h, err := NewAuthHandler(service)
	if err != nil {
		return err
	}
	if requireAuth == nil {
		return fmt.Errorf("access token middleware is required")
	}

	v1 := router.Group("/v1/auth")
	v1.Post("/login", h.Login)
	v1.Post("/refresh", h.Refresh)
	v1.Post("/logout", requireAuth, h.Logout)

	return nil
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type userResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type sessionResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	User         userResponse `json:"user"`
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	session, err := h.service.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return authFailure(c, err)
	}
	return h.writeSession(c, session)
}

// Refresh exchanges a refresh token for a new token pair. The new access
// token is also returned in the Authorization header.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req refreshRequest
	if err := bindJSON(c, &req); err != nil {
		return auth.Unauthorized(c, auth.ErrMissingToken)
	}

	session, err := h.service.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return authFailure(c, err)
	}
	return h.writeSession(c, session)
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	userID, ok := auth.UserID(c)
	if !ok {
		return auth.Unauthorized(c, auth.ErrUnauthorized)
	}

	if err := h.service.Logout(c.UserContext(), userID); err != nil {
		return authFailure(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *AuthHandler) writeSession(c *fiber.Ctx, session *auth.Session) error {
	expiresIn := int64(session.AccessExpiresAt.Sub(h.now()).Round(time.Second) / time.Second)
	if expiresIn < 0 {
		expiresIn = 0
	}

	c.Set(fiber.HeaderAuthorization, "Bearer "+session.AccessToken)
	return c.Status(fiber.StatusOK).JSON(sessionResponse{
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
		User:         toUserResponse(session.User),
	})
}

func toUserResponse(u domain.User) userResponse {
	return userResponse{ID: u.ID, Name: u.Name, Email: u.Email}
}
