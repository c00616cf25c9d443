package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/taskflow/internal/domain"
	"github.com/kursadbilgin/taskflow/internal/observability"
	"go.uber.org/zap"
)

// UserStore is the persistence port for users and their refresh credential.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByRefreshJTI(ctx context.Context, refreshJTI string) (*domain.User, error)
	// RotateRefreshJTI replaces the stored refresh_jti only while it still
	// equals expectedJTI. It reports false when another rotation won.
	RotateRefreshJTI(ctx context.Context, userID string, expectedJTI string, newJTI string, expiresAt time.Time) (bool, error)
	SetRefreshJTI(ctx context.Context, userID string, newJTI string, expiresAt time.Time) error
	ClearRefreshJTI(ctx context.Context, userID string) error
}

// Session is the result of a successful login or refresh.
type Session struct {
	User            domain.User
	AccessToken     string
	AccessExpiresAt time.Time
	RefreshToken    string
}

// Refresher owns the refresh credential lifecycle: login issues it,
// refresh validates and rotates it, logout revokes it.
type Refresher struct {
	users   UserStore
	tokens  *TokenIssuer
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
	newID   func() string
}

func NewRefresher(users UserStore, tokens *TokenIssuer, logger *zap.Logger) (*Refresher, error) {
	if users == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token issuer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Refresher{
		users:  users,
		tokens: tokens,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}, nil
}

func (r *Refresher) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

// Refresh exchanges a refresh token for a new access token and a rotated
// refresh token. All validation happens before the single state change,
// so a failed refresh never touches the stored refresh_jti.
func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	session, err := r.refresh(ctx, refreshToken)
	r.recordRefresh(err)
	return session, err
}

func (r *Refresher) refresh(ctx context.Context, refreshToken string) (*Session, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, ErrMissingToken
	}

	claims, err := r.tokens.ParseRefreshToken(refreshToken)
	if err != nil {
		r.logger.Debug("refresh token rejected", zap.Error(err))
		return nil, err
	}

	user, err := r.users.GetByRefreshJTI(ctx, claims.RefreshJTI)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user by refresh jti: %w", err)
	}
	if user.ID != claims.Subject {
		r.logger.Warn("refresh token subject mismatch", zap.String("userId", user.ID))
		return nil, fmt.Errorf("%w: subject does not match session owner", ErrInvalidToken)
	}

	if user.RefreshExpired(r.now()) {
		return nil, ErrRefreshExpired
	}

	session, newJTI, expiresAt, err := r.mintSession(user)
	if err != nil {
		return nil, err
	}

	rotated, err := r.users.RotateRefreshJTI(ctx, user.ID, claims.RefreshJTI, newJTI, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to rotate refresh jti: %w", err)
	}
	if !rotated {
		// A concurrent refresh consumed the same token first.
		r.logger.Info("refresh token already consumed", zap.String("userId", user.ID))
		return nil, ErrUserNotFound
	}

	session.User.RefreshJTI = &newJTI
	session.User.RefreshExpiresAt = &expiresAt
	return session, nil
}

// Login verifies credentials and starts a new session, invalidating any
// refresh token issued before.
func (r *Refresher) Login(ctx context.Context, email string, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := r.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load user by email: %w", err)
	}

	ok, err := CheckPassword(user.PasswordHash, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	session, newJTI, expiresAt, err := r.mintSession(user)
	if err != nil {
		return nil, err
	}
	if err := r.users.SetRefreshJTI(ctx, user.ID, newJTI, expiresAt); err != nil {
		return nil, fmt.Errorf("failed to store refresh jti: %w", err)
	}

	session.User.RefreshJTI = &newJTI
	session.User.RefreshExpiresAt = &expiresAt
	r.logger.Info("user signed in", zap.String("userId", user.ID))
	return session, nil
}

// Logout revokes the user's refresh credential.
func (r *Refresher) Logout(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrUnauthorized
	}
	if err := r.users.ClearRefreshJTI(ctx, userID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ErrUnauthorized
		}
		return fmt.Errorf("failed to clear refresh jti: %w", err)
	}
	return nil
}

func (r *Refresher) mintSession(user *domain.User) (*Session, string, time.Time, error) {
	accessToken, accessExpiresAt, err := r.tokens.IssueAccessToken(user.ID, r.newID())
	if err != nil {
		return nil, "", time.Time{}, err
	}

	newJTI := r.newID()
	expiresAt := r.tokens.RefreshExpiry()
	refreshToken, err := r.tokens.IssueRefreshToken(user.ID, newJTI, expiresAt)
	if err != nil {
		return nil, "", time.Time{}, err
	}

	return &Session{
		User:            *user,
		AccessToken:     accessToken,
		AccessExpiresAt: accessExpiresAt,
		RefreshToken:    refreshToken,
	}, newJTI, expiresAt, nil
}

func (r *Refresher) recordRefresh(err error) {
	if r.metrics == nil {
		return
	}
	if err == nil {
		r.metrics.IncTokenRefresh("ok")
		return
	}
	if authErr, ok := AsError(err); ok {
		r.metrics.IncTokenRefresh(authErr.Code)
		return
	}
	r.metrics.IncTokenRefresh("error")
}
