package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kursadbilgin/taskflow/internal/domain"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

type UserRepository interface {
	Create(ctx context.Context, u *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByRefreshJTI(ctx context.Context, refreshJTI string) (*domain.User, error)
	RotateRefreshJTI(ctx context.Context, userID string, expectedJTI string, newJTI string, expiresAt time.Time) (bool, error)
	SetRefreshJTI(ctx context.Context, userID string, newJTI string, expiresAt time.Time) error
	ClearRefreshJTI(ctx context.Context, userID string) error
}

type GormUserRepo struct {
	db *gorm.DB
}

func NewGormUserRepo(db *gorm.DB) *GormUserRepo {
	return &GormUserRepo{db: db}
}

func (r *GormUserRepo) Create(ctx context.Context, u *domain.User) error {
	model := userModelFromDomain(u)
	if model == nil {
		return errors.New("user is required")
	}
	model.Email = strings.ToLower(strings.TrimSpace(model.Email))

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return err
	}
	*u = *userModelToDomain(model)
	return nil
}

func (r *GormUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *GormUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.first(ctx, "email = ?", strings.ToLower(strings.TrimSpace(email)))
}

func (r *GormUserRepo) GetByRefreshJTI(ctx context.Context, refreshJTI string) (*domain.User, error) {
	if strings.TrimSpace(refreshJTI) == "" {
		return nil, domain.ErrNotFound
	}
	return r.first(ctx, "refresh_jti = ?", refreshJTI)
}

// RotateRefreshJTI is a compare-and-swap on refresh_jti. Of two requests
// racing with the same token, the database lets exactly one row update
// succeed; the loser sees zero rows affected.
func (r *GormUserRepo) RotateRefreshJTI(ctx context.Context, userID string, expectedJTI string, newJTI string, expiresAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&UserModel{}).
		Where("id = ? AND refresh_jti = ?", userID, expectedJTI).
		Updates(map[string]any{
			"refresh_jti":        newJTI,
			"refresh_expires_at": expiresAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormUserRepo) SetRefreshJTI(ctx context.Context, userID string, newJTI string, expiresAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&UserModel{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"refresh_jti":        newJTI,
			"refresh_expires_at": expiresAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormUserRepo) ClearRefreshJTI(ctx context.Context, userID string) error {
	result := r.db.WithContext(ctx).
		Model(&UserModel{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"refresh_jti":        nil,
			"refresh_expires_at": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormUserRepo) first(ctx context.Context, query string, args ...any) (*domain.User, error) {
	var model UserModel
	err := r.db.WithContext(ctx).Where(query, args...).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return userModelToDomain(&model), nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
