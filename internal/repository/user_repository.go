package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/sustainage/admission-gate/internal/domain"
	"github.com/sustainage/admission-gate/internal/observability"
)

var ErrUserNotFound = errors.New("user not found")

type UserRepository interface {
	FindByID(ctx context.Context, id uint) (*domain.User, error)
	FindByUsername(ctx context.Context, username string) (*domain.User, error)
	Create(ctx context.Context, user *domain.User) error
	SoftDelete(ctx context.Context, id uint, at time.Time) (bool, error)
}

type GormUserRepository struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository { return &GormUserRepository{db: db} }

func (r *GormUserRepository) FindByID(ctx context.Context, id uint) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).Where("id = ? AND deleted_at IS NULL", id).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "user", "find_by_id", "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(ctx, "user", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "user", "find_by_id", "success")
	return &u, nil
}

func (r *GormUserRepository) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).Where("username = ? AND deleted_at IS NULL", username).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "user", "find_by_username", "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(ctx, "user", "find_by_username", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "user", "find_by_username", "success")
	return &u, nil
}

func (r *GormUserRepository) Create(ctx context.Context, user *domain.User) error {
	err := r.db.WithContext(ctx).Create(user).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "user", "create", "success")
	return nil
}

// SoftDelete deactivates the account and stamps deleted_at. The row stays for
// audit; the returned bool reports whether anything changed.
func (r *GormUserRepository) SoftDelete(ctx context.Context, id uint, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Updates(map[string]any{
			"deleted_at": at,
			"is_active":  false,
		})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "user", "soft_delete", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "user", "soft_delete", "success")
	return res.RowsAffected > 0, nil
}
