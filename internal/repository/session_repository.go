package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/sustainage/admission-gate/internal/domain"
	"github.com/sustainage/admission-gate/internal/observability"
)

var ErrSessionNotFound = errors.New("session not found")

type SessionRepository interface {
	Create(ctx context.Context, s *domain.Session) error
	FindActiveByHash(ctx context.Context, hash string, now time.Time) (*domain.Session, error)
	RevokeByHash(ctx context.Context, hash, reason string, at time.Time) error
	RevokeByUserID(ctx context.Context, userID uint, reason string, at time.Time) error
	CleanupExpired(ctx context.Context, now time.Time) (int64, error)
}

type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &GormSessionRepository{db: db} }

func (r *GormSessionRepository) Create(ctx context.Context, s *domain.Session) error {
	err := r.db.WithContext(ctx).Create(s).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "create", "success")
	return nil
}

func (r *GormSessionRepository) FindActiveByHash(ctx context.Context, hash string, now time.Time) (*domain.Session, error) {
	var s domain.Session
	err := r.db.WithContext(ctx).
		Where("token_hash = ? AND revoked_at IS NULL AND expires_at > ?", hash, now).
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "session", "find_active_by_hash", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(ctx, "session", "find_active_by_hash", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "find_active_by_hash", "success")
	return &s, nil
}

func (r *GormSessionRepository) RevokeByHash(ctx context.Context, hash, reason string, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("token_hash = ? AND revoked_at IS NULL", hash).
		Updates(map[string]any{"revoked_at": at, "revoked_reason": reason}).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "revoke_by_hash", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "revoke_by_hash", "success")
	return nil
}

func (r *GormSessionRepository) RevokeByUserID(ctx context.Context, userID uint, reason string, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Updates(map[string]any{"revoked_at": at, "revoked_reason": reason}).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "revoke_by_user_id", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "revoke_by_user_id", "success")
	return nil
}

func (r *GormSessionRepository) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "cleanup_expired", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "session", "cleanup_expired", "success")
	return res.RowsAffected, nil
}
