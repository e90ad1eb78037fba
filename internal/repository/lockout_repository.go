package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sustainage/admission-gate/internal/domain"
	"github.com/sustainage/admission-gate/internal/observability"
)

var ErrLockoutStateNotFound = errors.New("lockout state not found")

type LockoutRepository interface {
	Find(ctx context.Context, identity string) (*domain.LoginFailureState, error)
	IncrementFailure(ctx context.Context, identity string, at time.Time) (*domain.LoginFailureState, error)
	SetLock(ctx context.Context, identity string, until time.Time) error
	Reset(ctx context.Context, identity string) error
	ClearLock(ctx context.Context, identity string) error
}

type GormLockoutRepository struct{ db *gorm.DB }

func NewLockoutRepository(db *gorm.DB) LockoutRepository { return &GormLockoutRepository{db: db} }

func (r *GormLockoutRepository) Find(ctx context.Context, identity string) (*domain.LoginFailureState, error) {
	var s domain.LoginFailureState
	err := r.db.WithContext(ctx).Where("identity = ?", identity).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "lockout", "find", "not_found")
			return nil, ErrLockoutStateNotFound
		}
		observability.RecordRepositoryOperation(ctx, "lockout", "find", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "lockout", "find", "success")
	return &s, nil
}

// IncrementFailure bumps the durable counter with a single UPDATE so two
// concurrent failed logins cannot under-count. The row is created on first
// failure.
func (r *GormLockoutRepository) IncrementFailure(ctx context.Context, identity string, at time.Time) (*domain.LoginFailureState, error) {
	db := r.db.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identity"}},
		DoNothing: true,
	}).Create(&domain.LoginFailureState{Identity: identity}).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "lockout", "increment_failure", "error")
		return nil, err
	}
	err = db.Model(&domain.LoginFailureState{}).
		Where("identity = ?", identity).
		Updates(map[string]any{
			"failed_attempts": gorm.Expr("failed_attempts + ?", 1),
			"last_failure_at": at,
		}).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "lockout", "increment_failure", "error")
		return nil, err
	}
	var s domain.LoginFailureState
	if err := db.Where("identity = ?", identity).First(&s).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "lockout", "increment_failure", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "lockout", "increment_failure", "success")
	return &s, nil
}

// SetLock arms the lockout timer and zeroes the counter so the next cycle
// starts clean once the lock elapses.
func (r *GormLockoutRepository) SetLock(ctx context.Context, identity string, until time.Time) error {
	err := r.db.WithContext(ctx).Model(&domain.LoginFailureState{}).
		Where("identity = ?", identity).
		Updates(map[string]any{
			"locked_until":    until,
			"failed_attempts": 0,
		}).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "lockout", "set_lock", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "lockout", "set_lock", "success")
	return nil
}

func (r *GormLockoutRepository) Reset(ctx context.Context, identity string) error {
	err := r.db.WithContext(ctx).Model(&domain.LoginFailureState{}).
		Where("identity = ?", identity).
		Updates(map[string]any{
			"failed_attempts": 0,
			"locked_until":    nil,
		}).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "lockout", "reset", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "lockout", "reset", "success")
	return nil
}

func (r *GormLockoutRepository) ClearLock(ctx context.Context, identity string) error {
	err := r.db.WithContext(ctx).Model(&domain.LoginFailureState{}).
		Where("identity = ?", identity).
		Update("locked_until", nil).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "lockout", "clear_lock", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "lockout", "clear_lock", "success")
	return nil
}
