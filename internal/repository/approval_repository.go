package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/sustainage/admission-gate/internal/domain"
	"github.com/sustainage/admission-gate/internal/observability"
)

var (
	ErrApprovalNotFound       = errors.New("pending approval not found")
	ErrApprovalAlreadyPending = errors.New("approval already pending")
)

type ApprovalRepository interface {
	FindPending(ctx context.Context, actionType, targetID string) (*domain.PendingApproval, error)
	Create(ctx context.Context, a *domain.PendingApproval) error
	Consume(ctx context.Context, id uint, by string, at time.Time) (bool, error)
	MarkExpired(ctx context.Context, id uint) (bool, error)
}

type GormApprovalRepository struct{ db *gorm.DB }

func NewApprovalRepository(db *gorm.DB) ApprovalRepository { return &GormApprovalRepository{db: db} }

func (r *GormApprovalRepository) FindPending(ctx context.Context, actionType, targetID string) (*domain.PendingApproval, error) {
	var a domain.PendingApproval
	err := r.db.WithContext(ctx).
		Where("action_type = ? AND target_id = ? AND status = ?", actionType, targetID, domain.ApprovalStatusPending).
		First(&a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "approval", "find_pending", "not_found")
			return nil, ErrApprovalNotFound
		}
		observability.RecordRepositoryOperation(ctx, "approval", "find_pending", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "approval", "find_pending", "success")
	return &a, nil
}

// Create inserts a fresh pending row. The partial unique index on
// (action_type, target_id) over pending rows makes the first writer win;
// losers get ErrApprovalAlreadyPending.
func (r *GormApprovalRepository) Create(ctx context.Context, a *domain.PendingApproval) error {
	err := r.db.WithContext(ctx).Create(a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			observability.RecordRepositoryOperation(ctx, "approval", "create", "conflict")
			return ErrApprovalAlreadyPending
		}
		observability.RecordRepositoryOperation(ctx, "approval", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "approval", "create", "success")
	return nil
}

// Consume is the linearization point of the two-stage protocol: the status
// flip only succeeds while the row is still pending, so exactly one caller
// wins regardless of how many saw it pending.
func (r *GormApprovalRepository) Consume(ctx context.Context, id uint, by string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.PendingApproval{}).
		Where("id = ? AND status = ?", id, domain.ApprovalStatusPending).
		Updates(map[string]any{
			"status":      domain.ApprovalStatusConsumed,
			"consumed_by": by,
			"consumed_at": at,
		})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "approval", "consume", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "approval", "consume", "success")
	return res.RowsAffected > 0, nil
}

// MarkExpired settles a pending row whose TTL elapsed. Guarded on status the
// same way Consume is, so an expire and a consume can never both apply.
func (r *GormApprovalRepository) MarkExpired(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.PendingApproval{}).
		Where("id = ? AND status = ?", id, domain.ApprovalStatusPending).
		Update("status", domain.ApprovalStatusExpired)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "approval", "mark_expired", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "approval", "mark_expired", "success")
	return res.RowsAffected > 0, nil
}
