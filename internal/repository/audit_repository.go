package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/sustainage/admission-gate/internal/domain"
	"github.com/sustainage/admission-gate/internal/observability"
)

// AuditRepository is append-only by construction: no read or update methods
// exist on purpose. Operator tooling reads the table through its own path.
type AuditRepository interface {
	Append(ctx context.Context, rec *domain.AuditRecord) error
}

type GormAuditRepository struct{ db *gorm.DB }

func NewAuditRepository(db *gorm.DB) AuditRepository { return &GormAuditRepository{db: db} }

func (r *GormAuditRepository) Append(ctx context.Context, rec *domain.AuditRecord) error {
	err := r.db.WithContext(ctx).Create(rec).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "audit", "append", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "audit", "append", "success")
	return nil
}
