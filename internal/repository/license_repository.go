package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/sustainage/admission-gate/internal/domain"
	"github.com/sustainage/admission-gate/internal/observability"
)

var ErrLicenseNotFound = errors.New("license not found")

type LicenseRepository interface {
	Create(ctx context.Context, l *domain.License) error
	FindByToken(ctx context.Context, token string) (*domain.License, error)
	FindLatestActiveByCompany(ctx context.Context, companyID uint, now time.Time) (*domain.License, error)
	Revoke(ctx context.Context, token, reason string, at time.Time) (bool, error)
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

type GormLicenseRepository struct{ db *gorm.DB }

func NewLicenseRepository(db *gorm.DB) LicenseRepository { return &GormLicenseRepository{db: db} }

func (r *GormLicenseRepository) Create(ctx context.Context, l *domain.License) error {
	err := r.db.WithContext(ctx).Create(l).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "license", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "license", "create", "success")
	return nil
}

func (r *GormLicenseRepository) FindByToken(ctx context.Context, token string) (*domain.License, error) {
	var l domain.License
	err := r.db.WithContext(ctx).Where("token = ?", token).First(&l).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "license", "find_by_token", "not_found")
			return nil, ErrLicenseNotFound
		}
		observability.RecordRepositoryOperation(ctx, "license", "find_by_token", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "license", "find_by_token", "success")
	return &l, nil
}

// FindLatestActiveByCompany returns the most recently issued usable license.
// Rows already past expiry are skipped; their status flip is ExpireStale's job.
func (r *GormLicenseRepository) FindLatestActiveByCompany(ctx context.Context, companyID uint, now time.Time) (*domain.License, error) {
	var l domain.License
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND status = ? AND expires_at > ?", companyID, domain.LicenseStatusActive, now).
		Order("issued_at DESC").
		First(&l).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "license", "find_latest_active", "not_found")
			return nil, ErrLicenseNotFound
		}
		observability.RecordRepositoryOperation(ctx, "license", "find_latest_active", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "license", "find_latest_active", "success")
	return &l, nil
}

// Revoke flips an active license to revoked. Rows are never deleted; the
// returned bool reports whether this call performed the flip.
func (r *GormLicenseRepository) Revoke(ctx context.Context, token, reason string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.License{}).
		Where("token = ? AND status = ?", token, domain.LicenseStatusActive).
		Updates(map[string]any{
			"status":         domain.LicenseStatusRevoked,
			"revoked_at":     at,
			"revoked_reason": reason,
		})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "license", "revoke", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "license", "revoke", "success")
	return res.RowsAffected > 0, nil
}

// ExpireStale lazily settles the status column for licenses whose expiry has
// passed. Verification never depends on it; it keeps the table honest for
// operator queries.
func (r *GormLicenseRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.License{}).
		Where("status = ? AND expires_at <= ?", domain.LicenseStatusActive, now).
		Update("status", domain.LicenseStatusExpired)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "license", "expire_stale", "error")
		return 0, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "license", "expire_stale", "success")
	return res.RowsAffected, nil
}
