package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sustainage/admission-gate/internal/domain"
	"github.com/sustainage/admission-gate/internal/observability"
)

type RateLimitRepository interface {
	Hit(ctx context.Context, action, callerKey string, windowStart int64) (int, error)
	DeleteStale(ctx context.Context, beforeWindowStart int64) (int64, error)
}

type GormRateLimitRepository struct{ db *gorm.DB }

func NewRateLimitRepository(db *gorm.DB) RateLimitRepository {
	return &GormRateLimitRepository{db: db}
}

// Hit upserts the caller's counter in one statement: same window increments,
// a rolled-over window replaces the row with count 1. Returns the count after
// this hit.
func (r *GormRateLimitRepository) Hit(ctx context.Context, action, callerKey string, windowStart int64) (int, error) {
	db := r.db.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "action"}, {Name: "caller_key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"count": gorm.Expr(
				"CASE WHEN rate_limit_counters.window_start = excluded.window_start THEN rate_limit_counters.count + 1 ELSE 1 END",
			),
			"window_start": gorm.Expr("excluded.window_start"),
		}),
	}).Create(&domain.RateLimitCounter{
		Action:      action,
		CallerKey:   callerKey,
		WindowStart: windowStart,
		Count:       1,
	}).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "rate_limit", "hit", "error")
		return 0, err
	}

	var c domain.RateLimitCounter
	err = db.Where("action = ? AND caller_key = ?", action, callerKey).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Row vanished between upsert and read; treat as first hit.
			observability.RecordRepositoryOperation(ctx, "rate_limit", "hit", "success")
			return 1, nil
		}
		observability.RecordRepositoryOperation(ctx, "rate_limit", "hit", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(ctx, "rate_limit", "hit", "success")
	return c.Count, nil
}

// DeleteStale garbage-collects counters whose window is fully in the past.
func (r *GormRateLimitRepository) DeleteStale(ctx context.Context, beforeWindowStart int64) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("window_start < ?", beforeWindowStart).
		Delete(&domain.RateLimitCounter{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "rate_limit", "delete_stale", "error")
		return 0, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "rate_limit", "delete_stale", "success")
	return res.RowsAffected, nil
}
