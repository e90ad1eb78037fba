package repository

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/sustainage/admission-gate/internal/domain"
)

// Open connects the configured driver. TranslateError is required: the
// approval gate relies on gorm.ErrDuplicatedKey to detect a lost create race.
func Open(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	}
	switch driver {
	case "sqlite":
		return gorm.Open(sqlite.Open(dsn), cfg)
	case "postgres":
		return gorm.Open(postgres.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Migrate creates the gate's tables and indexes, including the partial
// unique index guarding pending approvals.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.License{},
		&domain.LoginFailureState{},
		&domain.RateLimitCounter{},
		&domain.PendingApproval{},
		&domain.AuditRecord{},
		&domain.User{},
		&domain.Session{},
	)
}
