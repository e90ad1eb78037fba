package domain

import "time"

const (
	LicenseStatusActive  = "active"
	LicenseStatusRevoked = "revoked"
	LicenseStatusExpired = "expired"
)

// License is the persisted side of a signed license token. Rows are never
// deleted; revocation flips Status only, ExpiresAt is immutable after issue.
type License struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	CompanyID     uint       `gorm:"index:idx_licenses_company_status;not null" json:"company_id"`
	Token         string     `gorm:"size:1024;uniqueIndex;not null" json:"-"`
	IssuedAt      time.Time  `gorm:"not null" json:"issued_at"`
	ExpiresAt     time.Time  `gorm:"not null" json:"expires_at"`
	MaxUsers      int        `gorm:"not null" json:"max_users"`
	Status        string     `gorm:"size:16;index:idx_licenses_company_status;not null;default:active" json:"status"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
	RevokedReason *string    `gorm:"size:128" json:"revoked_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
