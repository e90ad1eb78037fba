package domain

import "time"

// Session is an established login session. The cookie value is opaque; only
// its SHA-256 hash is stored. CompanyID is the tenant binding used when a
// request carries no explicit license header.
type Session struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	UserID        uint       `gorm:"index;not null" json:"user_id"`
	CompanyID     uint       `gorm:"index" json:"company_id"`
	TokenHash     string     `gorm:"size:128;uniqueIndex;not null" json:"-"`
	UserAgent     string     `gorm:"size:512" json:"user_agent"`
	IP            string     `gorm:"size:64" json:"ip"`
	ExpiresAt     time.Time  `gorm:"index;not null" json:"expires_at"`
	RevokedAt     *time.Time `gorm:"index" json:"revoked_at,omitempty"`
	RevokedReason *string    `gorm:"size:64" json:"revoked_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
