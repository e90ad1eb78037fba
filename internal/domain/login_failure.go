package domain

import "time"

// LoginFailureState is the durable per-identity failure counter. The
// per-login-session counter that drives CAPTCHA escalation is ephemeral and
// lives in the session failure store, not here.
type LoginFailureState struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	Identity       string     `gorm:"size:256;uniqueIndex;not null" json:"identity"`
	FailedAttempts int        `gorm:"not null;default:0" json:"failed_attempts"`
	LockedUntil    *time.Time `gorm:"index" json:"locked_until,omitempty"`
	LastFailureAt  *time.Time `json:"last_failure_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
