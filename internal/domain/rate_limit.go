package domain

import "time"

// RateLimitCounter holds one fixed window per (action, caller). The row is
// replaced in place when the window rolls over, so old windows never pile up.
type RateLimitCounter struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Action      string    `gorm:"size:64;not null;uniqueIndex:idx_rate_counters_key" json:"action"`
	CallerKey   string    `gorm:"size:256;not null;uniqueIndex:idx_rate_counters_key" json:"caller_key"`
	WindowStart int64     `gorm:"not null" json:"window_start"`
	Count       int       `gorm:"not null;default:0" json:"count"`
	UpdatedAt   time.Time `json:"updated_at"`
}
