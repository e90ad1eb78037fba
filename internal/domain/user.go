package domain

import "time"

// User carries only what the gate needs: credential hash, activity flag and
// the company binding used to resolve a license from a session. Business
// profile fields live with the surrounding application.
type User struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Username     string     `gorm:"size:128;uniqueIndex;not null" json:"username"`
	PasswordHash string     `gorm:"size:256;not null" json:"-"`
	DisplayName  string     `gorm:"size:256" json:"display_name"`
	CompanyID    uint       `gorm:"index" json:"company_id"`
	IsActive     bool       `gorm:"not null;default:true" json:"is_active"`
	IsAdmin      bool       `gorm:"not null;default:false" json:"is_admin"`
	DeletedAt    *time.Time `gorm:"index" json:"deleted_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
