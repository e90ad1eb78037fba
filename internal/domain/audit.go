package domain

import "time"

// AuditRecord is append-only. The gate writes these and never reads them
// back; retrieval belongs to operator tooling.
type AuditRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Actor     string    `gorm:"size:256;index;not null" json:"actor"`
	Action    string    `gorm:"size:128;index;not null" json:"action"`
	Target    string    `gorm:"size:256" json:"target"`
	Outcome   string    `gorm:"size:64;not null" json:"outcome"`
	Metadata  string    `gorm:"type:text" json:"metadata,omitempty"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}
