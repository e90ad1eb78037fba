package domain

import "time"

const (
	ApprovalStatusPending  = "pending"
	ApprovalStatusConsumed = "consumed"
	ApprovalStatusExpired  = "expired"
)

// PendingApproval is one cycle of the two-stage confirmation protocol.
// At most one pending row may exist per (action_type, target_id); consumed
// and expired rows are retained for audit rather than deleted.
type PendingApproval struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	ActionType  string     `gorm:"size:64;not null;uniqueIndex:idx_approvals_pending,where:status = 'pending'" json:"action_type"`
	TargetID    string     `gorm:"size:128;not null;uniqueIndex:idx_approvals_pending" json:"target_id"`
	RequestedBy string     `gorm:"size:256;not null" json:"requested_by"`
	RequestedAt time.Time  `gorm:"not null" json:"requested_at"`
	ExpiresAt   time.Time  `gorm:"index;not null" json:"expires_at"`
	Status      string     `gorm:"size:16;index;not null;default:pending" json:"status"`
	ConsumedBy  *string    `gorm:"size:256" json:"consumed_by,omitempty"`
	ConsumedAt  *time.Time `json:"consumed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
