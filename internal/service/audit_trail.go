package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/sustainage/admission-gate/internal/clock"
	"github.com/sustainage/admission-gate/internal/domain"
	"github.com/sustainage/admission-gate/internal/observability"
	"github.com/sustainage/admission-gate/internal/repository"
)

// AuditTrail writes the durable decision record. The gate only appends;
// nothing in this process reads the table back.
type AuditTrail struct {
	records repository.AuditRepository
	clock   clock.Clock
}

func NewAuditTrail(records repository.AuditRepository, clk clock.Clock) *AuditTrail {
	if clk == nil {
		clk = clock.System()
	}
	return &AuditTrail{records: records, clock: clk}
}

// Record appends one entry and mirrors it to the structured log. An append
// failure is logged, not propagated; a decision is never undone because its
// record could not be written.
func (t *AuditTrail) Record(ctx context.Context, actor, action, target, outcome string, metadata map[string]any) {
	var meta string
	if len(metadata) > 0 {
		if b, err := json.Marshal(metadata); err == nil {
			meta = string(b)
		}
	}
	rec := &domain.AuditRecord{
		Actor:     actor,
		Action:    action,
		Target:    target,
		Outcome:   outcome,
		Metadata:  meta,
		CreatedAt: t.clock.Now(),
	}
	if err := t.records.Append(ctx, rec); err != nil {
		slog.ErrorContext(ctx, "audit append failed",
			"action", action, "target", target, "error", err)
	}
	observability.AuditDecision(actor, action, target, outcome)
}
