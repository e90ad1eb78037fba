package service

import (
	"context"
	"errors"
	"time"

	"github.com/sustainage/admission-gate/internal/clock"
	"github.com/sustainage/admission-gate/internal/domain"
	"github.com/sustainage/admission-gate/internal/observability"
	"github.com/sustainage/admission-gate/internal/repository"
)

const (
	ApprovalStateConfirmationRequired = "confirmation_required"
	ApprovalStateExecuted             = "executed"
)

// ApprovalOutcome reports what one call to RequestOrExecute did. When State
// is confirmation_required, ExpiresIn tells the caller how long the window
// stays open.
type ApprovalOutcome struct {
	State     string
	Approval  *domain.PendingApproval
	ExpiresIn time.Duration
}

// ApprovalService runs the two-stage protocol for destructive actions. A
// cycle is keyed by (action type, target), so the confirming request does
// not have to come from the requesting actor. Consumption happens at most
// once per cycle no matter how many confirmations race.
type ApprovalService struct {
	approvals repository.ApprovalRepository
	trail     *AuditTrail
	clock     clock.Clock
	ttl       time.Duration
}

func NewApprovalService(approvals repository.ApprovalRepository, trail *AuditTrail, clk clock.Clock, ttl time.Duration) *ApprovalService {
	if clk == nil {
		clk = clock.System()
	}
	return &ApprovalService{
		approvals: approvals,
		trail:     trail,
		clock:     clk,
		ttl:       ttl,
	}
}

// RequestOrExecute is the single entry point. The first call within a cycle
// opens a pending approval and reports confirmation_required; a second call
// inside the window consumes it and runs execute. An expired pending row is
// settled and a fresh cycle is opened in the same call.
func (s *ApprovalService) RequestOrExecute(ctx context.Context, actor, actionType, targetID string, execute func(context.Context) error) (*ApprovalOutcome, error) {
	now := s.clock.Now()

	pending, err := s.approvals.FindPending(ctx, actionType, targetID)
	if err != nil && !errors.Is(err, repository.ErrApprovalNotFound) {
		return nil, err
	}

	if pending != nil {
		if !pending.ExpiresAt.After(now) {
			if _, err := s.approvals.MarkExpired(ctx, pending.ID); err != nil {
				return nil, err
			}
			observability.RecordApprovalTransition(ctx, actionType, "expired")
			s.trail.Record(ctx, actor, actionType, targetID, "approval_expired", map[string]any{
				"approval_id": pending.ID,
			})
			return s.openCycle(ctx, actor, actionType, targetID, now)
		}

		won, err := s.approvals.Consume(ctx, pending.ID, actor, now)
		if err != nil {
			return nil, err
		}
		if !won {
			// Lost the race to another confirmation; that one executed. This
			// call starts the next cycle rather than silently re-executing.
			return s.openCycle(ctx, actor, actionType, targetID, now)
		}
		observability.RecordApprovalTransition(ctx, actionType, "consumed")
		s.trail.Record(ctx, actor, actionType, targetID, "approval_consumed", map[string]any{
			"approval_id":  pending.ID,
			"requested_by": pending.RequestedBy,
		})
		if err := execute(ctx); err != nil {
			// The approval stays consumed: a failed execution needs a new
			// confirmation cycle, not a silent retry.
			s.trail.Record(ctx, actor, actionType, targetID, "execution_failed", map[string]any{
				"approval_id": pending.ID,
				"error":       err.Error(),
			})
			return nil, err
		}
		s.trail.Record(ctx, actor, actionType, targetID, "executed", map[string]any{
			"approval_id": pending.ID,
		})
		return &ApprovalOutcome{State: ApprovalStateExecuted, Approval: pending}, nil
	}

	return s.openCycle(ctx, actor, actionType, targetID, now)
}

func (s *ApprovalService) openCycle(ctx context.Context, actor, actionType, targetID string, now time.Time) (*ApprovalOutcome, error) {
	a := &domain.PendingApproval{
		ActionType:  actionType,
		TargetID:    targetID,
		RequestedBy: actor,
		RequestedAt: now,
		ExpiresAt:   now.Add(s.ttl),
		Status:      domain.ApprovalStatusPending,
	}
	err := s.approvals.Create(ctx, a)
	if err != nil {
		if errors.Is(err, repository.ErrApprovalAlreadyPending) {
			// A concurrent request opened the cycle first; point the caller
			// at that one.
			existing, ferr := s.approvals.FindPending(ctx, actionType, targetID)
			if ferr != nil {
				return nil, ferr
			}
			return &ApprovalOutcome{
				State:     ApprovalStateConfirmationRequired,
				Approval:  existing,
				ExpiresIn: existing.ExpiresAt.Sub(now),
			}, nil
		}
		return nil, err
	}
	observability.RecordApprovalTransition(ctx, actionType, "requested")
	s.trail.Record(ctx, actor, actionType, targetID, "approval_requested", map[string]any{
		"approval_id": a.ID,
		"expires_at":  a.ExpiresAt,
	})
	return &ApprovalOutcome{
		State:     ApprovalStateConfirmationRequired,
		Approval:  a,
		ExpiresIn: s.ttl,
	}, nil
}
