package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"salescrm/internal/auth"
	"salescrm/internal/models"
)

const (
	BulkActionTransition = "transition"
	BulkActionAssign     = "assign"
	BulkActionUpdate     = "update"
)

type BulkItemError struct {
	ID      uint64 `json:"id"`
	Message string `json:"message"`
}

type BulkItemWarning struct {
	ID       uint64   `json:"id"`
	Warnings []string `json:"warnings"`
}

// BulkResult reports per-item outcomes. Partial success is the expected
// shape, not an error.
type BulkResult struct {
	Successful []uint64          `json:"successful"`
	Failed     []BulkItemError   `json:"failed"`
	Warnings   []BulkItemWarning `json:"warnings"`
}

type BulkUpdateRequest struct {
	Action string

	// transition payload
	TargetStage *models.Stage
	LostReason  *string
	Amount      *decimal.Decimal

	// assign payload
	OwnerID *uint64

	// update payload
	Fields *UpdateRequest
}

// BulkUpdate processes ids sequentially and never aborts on a failing item;
// each failure lands in that item's slot.
func (s *Service) BulkUpdate(ctx context.Context, ids []uint64, req BulkUpdateRequest, actor auth.Actor) BulkResult {
	result := BulkResult{Successful: []uint64{}, Failed: []BulkItemError{}, Warnings: []BulkItemWarning{}}
	for _, id := range ids {
		warnings, err := s.bulkApply(ctx, id, req, actor)
		if err != nil {
			result.Failed = append(result.Failed, BulkItemError{ID: id, Message: err.Error()})
			continue
		}
		result.Successful = append(result.Successful, id)
		if len(warnings) > 0 {
			result.Warnings = append(result.Warnings, BulkItemWarning{ID: id, Warnings: warnings})
		}
	}
	if s.Logger != nil {
		s.Logger.Info("bulk update finished",
			zap.String("action", req.Action),
			zap.Int("requested", len(ids)),
			zap.Int("succeeded", len(result.Successful)),
			zap.Int("failed", len(result.Failed)),
		)
	}
	return result
}

func (s *Service) bulkApply(ctx context.Context, id uint64, req BulkUpdateRequest, actor auth.Actor) ([]string, error) {
	switch req.Action {
	case BulkActionTransition:
		if req.TargetStage == nil {
			return nil, NewValidationError("target_stage required for transition action")
		}
		outcome, err := s.Transition(ctx, id, TransitionRequest{
			TargetStage: *req.TargetStage,
			LostReason:  req.LostReason,
			Amount:      req.Amount,
		}, actor)
		if err != nil {
			return nil, err
		}
		return outcome.Warnings, nil
	case BulkActionAssign:
		if req.OwnerID == nil || *req.OwnerID == 0 {
			return nil, NewValidationError("owner_id required for assign action")
		}
		return nil, s.reassignOwner(ctx, id, *req.OwnerID, actor)
	case BulkActionUpdate:
		if req.Fields == nil {
			return nil, NewValidationError("fields required for update action")
		}
		_, warnings, err := s.UpdateFields(ctx, id, *req.Fields, actor)
		return warnings, err
	default:
		return nil, NewValidationError("unknown bulk action " + req.Action)
	}
}

func (s *Service) reassignOwner(ctx context.Context, id uint64, ownerID uint64, actor auth.Actor) error {
	if !actor.Elevated() {
		return fmt.Errorf("reassignment requires a manager or admin: %w", ErrForbidden)
	}
	opp, err := s.Repo.GetOpportunityByID(ctx, id)
	if err != nil {
		return err
	}
	if opp == nil {
		return fmt.Errorf("opportunity %d: %w", id, ErrNotFound)
	}
	owner, err := s.Repo.GetUserByID(ctx, ownerID)
	if err != nil {
		return err
	}
	if owner == nil || !owner.Active {
		return fmt.Errorf("owner %d: %w", ownerID, ErrNotFound)
	}
	return s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		return s.Repo.UpdateOpportunityTx(ctx, tx, id, map[string]any{
			"owner_id":   ownerID,
			"updated_at": time.Now().UTC(),
		})
	})
}

// BulkAssignResult is the outcome of creating opportunities for a batch of
// leads.
type BulkAssignResult struct {
	Created  []models.Opportunity `json:"created"`
	Failed   []BulkItemError      `json:"failed"`
	Warnings []BulkItemWarning    `json:"warnings"`
}

// BulkAssign creates one opportunity per lead for the given owner and stage.
// A lead that already has an active opportunity produces a warning, not a
// failure: the conflict is recorded and the create still goes through.
func (s *Service) BulkAssign(ctx context.Context, leadIDs []uint64, ownerID uint64, stage models.Stage, actor auth.Actor) BulkAssignResult {
	result := BulkAssignResult{Created: []models.Opportunity{}, Failed: []BulkItemError{}, Warnings: []BulkItemWarning{}}
	for _, leadID := range leadIDs {
		opp, warnings, err := s.Create(ctx, CreateRequest{
			LeadID:  leadID,
			OwnerID: &ownerID,
			Stage:   &stage,
		}, actor)
		if err != nil {
			result.Failed = append(result.Failed, BulkItemError{ID: leadID, Message: err.Error()})
			continue
		}
		result.Created = append(result.Created, *opp)
		if len(warnings) > 0 {
			result.Warnings = append(result.Warnings, BulkItemWarning{ID: leadID, Warnings: warnings})
		}
	}
	return result
}
