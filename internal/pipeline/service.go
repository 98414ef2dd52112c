package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"salescrm/internal/audit"
	"salescrm/internal/auth"
	"salescrm/internal/models"
	"salescrm/internal/repository"
)

// Service executes validated pipeline mutations. Every stage change commits
// the opportunity row and its ledger entry in one transaction; no partial
// state is observable.
type Service struct {
	Repo      repository.Repository
	Validator *Validator
	Logger    *zap.Logger
}

type CreateRequest struct {
	LeadID          uint64
	OwnerID         *uint64
	Stage           *models.Stage
	Amount          *decimal.Decimal
	ExpectedCloseAt *time.Time
	DiscountPct     *decimal.Decimal
	CostEstimated   *decimal.Decimal
	Currency        string
}

type UpdateRequest struct {
	Amount          *decimal.Decimal
	Probability     *int
	ExpectedCloseAt *time.Time
	DiscountPct     *decimal.Decimal
	CostEstimated   *decimal.Decimal
	Currency        *string
	Stage           *models.Stage
	LostReason      *string
}

// Detail is the full read model for one opportunity.
type Detail struct {
	Opportunity *models.Opportunity        `json:"opportunity"`
	History     []models.StageHistoryEntry `json:"history"`
	Tasks       []models.Task              `json:"tasks"`
}

type TransitionOutcome struct {
	Opportunity      *models.Opportunity `json:"opportunity"`
	SuggestedActions []string            `json:"suggested_actions"`
	Warnings         []string            `json:"warnings,omitempty"`
}

func (s *Service) Create(ctx context.Context, req CreateRequest, actor auth.Actor) (*models.Opportunity, []string, error) {
	lead, err := s.Repo.GetLeadByID(ctx, req.LeadID)
	if err != nil {
		return nil, nil, err
	}
	if lead == nil {
		return nil, nil, fmt.Errorf("lead %d: %w", req.LeadID, ErrNotFound)
	}

	ownerID := actor.UserID
	if req.OwnerID != nil && *req.OwnerID != 0 {
		ownerID = *req.OwnerID
	}
	if !actor.CanTouch(ownerID) {
		return nil, nil, fmt.Errorf("cannot create opportunities for another owner: %w", ErrForbidden)
	}
	owner, err := s.Repo.GetUserByID(ctx, ownerID)
	if err != nil {
		return nil, nil, err
	}
	if owner == nil || !owner.Active {
		return nil, nil, fmt.Errorf("owner %d: %w", ownerID, ErrNotFound)
	}

	stage := models.StageNew
	if req.Stage != nil {
		stage = *req.Stage
	}
	if !ValidStage(stage) {
		return nil, nil, NewValidationError(fmt.Sprintf("unknown stage %s", stage))
	}
	if stage.Terminal() {
		return nil, nil, NewValidationError(fmt.Sprintf("cannot create an opportunity directly in %s", stage))
	}
	if RequiresAmount(stage) && req.Amount == nil {
		return nil, nil, NewValidationError(fmt.Sprintf("amount required for stage %s", stage))
	}

	var warnings []string
	hasOther, err := s.Repo.HasActiveOpportunityForLead(ctx, req.LeadID, 0)
	if err != nil {
		return nil, nil, err
	}
	if hasOther {
		warnings = append(warnings, "lead_has_active_opportunity")
	}

	now := time.Now().UTC()
	probability := DefaultProbability(stage)
	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}
	opp := &models.Opportunity{
		LeadID:          req.LeadID,
		OwnerID:         ownerID,
		Stage:           stage,
		Amount:          req.Amount,
		Currency:        currency,
		DiscountPct:     req.DiscountPct,
		CostEstimated:   req.CostEstimated,
		Probability:     &probability,
		ExpectedCloseAt: req.ExpectedCloseAt,
		Version:         1,
	}

	err = s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		if err := s.Repo.CreateOpportunityTx(ctx, tx, opp); err != nil {
			return err
		}
		entry := &models.StageHistoryEntry{
			OpportunityID: opp.ID,
			StageFrom:     nil,
			StageTo:       stage,
			ChangedBy:     actor.UserID,
			ChangedAt:     now,
		}
		return s.Repo.InsertStageHistoryTx(ctx, tx, entry)
	})
	if err != nil {
		return nil, nil, err
	}
	if s.Logger != nil {
		s.Logger.Info("opportunity created",
			zap.Uint64("id", opp.ID),
			zap.Uint64("lead_id", req.LeadID),
			zap.String("stage", string(stage)),
		)
	}
	return opp, warnings, nil
}

func (s *Service) Get(ctx context.Context, id uint64, actor auth.Actor) (*Detail, error) {
	opp, err := s.Repo.GetOpportunityByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if opp == nil {
		return nil, fmt.Errorf("opportunity %d: %w", id, ErrNotFound)
	}
	if !actor.CanTouch(opp.OwnerID) {
		return nil, fmt.Errorf("opportunity %d: %w", id, ErrForbidden)
	}
	history, err := s.Repo.ListStageHistoryByOpportunityID(ctx, id)
	if err != nil {
		return nil, err
	}
	tasks, err := s.Repo.ListTasksByOpportunityID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Detail{Opportunity: opp, History: history, Tasks: tasks}, nil
}

// Transition moves the opportunity to the target stage. The conditional
// update means that of two racing transitions exactly one commits; the loser
// sees ErrStageConflict instead of silently overwriting.
func (s *Service) Transition(ctx context.Context, id uint64, req TransitionRequest, actor auth.Actor) (*TransitionOutcome, error) {
	opp, err := s.Repo.GetOpportunityByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if opp == nil {
		return nil, fmt.Errorf("opportunity %d: %w", id, ErrNotFound)
	}

	res := s.Validator.ValidateTransition(ctx, opp, req, actor)
	if !res.Valid {
		if res.Forbidden {
			return nil, fmt.Errorf("%s: %w", firstOr(res.Errors, "forbidden"), ErrForbidden)
		}
		return nil, &ValidationError{Messages: res.Errors}
	}

	now := time.Now().UTC()
	probability := DefaultProbability(req.TargetStage)
	if req.Probability != nil {
		probability = *req.Probability
	}
	updates := map[string]any{
		"stage":       req.TargetStage,
		"probability": probability,
		"version":     opp.Version + 1,
		"updated_at":  now,
	}
	if req.Amount != nil {
		updates["amount"] = *req.Amount
	}
	if req.ExpectedCloseAt != nil {
		updates["expected_close_at"] = *req.ExpectedCloseAt
	}
	if req.TargetStage == models.StageLost {
		reason := req.LostReason
		if reason == nil {
			reason = opp.LostReason
		}
		updates["lost_reason"] = *reason
	}
	// closed_at is stamped for both terminal stages at commit time.
	if req.TargetStage.Terminal() {
		updates["closed_at"] = now
	}

	err = s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		rows, err := s.Repo.TransitionOpportunityTx(ctx, tx, id, opp.Stage, opp.Version, updates)
		if err != nil {
			return err
		}
		if rows == 0 {
			return ErrStageConflict
		}
		from := opp.Stage
		entry := &models.StageHistoryEntry{
			OpportunityID: id,
			StageFrom:     &from,
			StageTo:       req.TargetStage,
			ChangedBy:     actor.UserID,
			ChangedAt:     now,
		}
		return s.Repo.InsertStageHistoryTx(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.Repo.GetOpportunityByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Logger != nil {
		s.Logger.Info("opportunity transitioned",
			zap.Uint64("id", id),
			zap.String("from", string(opp.Stage)),
			zap.String("to", string(req.TargetStage)),
			zap.Uint64("actor", actor.UserID),
		)
	}
	audit.LogBestEffortCtx(ctx, "crm_opportunity_transitioned", "info", map[string]any{
		"opportunity_id": id,
		"from":           string(opp.Stage),
		"to":             string(req.TargetStage),
	})
	return &TransitionOutcome{
		Opportunity:      updated,
		SuggestedActions: SuggestedActions(req.TargetStage),
		Warnings:         res.Warnings,
	}, nil
}

// UpdateFields applies a partial field update. A stage field routes through
// Transition so the change hits the ledger; an admin amount override on a WON
// opportunity writes an audit row in the same transaction.
func (s *Service) UpdateFields(ctx context.Context, id uint64, req UpdateRequest, actor auth.Actor) (*models.Opportunity, []string, error) {
	opp, err := s.Repo.GetOpportunityByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if opp == nil {
		return nil, nil, fmt.Errorf("opportunity %d: %w", id, ErrNotFound)
	}

	if req.Stage != nil && *req.Stage != opp.Stage {
		outcome, err := s.Transition(ctx, id, TransitionRequest{
			TargetStage:     *req.Stage,
			Amount:          req.Amount,
			Probability:     req.Probability,
			ExpectedCloseAt: req.ExpectedCloseAt,
			LostReason:      req.LostReason,
		}, actor)
		if err != nil {
			return nil, nil, err
		}
		return outcome.Opportunity, outcome.Warnings, nil
	}

	res := s.Validator.ValidateFieldUpdate(opp, req.Amount, req.Probability, actor)
	if !res.Valid {
		if res.Forbidden {
			return nil, nil, fmt.Errorf("%s: %w", firstOr(res.Errors, "forbidden"), ErrForbidden)
		}
		return nil, nil, &ValidationError{Messages: res.Errors}
	}

	updates := map[string]any{"updated_at": time.Now().UTC()}
	auditAmount := false
	if req.Amount != nil {
		updates["amount"] = *req.Amount
		auditAmount = opp.Stage == models.StageWon
	}
	if req.Probability != nil {
		updates["probability"] = *req.Probability
	}
	if req.ExpectedCloseAt != nil {
		updates["expected_close_at"] = *req.ExpectedCloseAt
	}
	if req.DiscountPct != nil {
		updates["discount_pct"] = *req.DiscountPct
	}
	if req.CostEstimated != nil {
		updates["cost_estimated"] = *req.CostEstimated
	}
	if req.Currency != nil && *req.Currency != "" {
		updates["currency"] = *req.Currency
	}
	if req.LostReason != nil {
		if opp.Stage != models.StageLost {
			return nil, nil, NewValidationError("lost_reason may only be set on a LOST opportunity")
		}
		if !ValidLostReason(*req.LostReason) {
			return nil, nil, NewValidationError(fmt.Sprintf("unknown lost_reason %s", *req.LostReason))
		}
		updates["lost_reason"] = *req.LostReason
	}

	err = s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		if err := s.Repo.UpdateOpportunityTx(ctx, tx, id, updates); err != nil {
			return err
		}
		if auditAmount {
			return s.Repo.InsertAuditLogTx(ctx, tx, amountOverrideAudit(opp, *req.Amount, actor))
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if auditAmount {
		audit.LogBestEffortCtx(ctx, "crm_won_amount_override", "warn", map[string]any{
			"opportunity_id": id,
			"actor":          actor.UserID,
		})
	}

	updated, err := s.Repo.GetOpportunityByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return updated, res.Warnings, nil
}

// Delete removes an opportunity and its history. Admin only, and only while
// the deal is still in an early stage.
func (s *Service) Delete(ctx context.Context, id uint64, actor auth.Actor) error {
	if !actor.Admin() {
		return fmt.Errorf("only an admin may delete opportunities: %w", ErrForbidden)
	}
	opp, err := s.Repo.GetOpportunityByID(ctx, id)
	if err != nil {
		return err
	}
	if opp == nil {
		return fmt.Errorf("opportunity %d: %w", id, ErrNotFound)
	}
	if opp.Stage != models.StageNew && opp.Stage != models.StageQualification {
		return NewValidationError(fmt.Sprintf("cannot delete an opportunity in stage %s", opp.Stage))
	}
	return s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		return s.Repo.DeleteOpportunityTx(ctx, tx, id)
	})
}

func amountOverrideAudit(opp *models.Opportunity, newAmount decimal.Decimal, actor auth.Actor) *models.AuditLog {
	oldAmount := ""
	if opp.Amount != nil {
		oldAmount = opp.Amount.String()
	}
	details, _ := json.Marshal(map[string]any{
		"old_amount": oldAmount,
		"new_amount": newAmount.String(),
		"stage":      string(opp.Stage),
	})
	return &models.AuditLog{
		ActorID:    actor.UserID,
		Action:     "won_amount_override",
		EntityType: "opportunity",
		EntityID:   opp.ID,
		Details:    details,
	}
}

func firstOr(items []string, fallback string) string {
	if len(items) > 0 {
		return items[0]
	}
	return fallback
}
