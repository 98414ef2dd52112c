package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"salescrm/internal/auth"
	"salescrm/internal/config"
	"salescrm/internal/models"
	"salescrm/internal/repository"
)

// TransitionRequest is a proposed stage change plus the optional fields the
// caller wants applied alongside it.
type TransitionRequest struct {
	TargetStage     models.Stage
	Amount          *decimal.Decimal
	Probability     *int
	ExpectedCloseAt *time.Time
	LostReason      *string
}

// Result is the validator verdict. Errors block persistence; Warnings ride
// along with a successful transition. Forbidden marks the failure as an
// authorization problem rather than a validation one.
type Result struct {
	Valid     bool
	Forbidden bool
	Errors    []string
	Warnings  []string
}

// Validator enforces transition legality and the soft business rules. The
// hard checks are pure; only the workload warnings consult the store.
type Validator struct {
	Repo   repository.Repository
	Config config.PipelineConfig
	Logger *zap.Logger
}

// ValidateTransition runs the checks in order: edge legality, required
// fields, authorization, then the non-blocking business-rule warnings.
func (v *Validator) ValidateTransition(ctx context.Context, opp *models.Opportunity, req TransitionRequest, actor auth.Actor) Result {
	var res Result
	if opp == nil {
		res.Errors = append(res.Errors, "opportunity is required")
		return res
	}

	if !ValidStage(req.TargetStage) {
		res.Errors = append(res.Errors, fmt.Sprintf("unknown stage %s", req.TargetStage))
		return res
	}
	if !CanTransition(opp.Stage, req.TargetStage) {
		res.Errors = append(res.Errors, fmt.Sprintf("illegal transition %s -> %s", opp.Stage, req.TargetStage))
		return res
	}

	if RequiresAmount(req.TargetStage) && req.Amount == nil && opp.Amount == nil {
		res.Errors = append(res.Errors, fmt.Sprintf("amount required for stage %s", req.TargetStage))
	}
	if RequiresLostReason(req.TargetStage) {
		reason := req.LostReason
		if reason == nil {
			reason = opp.LostReason
		}
		if reason == nil || *reason == "" {
			res.Errors = append(res.Errors, "lost_reason required for stage LOST")
		} else if !ValidLostReason(*reason) {
			res.Errors = append(res.Errors, fmt.Sprintf("unknown lost_reason %s", *reason))
		}
	}
	if req.Probability != nil && (*req.Probability < 0 || *req.Probability > 100) {
		res.Errors = append(res.Errors, "probability must be between 0 and 100")
	}
	if len(res.Errors) > 0 {
		return res
	}

	if !actor.CanTouch(opp.OwnerID) {
		res.Forbidden = true
		res.Errors = append(res.Errors, "actor may only transition owned opportunities")
		return res
	}

	res.Warnings = v.businessWarnings(ctx, opp, req)
	res.Valid = true
	return res
}

// ValidateFieldUpdate guards the general field-update path. Amount edits on a
// WON opportunity are admin-only and the caller must audit them.
func (v *Validator) ValidateFieldUpdate(opp *models.Opportunity, amount *decimal.Decimal, probability *int, actor auth.Actor) Result {
	var res Result
	if opp == nil {
		res.Errors = append(res.Errors, "opportunity is required")
		return res
	}
	if !actor.CanTouch(opp.OwnerID) {
		res.Forbidden = true
		res.Errors = append(res.Errors, "actor may only update owned opportunities")
		return res
	}
	if amount != nil && opp.Stage == models.StageWon && !actor.Admin() {
		res.Forbidden = true
		res.Errors = append(res.Errors, "only an admin may change the amount of a won opportunity")
		return res
	}
	if probability != nil && (*probability < 0 || *probability > 100) {
		res.Errors = append(res.Errors, "probability must be between 0 and 100")
		return res
	}
	res.Valid = true
	return res
}

func (v *Validator) businessWarnings(ctx context.Context, opp *models.Opportunity, req TransitionRequest) []string {
	var warnings []string
	cfg := v.Config

	if v.Repo != nil {
		hasOther, err := v.Repo.HasActiveOpportunityForLead(ctx, opp.LeadID, opp.ID)
		if err != nil {
			v.logWarn("duplicate-lead check failed", err)
		} else if hasOther && !req.TargetStage.Terminal() {
			warnings = append(warnings, "lead_has_active_opportunity")
		}

		if cfg.MaxActivePerOwner > 0 {
			active, err := v.Repo.CountActiveOpportunitiesByOwner(ctx, opp.OwnerID)
			if err != nil {
				v.logWarn("owner workload check failed", err)
			} else if active >= int64(cfg.MaxActivePerOwner) {
				warnings = append(warnings, "owner_active_limit")
			}
		}
	}

	closeAt := req.ExpectedCloseAt
	if closeAt == nil {
		closeAt = opp.ExpectedCloseAt
	}
	if closeAt != nil && !req.TargetStage.Terminal() {
		now := time.Now().UTC()
		if closeAt.Before(now) {
			warnings = append(warnings, "close_date_in_past")
		}
		if cfg.CloseHorizonDays > 0 && closeAt.After(now.AddDate(0, 0, cfg.CloseHorizonDays)) {
			warnings = append(warnings, "close_date_beyond_horizon")
		}
	}

	amount := req.Amount
	if amount == nil {
		amount = opp.Amount
	}
	if amount != nil {
		if cfg.MinAmountWarn > 0 && amount.LessThan(decimal.NewFromFloat(cfg.MinAmountWarn)) {
			warnings = append(warnings, "amount_below_floor")
		}
		if cfg.MaxAmountWarn > 0 && amount.GreaterThan(decimal.NewFromFloat(cfg.MaxAmountWarn)) {
			warnings = append(warnings, "amount_above_ceiling")
		}
	}

	if req.Probability != nil && cfg.ProbabilityDriftPts > 0 {
		drift := *req.Probability - DefaultProbability(req.TargetStage)
		if drift < 0 {
			drift = -drift
		}
		if drift > cfg.ProbabilityDriftPts {
			warnings = append(warnings, "probability_far_from_default")
		}
	}

	return warnings
}

func (v *Validator) logWarn(msg string, err error) {
	if v.Logger != nil {
		v.Logger.Warn(msg, zap.Error(err))
	}
}
