package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"salescrm/internal/auth"
	"salescrm/internal/models"
)

func newTestService(repo *stubRepo) *Service {
	return &Service{
		Repo:      repo,
		Validator: newTestValidator(repo),
	}
}

func TestCreate_DefaultsAndInitialLedgerEntry(t *testing.T) {
	repo := newStubRepo()
	repo.addUser(1, models.RoleSales)
	repo.addLead(1, "WEBSITE")
	svc := newTestService(repo)
	actor := auth.Actor{UserID: 1, Role: models.RoleSales}

	opp, warnings, err := svc.Create(context.Background(), CreateRequest{LeadID: 1}, actor)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("warnings=%v want none", warnings)
	}
	if opp.Stage != models.StageNew {
		t.Fatalf("stage=%s want=NEW", opp.Stage)
	}
	if opp.Probability == nil || *opp.Probability != 10 {
		t.Fatalf("probability=%v want=10", opp.Probability)
	}
	if opp.Version != 1 {
		t.Fatalf("version=%d want=1", opp.Version)
	}
	if opp.Currency != "USD" {
		t.Fatalf("currency=%s want=USD", opp.Currency)
	}

	entries, _ := repo.ListStageHistoryByOpportunityID(context.Background(), opp.ID)
	if len(entries) != 1 {
		t.Fatalf("history entries=%d want=1", len(entries))
	}
	if entries[0].StageFrom != nil {
		t.Fatalf("initial entry stage_from=%v want=nil", *entries[0].StageFrom)
	}
	if entries[0].StageTo != models.StageNew {
		t.Fatalf("initial entry stage_to=%s want=NEW", entries[0].StageTo)
	}
	if entries[0].ChangedBy != actor.UserID {
		t.Fatalf("changed_by=%d want=%d", entries[0].ChangedBy, actor.UserID)
	}
}

func TestCreate_RejectsTerminalStage(t *testing.T) {
	repo := newStubRepo()
	repo.addUser(1, models.RoleSales)
	repo.addLead(1, "")
	svc := newTestService(repo)
	stage := models.StageWon

	_, _, err := svc.Create(context.Background(), CreateRequest{LeadID: 1, Stage: &stage}, auth.Actor{UserID: 1, Role: models.RoleSales})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err=%v want ValidationError", err)
	}
}

func TestCreate_ForeignOwnerForbiddenForSales(t *testing.T) {
	repo := newStubRepo()
	repo.addUser(1, models.RoleSales)
	repo.addUser(2, models.RoleSales)
	repo.addLead(1, "")
	svc := newTestService(repo)
	other := uint64(2)

	_, _, err := svc.Create(context.Background(), CreateRequest{LeadID: 1, OwnerID: &other}, auth.Actor{UserID: 1, Role: models.RoleSales})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("err=%v want ErrForbidden", err)
	}
}

func TestTransition_FullWalkToWon(t *testing.T) {
	repo := newStubRepo()
	repo.addUser(1, models.RoleSales)
	repo.addLead(1, "REFERRAL")
	svc := newTestService(repo)
	actor := auth.Actor{UserID: 1, Role: models.RoleSales}

	opp, _, err := svc.Create(context.Background(), CreateRequest{LeadID: 1}, actor)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	amount := decimal.NewFromInt(12000)
	steps := []TransitionRequest{
		{TargetStage: models.StageQualification},
		{TargetStage: models.StageDiscovery},
		{TargetStage: models.StageProposal, Amount: &amount},
		{TargetStage: models.StageNegotiation},
		{TargetStage: models.StageWon},
	}
	var outcome *TransitionOutcome
	for _, step := range steps {
		outcome, err = svc.Transition(context.Background(), opp.ID, step, actor)
		if err != nil {
			t.Fatalf("transition to %s: %v", step.TargetStage, err)
		}
	}

	final := outcome.Opportunity
	if final.Stage != models.StageWon {
		t.Fatalf("stage=%s want=WON", final.Stage)
	}
	if final.Probability == nil || *final.Probability != 100 {
		t.Fatalf("probability=%v want=100", final.Probability)
	}
	if final.ClosedAt == nil {
		t.Fatalf("closed_at not stamped on WON")
	}
	if final.Version != 6 {
		t.Fatalf("version=%d want=6", final.Version)
	}
	if final.Amount == nil || !final.Amount.Equal(amount) {
		t.Fatalf("amount=%v want=%s", final.Amount, amount)
	}

	entries, _ := repo.ListStageHistoryByOpportunityID(context.Background(), opp.ID)
	if len(entries) != 6 {
		t.Fatalf("history entries=%d want=6", len(entries))
	}
	wantChain := []models.Stage{
		models.StageNew,
		models.StageQualification,
		models.StageDiscovery,
		models.StageProposal,
		models.StageNegotiation,
		models.StageWon,
	}
	for i, entry := range entries {
		if entry.StageTo != wantChain[i] {
			t.Fatalf("entry[%d].stage_to=%s want=%s", i, entry.StageTo, wantChain[i])
		}
		if i == 0 {
			continue
		}
		if entry.StageFrom == nil || *entry.StageFrom != wantChain[i-1] {
			t.Fatalf("entry[%d].stage_from=%v want=%s", i, entry.StageFrom, wantChain[i-1])
		}
	}
}

func TestTransition_StageConflict(t *testing.T) {
	repo := newStubRepo()
	repo.addUser(1, models.RoleSales)
	repo.addLead(1, "")
	svc := newTestService(repo)
	actor := auth.Actor{UserID: 1, Role: models.RoleSales}

	opp, _, err := svc.Create(context.Background(), CreateRequest{LeadID: 1}, actor)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	repo.forceConflict = true
	_, err = svc.Transition(context.Background(), opp.ID, TransitionRequest{TargetStage: models.StageQualification}, actor)
	if !errors.Is(err, ErrStageConflict) {
		t.Fatalf("err=%v want ErrStageConflict", err)
	}

	// The losing transition must leave no ledger trace.
	entries, _ := repo.ListStageHistoryByOpportunityID(context.Background(), opp.ID)
	if len(entries) != 1 {
		t.Fatalf("history entries=%d want=1 (create only)", len(entries))
	}
	stored, _ := repo.GetOpportunityByID(context.Background(), opp.ID)
	if stored.Stage != models.StageNew || stored.Version != 1 {
		t.Fatalf("stage=%s version=%d want NEW/1", stored.Stage, stored.Version)
	}
}

func TestTransition_LostStampsClosedAtAndReason(t *testing.T) {
	repo := newStubRepo()
	repo.addUser(1, models.RoleSales)
	repo.addLead(1, "")
	svc := newTestService(repo)
	actor := auth.Actor{UserID: 1, Role: models.RoleSales}

	opp, _, err := svc.Create(context.Background(), CreateRequest{LeadID: 1}, actor)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	reason := models.LostReasonSemBudget
	outcome, err := svc.Transition(context.Background(), opp.ID, TransitionRequest{TargetStage: models.StageLost, LostReason: &reason}, actor)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	final := outcome.Opportunity
	if final.ClosedAt == nil {
		t.Fatalf("closed_at not stamped on LOST")
	}
	if final.LostReason == nil || *final.LostReason != reason {
		t.Fatalf("lost_reason=%v want=%s", final.LostReason, reason)
	}
	if final.Probability == nil || *final.Probability != 0 {
		t.Fatalf("probability=%v want=0", final.Probability)
	}
}

func TestTransition_SuggestedActions(t *testing.T) {
	repo := newStubRepo()
	repo.addUser(1, models.RoleSales)
	repo.addLead(1, "")
	svc := newTestService(repo)
	actor := auth.Actor{UserID: 1, Role: models.RoleSales}

	opp, _, err := svc.Create(context.Background(), CreateRequest{LeadID: 1}, actor)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	outcome, err := svc.Transition(context.Background(), opp.ID, TransitionRequest{TargetStage: models.StageQualification}, actor)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if len(outcome.SuggestedActions) == 0 {
		t.Fatalf("no suggested actions for QUALIFICATION")
	}
}

func TestUpdateFields_StageChangeHitsLedger(t *testing.T) {
	repo := newStubRepo()
	repo.addUser(1, models.RoleSales)
	repo.addLead(1, "")
	svc := newTestService(repo)
	actor := auth.Actor{UserID: 1, Role: models.RoleSales}

	opp, _, err := svc.Create(context.Background(), CreateRequest{LeadID: 1}, actor)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	stage := models.StageQualification
	updated, _, err := svc.UpdateFields(context.Background(), opp.ID, UpdateRequest{Stage: &stage}, actor)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Stage != models.StageQualification {
		t.Fatalf("stage=%s want=QUALIFICATION", updated.Stage)
	}
	entries, _ := repo.ListStageHistoryByOpportunityID(context.Background(), opp.ID)
	if len(entries) != 2 {
		t.Fatalf("history entries=%d want=2", len(entries))
	}
}

func TestUpdateFields_LostReasonCorrection(t *testing.T) {
	repo := newStubRepo()
	repo.addUser(1, models.RoleSales)
	repo.addLead(1, "")
	svc := newTestService(repo)
	actor := auth.Actor{UserID: 1, Role: models.RoleSales}

	opp, _, err := svc.Create(context.Background(), CreateRequest{LeadID: 1}, actor)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	reason := models.LostReasonOther
	if _, err := svc.Transition(context.Background(), opp.ID, TransitionRequest{TargetStage: models.StageLost, LostReason: &reason}, actor); err != nil {
		t.Fatalf("transition: %v", err)
	}

	corrected := models.LostReasonPrice
	updated, _, err := svc.UpdateFields(context.Background(), opp.ID, UpdateRequest{LostReason: &corrected}, actor)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.LostReason == nil || *updated.LostReason != models.LostReasonPrice {
		t.Fatalf("lost_reason=%v want=PRICE", updated.LostReason)
	}

	bad := "BAD_WEATHER"
	if _, _, err := svc.UpdateFields(context.Background(), opp.ID, UpdateRequest{LostReason: &bad}, actor); err == nil {
		t.Fatalf("unknown lost_reason accepted on update")
	}
}

func TestUpdateFields_LostReasonRejectedOnOpenDeal(t *testing.T) {
	repo := newStubRepo()
	repo.addUser(1, models.RoleSales)
	repo.addLead(1, "")
	svc := newTestService(repo)
	actor := auth.Actor{UserID: 1, Role: models.RoleSales}

	opp, _, err := svc.Create(context.Background(), CreateRequest{LeadID: 1}, actor)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	reason := models.LostReasonPrice
	var verr *ValidationError
	_, _, err = svc.UpdateFields(context.Background(), opp.ID, UpdateRequest{LostReason: &reason}, actor)
	if !errors.As(err, &verr) {
		t.Fatalf("err=%v want validation error", err)
	}
	stored, _ := repo.GetOpportunityByID(context.Background(), opp.ID)
	if stored.LostReason != nil {
		t.Fatalf("lost_reason set on an open deal: %v", *stored.LostReason)
	}
}

func TestUpdateFields_WonAmountOverrideAudited(t *testing.T) {
	repo := newStubRepo()
	repo.addUser(1, models.RoleSales)
	repo.addUser(9, models.RoleAdmin)
	repo.addLead(1, "")
	svc := newTestService(repo)

	won := decimal.NewFromInt(1000)
	opp := &models.Opportunity{ID: 42, LeadID: 1, OwnerID: 1, Stage: models.StageWon, Amount: &won, Version: 3}
	repo.opps[opp.ID] = opp

	newAmount := decimal.NewFromInt(1500)
	_, _, err := svc.UpdateFields(context.Background(), opp.ID, UpdateRequest{Amount: &newAmount}, auth.Actor{UserID: 1, Role: models.RoleSales})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("err=%v want ErrForbidden for non-admin", err)
	}
	if len(repo.audits) != 0 {
		t.Fatalf("audit rows=%d want=0 after rejected update", len(repo.audits))
	}

	updated, _, err := svc.UpdateFields(context.Background(), opp.ID, UpdateRequest{Amount: &newAmount}, auth.Actor{UserID: 9, Role: models.RoleAdmin})
	if err != nil {
		t.Fatalf("admin update: %v", err)
	}
	if updated.Amount == nil || !updated.Amount.Equal(newAmount) {
		t.Fatalf("amount=%v want=%s", updated.Amount, newAmount)
	}
	if len(repo.audits) != 1 {
		t.Fatalf("audit rows=%d want=1", len(repo.audits))
	}
	if repo.audits[0].Action != "won_amount_override" {
		t.Fatalf("audit action=%s", repo.audits[0].Action)
	}
}

func TestDelete_AdminEarlyStageOnly(t *testing.T) {
	repo := newStubRepo()
	repo.addUser(1, models.RoleSales)
	repo.addLead(1, "")
	svc := newTestService(repo)
	actor := auth.Actor{UserID: 1, Role: models.RoleSales}

	opp, _, err := svc.Create(context.Background(), CreateRequest{LeadID: 1}, actor)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.Delete(context.Background(), opp.ID, actor); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err=%v want ErrForbidden for sales", err)
	}

	admin := auth.Actor{UserID: 9, Role: models.RoleAdmin}
	if err := svc.Delete(context.Background(), opp.ID, admin); err != nil {
		t.Fatalf("admin delete of NEW: %v", err)
	}

	late := &models.Opportunity{ID: 77, LeadID: 1, OwnerID: 1, Stage: models.StageNegotiation, Version: 1}
	repo.opps[late.ID] = late
	err = svc.Delete(context.Background(), late.ID, admin)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err=%v want ValidationError for late-stage delete", err)
	}
}

func TestBulkUpdate_PartialSuccess(t *testing.T) {
	repo := newStubRepo()
	repo.addUser(1, models.RoleSales)
	repo.addLead(1, "")
	repo.addLead(2, "")
	svc := newTestService(repo)
	actor := auth.Actor{UserID: 1, Role: models.RoleSales}

	first, _, err := svc.Create(context.Background(), CreateRequest{LeadID: 1}, actor)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Already past QUALIFICATION, so the bulk transition below fails for it.
	second := &models.Opportunity{ID: 50, LeadID: 2, OwnerID: 1, Stage: models.StageNegotiation, Version: 1}
	repo.opps[second.ID] = second

	stage := models.StageQualification
	result := svc.BulkUpdate(context.Background(), []uint64{first.ID, second.ID}, BulkUpdateRequest{
		Action:      BulkActionTransition,
		TargetStage: &stage,
	}, actor)

	if len(result.Successful) != 1 || result.Successful[0] != first.ID {
		t.Fatalf("successful=%v want [%d]", result.Successful, first.ID)
	}
	if len(result.Failed) != 1 || result.Failed[0].ID != second.ID {
		t.Fatalf("failed=%v want one entry for %d", result.Failed, second.ID)
	}
}

func TestBulkUpdate_AssignRequiresElevation(t *testing.T) {
	repo := newStubRepo()
	repo.addUser(1, models.RoleSales)
	repo.addUser(2, models.RoleSales)
	repo.addLead(1, "")
	svc := newTestService(repo)
	actor := auth.Actor{UserID: 1, Role: models.RoleSales}

	opp, _, err := svc.Create(context.Background(), CreateRequest{LeadID: 1}, actor)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	owner := uint64(2)
	result := svc.BulkUpdate(context.Background(), []uint64{opp.ID}, BulkUpdateRequest{
		Action:  BulkActionAssign,
		OwnerID: &owner,
	}, actor)
	if len(result.Failed) != 1 {
		t.Fatalf("sales actor reassigned an opportunity: %+v", result)
	}

	manager := auth.Actor{UserID: 5, Role: models.RoleManager}
	result = svc.BulkUpdate(context.Background(), []uint64{opp.ID}, BulkUpdateRequest{
		Action:  BulkActionAssign,
		OwnerID: &owner,
	}, manager)
	if len(result.Successful) != 1 {
		t.Fatalf("manager reassign failed: %+v", result)
	}
	stored, _ := repo.GetOpportunityByID(context.Background(), opp.ID)
	if stored.OwnerID != owner {
		t.Fatalf("owner_id=%d want=%d", stored.OwnerID, owner)
	}
}

func TestBulkAssign_DuplicateLeadWarns(t *testing.T) {
	repo := newStubRepo()
	repo.addUser(1, models.RoleManager)
	repo.addUser(2, models.RoleSales)
	repo.addLead(1, "")
	repo.addLead(2, "")
	svc := newTestService(repo)
	manager := auth.Actor{UserID: 1, Role: models.RoleManager}

	existing := &models.Opportunity{ID: 30, LeadID: 2, OwnerID: 2, Stage: models.StageDiscovery, Version: 1}
	repo.opps[existing.ID] = existing
	repo.nextID = 30

	result := svc.BulkAssign(context.Background(), []uint64{1, 2}, 2, models.StageNew, manager)
	if len(result.Created) != 2 {
		t.Fatalf("created=%d want=2 (duplicate lead still creates)", len(result.Created))
	}
	if len(result.Warnings) != 1 || result.Warnings[0].ID != 2 {
		t.Fatalf("warnings=%v want one for lead 2", result.Warnings)
	}
}
