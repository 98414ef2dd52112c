package analytics

import (
	"context"
	"time"

	"gorm.io/gorm"

	"salescrm/internal/models"
	"salescrm/internal/repository"
)

// stubRepo is a test-only in-memory implementation of repository.Repository.
// Only the read paths the analytics engines use have real behavior.
type stubRepo struct {
	leads   map[uint64]*models.Lead
	opps    []models.Opportunity
	history []models.StageHistoryEntry
}

func newStubRepo() *stubRepo {
	return &stubRepo{leads: map[uint64]*models.Lead{}}
}

func (s *stubRepo) ListOpportunities(ctx context.Context, params repository.ListOpportunitiesParams) ([]models.Opportunity, error) {
	var out []models.Opportunity
	for i := range s.opps {
		opp := s.opps[i]
		if params.OwnerID != nil && opp.OwnerID != *params.OwnerID {
			continue
		}
		if params.LeadID != nil && opp.LeadID != *params.LeadID {
			continue
		}
		if params.Stage != nil && opp.Stage != *params.Stage {
			continue
		}
		if len(params.Stages) > 0 && !stageIn(opp.Stage, params.Stages) {
			continue
		}
		if len(params.ExcludeStages) > 0 && stageIn(opp.Stage, params.ExcludeStages) {
			continue
		}
		if params.CreatedFrom != nil && opp.CreatedAt.Before(*params.CreatedFrom) {
			continue
		}
		if params.CreatedTo != nil && opp.CreatedAt.After(*params.CreatedTo) {
			continue
		}
		if params.ClosedFrom != nil || params.ClosedTo != nil {
			if opp.ClosedAt == nil {
				continue
			}
			if params.ClosedFrom != nil && opp.ClosedAt.Before(*params.ClosedFrom) {
				continue
			}
			if params.ClosedTo != nil && opp.ClosedAt.After(*params.ClosedTo) {
				continue
			}
		}
		if params.ExpectedCloseFrom != nil || params.ExpectedCloseTo != nil {
			if opp.ExpectedCloseAt == nil {
				if !params.IncludeNoCloseDate {
					continue
				}
			} else {
				if params.ExpectedCloseFrom != nil && opp.ExpectedCloseAt.Before(*params.ExpectedCloseFrom) {
					continue
				}
				if params.ExpectedCloseTo != nil && opp.ExpectedCloseAt.After(*params.ExpectedCloseTo) {
					continue
				}
			}
		}
		if params.WithLead {
			if lead := s.leads[opp.LeadID]; lead != nil {
				opp.Lead = *lead
			}
		}
		out = append(out, opp)
	}
	return out, nil
}

func stageIn(stage models.Stage, stages []models.Stage) bool {
	for _, s := range stages {
		if s == stage {
			return true
		}
	}
	return false
}

func (s *stubRepo) CountOpportunities(ctx context.Context, params repository.ListOpportunitiesParams) (int64, error) {
	items, _ := s.ListOpportunities(ctx, params)
	return int64(len(items)), nil
}

func (s *stubRepo) ListStageHistoryByOpportunityID(ctx context.Context, opportunityID uint64) ([]models.StageHistoryEntry, error) {
	var out []models.StageHistoryEntry
	for _, entry := range s.history {
		if entry.OpportunityID == opportunityID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *stubRepo) ListStageHistoryByOpportunityIDs(ctx context.Context, opportunityIDs []uint64) ([]models.StageHistoryEntry, error) {
	var out []models.StageHistoryEntry
	for _, id := range opportunityIDs {
		entries, _ := s.ListStageHistoryByOpportunityID(ctx, id)
		out = append(out, entries...)
	}
	return out, nil
}

func (s *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }
func (s *stubRepo) GetUserByID(ctx context.Context, id uint64) (*models.User, error) {
	return nil, nil
}
func (s *stubRepo) GetLeadByID(ctx context.Context, id uint64) (*models.Lead, error) {
	return s.leads[id], nil
}
func (s *stubRepo) ListLeadsByIDs(ctx context.Context, ids []uint64) ([]models.Lead, error) {
	return nil, nil
}
func (s *stubRepo) ListTasksByOpportunityID(ctx context.Context, opportunityID uint64) ([]models.Task, error) {
	return nil, nil
}
func (s *stubRepo) CreateOpportunityTx(ctx context.Context, tx *gorm.DB, item *models.Opportunity) error {
	return nil
}
func (s *stubRepo) GetOpportunityByID(ctx context.Context, id uint64) (*models.Opportunity, error) {
	return nil, nil
}
func (s *stubRepo) UpdateOpportunityTx(ctx context.Context, tx *gorm.DB, id uint64, updates map[string]any) error {
	return nil
}
func (s *stubRepo) TransitionOpportunityTx(ctx context.Context, tx *gorm.DB, id uint64, expectedStage models.Stage, expectedVersion uint64, updates map[string]any) (int64, error) {
	return 0, nil
}
func (s *stubRepo) DeleteOpportunityTx(ctx context.Context, tx *gorm.DB, id uint64) error {
	return nil
}
func (s *stubRepo) CountActiveOpportunitiesByOwner(ctx context.Context, ownerID uint64) (int64, error) {
	return 0, nil
}
func (s *stubRepo) HasActiveOpportunityForLead(ctx context.Context, leadID uint64, excludeID uint64) (bool, error) {
	return false, nil
}
func (s *stubRepo) CountOverdueOpenOpportunities(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}
func (s *stubRepo) InsertStageHistoryTx(ctx context.Context, tx *gorm.DB, item *models.StageHistoryEntry) error {
	s.history = append(s.history, *item)
	return nil
}
func (s *stubRepo) InsertAuditLogTx(ctx context.Context, tx *gorm.DB, item *models.AuditLog) error {
	return nil
}
func (s *stubRepo) DeleteAuditLogsBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}
