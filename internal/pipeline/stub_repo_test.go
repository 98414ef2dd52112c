package pipeline

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"salescrm/internal/models"
	"salescrm/internal/repository"
)

// stubRepo is a test-only in-memory implementation of repository.Repository.
// It implements the full interface but only the subset the pipeline service
// touches has real behavior.
type stubRepo struct {
	users   map[uint64]*models.User
	leads   map[uint64]*models.Lead
	opps    map[uint64]*models.Opportunity
	history []models.StageHistoryEntry
	tasks   map[uint64][]models.Task
	audits  []models.AuditLog

	// forceConflict makes every conditional transition report zero affected
	// rows, simulating a concurrent writer winning the race.
	forceConflict bool

	nextID uint64
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		users: map[uint64]*models.User{},
		leads: map[uint64]*models.Lead{},
		opps:  map[uint64]*models.Opportunity{},
		tasks: map[uint64][]models.Task{},
	}
}

func (s *stubRepo) addUser(id uint64, role string) *models.User {
	u := &models.User{ID: id, Name: "user", Email: "u@example.com", Role: role, Active: true}
	s.users[id] = u
	return u
}

func (s *stubRepo) addLead(id uint64, source string) *models.Lead {
	l := &models.Lead{ID: id, Name: "lead", Source: source}
	s.leads[id] = l
	return l
}

func (s *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

func (s *stubRepo) GetUserByID(ctx context.Context, id uint64) (*models.User, error) {
	return s.users[id], nil
}

func (s *stubRepo) GetLeadByID(ctx context.Context, id uint64) (*models.Lead, error) {
	return s.leads[id], nil
}

func (s *stubRepo) ListLeadsByIDs(ctx context.Context, ids []uint64) ([]models.Lead, error) {
	var out []models.Lead
	for _, id := range ids {
		if l := s.leads[id]; l != nil {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (s *stubRepo) ListTasksByOpportunityID(ctx context.Context, opportunityID uint64) ([]models.Task, error) {
	return s.tasks[opportunityID], nil
}

func (s *stubRepo) CreateOpportunityTx(ctx context.Context, tx *gorm.DB, item *models.Opportunity) error {
	s.nextID++
	item.ID = s.nextID
	item.CreatedAt = time.Now().UTC()
	copied := *item
	s.opps[item.ID] = &copied
	return nil
}

func (s *stubRepo) GetOpportunityByID(ctx context.Context, id uint64) (*models.Opportunity, error) {
	opp := s.opps[id]
	if opp == nil {
		return nil, nil
	}
	copied := *opp
	return &copied, nil
}

func (s *stubRepo) ListOpportunities(ctx context.Context, params repository.ListOpportunitiesParams) ([]models.Opportunity, error) {
	var out []models.Opportunity
	for _, opp := range s.opps {
		if params.OwnerID != nil && opp.OwnerID != *params.OwnerID {
			continue
		}
		if params.LeadID != nil && opp.LeadID != *params.LeadID {
			continue
		}
		if params.Stage != nil && opp.Stage != *params.Stage {
			continue
		}
		out = append(out, *opp)
	}
	return out, nil
}

func (s *stubRepo) CountOpportunities(ctx context.Context, params repository.ListOpportunitiesParams) (int64, error) {
	items, _ := s.ListOpportunities(ctx, params)
	return int64(len(items)), nil
}

func (s *stubRepo) UpdateOpportunityTx(ctx context.Context, tx *gorm.DB, id uint64, updates map[string]any) error {
	if opp := s.opps[id]; opp != nil {
		applyUpdates(opp, updates)
	}
	return nil
}

func (s *stubRepo) TransitionOpportunityTx(ctx context.Context, tx *gorm.DB, id uint64, expectedStage models.Stage, expectedVersion uint64, updates map[string]any) (int64, error) {
	if s.forceConflict {
		return 0, nil
	}
	opp := s.opps[id]
	if opp == nil || opp.Stage != expectedStage || opp.Version != expectedVersion {
		return 0, nil
	}
	applyUpdates(opp, updates)
	return 1, nil
}

func (s *stubRepo) DeleteOpportunityTx(ctx context.Context, tx *gorm.DB, id uint64) error {
	delete(s.opps, id)
	return nil
}

func (s *stubRepo) CountActiveOpportunitiesByOwner(ctx context.Context, ownerID uint64) (int64, error) {
	var n int64
	for _, opp := range s.opps {
		if opp.OwnerID == ownerID && !opp.Stage.Terminal() {
			n++
		}
	}
	return n, nil
}

func (s *stubRepo) HasActiveOpportunityForLead(ctx context.Context, leadID uint64, excludeID uint64) (bool, error) {
	for _, opp := range s.opps {
		if opp.LeadID == leadID && opp.ID != excludeID && !opp.Stage.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func (s *stubRepo) CountOverdueOpenOpportunities(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	for _, opp := range s.opps {
		if !opp.Stage.Terminal() && opp.ExpectedCloseAt != nil && opp.ExpectedCloseAt.Before(now) {
			n++
		}
	}
	return n, nil
}

func (s *stubRepo) InsertStageHistoryTx(ctx context.Context, tx *gorm.DB, item *models.StageHistoryEntry) error {
	s.history = append(s.history, *item)
	return nil
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

func (s *stubRepo) InsertAuditLogTx(ctx context.Context, tx *gorm.DB, item *models.AuditLog) error {
	s.audits = append(s.audits, *item)
	return nil
}

func (s *stubRepo) DeleteAuditLogsBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func applyUpdates(opp *models.Opportunity, updates map[string]any) {
	for key, val := range updates {
		switch key {
		case "stage":
			opp.Stage = val.(models.Stage)
		case "probability":
			p := val.(int)
			opp.Probability = &p
		case "version":
			opp.Version = val.(uint64)
		case "amount":
			a := val.(decimal.Decimal)
			opp.Amount = &a
		case "expected_close_at":
			t := val.(time.Time)
			opp.ExpectedCloseAt = &t
		case "lost_reason":
			r := val.(string)
			opp.LostReason = &r
		case "closed_at":
			t := val.(time.Time)
			opp.ClosedAt = &t
		case "updated_at":
			opp.UpdatedAt = val.(time.Time)
		case "owner_id":
			opp.OwnerID = val.(uint64)
		case "discount_pct":
			d := val.(decimal.Decimal)
			opp.DiscountPct = &d
		case "cost_estimated":
			ce := val.(decimal.Decimal)
			opp.CostEstimated = &ce
		case "currency":
			opp.Currency = val.(string)
		}
	}
}
