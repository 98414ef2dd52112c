package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"salescrm/internal/models"
	"salescrm/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- collaborators -----------------------------------------------------------

func (s *Store) GetUserByID(ctx context.Context, id uint64) (*models.User, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.User
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetLeadByID(ctx context.Context, id uint64) (*models.Lead, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.Lead
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListLeadsByIDs(ctx context.Context, ids []uint64) ([]models.Lead, error) {
	if s == nil || s.db == nil || len(ids) == 0 {
		return nil, nil
	}
	var items []models.Lead
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListTasksByOpportunityID(ctx context.Context, opportunityID uint64) ([]models.Task, error) {
	if s == nil || s.db == nil || opportunityID == 0 {
		return nil, nil
	}
	var items []models.Task
	if err := s.db.WithContext(ctx).
		Where("opportunity_id = ?", opportunityID).
		Order("due_at asc nulls last").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- opportunities -----------------------------------------------------------

func (s *Store) CreateOpportunityTx(ctx context.Context, tx *gorm.DB, item *models.Opportunity) error {
	if item == nil {
		return nil
	}
	return s.conn(ctx, tx).Create(item).Error
}

func (s *Store) GetOpportunityByID(ctx context.Context, id uint64) (*models.Opportunity, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.Opportunity
	err := s.db.WithContext(ctx).
		Preload("Lead").
		Preload("Owner").
		First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListOpportunities(ctx context.Context, params repository.ListOpportunitiesParams) ([]models.Opportunity, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.applyOpportunityFilters(s.db.WithContext(ctx).Model(&models.Opportunity{}), params)
	if params.WithLead {
		query = query.Preload("Lead")
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	if params.Limit > 0 {
		query = query.Limit(normalizeLimit(params.Limit, 100)).Offset(normalizeOffset(params.Offset))
	}
	var items []models.Opportunity
	if err := query.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountOpportunities(ctx context.Context, params repository.ListOpportunitiesParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	query := s.applyOpportunityFilters(s.db.WithContext(ctx).Model(&models.Opportunity{}), params)
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) applyOpportunityFilters(query *gorm.DB, params repository.ListOpportunitiesParams) *gorm.DB {
	if params.OwnerID != nil && *params.OwnerID != 0 {
		query = query.Where("owner_id = ?", *params.OwnerID)
	}
	if params.LeadID != nil && *params.LeadID != 0 {
		query = query.Where("lead_id = ?", *params.LeadID)
	}
	if params.Stage != nil {
		query = query.Where("stage = ?", *params.Stage)
	}
	if len(params.Stages) > 0 {
		query = query.Where("stage IN ?", params.Stages)
	}
	if len(params.ExcludeStages) > 0 {
		query = query.Where("stage NOT IN ?", params.ExcludeStages)
	}
	if params.CreatedFrom != nil && !params.CreatedFrom.IsZero() {
		query = query.Where("created_at >= ?", *params.CreatedFrom)
	}
	if params.CreatedTo != nil && !params.CreatedTo.IsZero() {
		query = query.Where("created_at <= ?", *params.CreatedTo)
	}
	if params.ClosedFrom != nil && !params.ClosedFrom.IsZero() {
		query = query.Where("closed_at >= ?", *params.ClosedFrom)
	}
	if params.ClosedTo != nil && !params.ClosedTo.IsZero() {
		query = query.Where("closed_at <= ?", *params.ClosedTo)
	}
	if params.ExpectedCloseFrom != nil || params.ExpectedCloseTo != nil {
		cond := s.db.Session(&gorm.Session{NewDB: true})
		window := cond
		if params.ExpectedCloseFrom != nil {
			window = window.Where("expected_close_at >= ?", *params.ExpectedCloseFrom)
		}
		if params.ExpectedCloseTo != nil {
			window = window.Where("expected_close_at <= ?", *params.ExpectedCloseTo)
		}
		if params.IncludeNoCloseDate {
			query = query.Where(window.Or("expected_close_at IS NULL"))
		} else {
			query = query.Where(window)
		}
	}
	return query
}

func (s *Store) UpdateOpportunityTx(ctx context.Context, tx *gorm.DB, id uint64, updates map[string]any) error {
	if id == 0 || len(updates) == 0 {
		return nil
	}
	return s.conn(ctx, tx).
		Model(&models.Opportunity{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (s *Store) TransitionOpportunityTx(ctx context.Context, tx *gorm.DB, id uint64, expectedStage models.Stage, expectedVersion uint64, updates map[string]any) (int64, error) {
	if id == 0 || len(updates) == 0 {
		return 0, nil
	}
	res := s.conn(ctx, tx).
		Model(&models.Opportunity{}).
		Where("id = ? AND stage = ? AND version = ?", id, expectedStage, expectedVersion).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (s *Store) DeleteOpportunityTx(ctx context.Context, tx *gorm.DB, id uint64) error {
	if id == 0 {
		return nil
	}
	conn := s.conn(ctx, tx)
	if err := conn.Where("opportunity_id = ?", id).Delete(&models.StageHistoryEntry{}).Error; err != nil {
		return err
	}
	return conn.Delete(&models.Opportunity{}, "id = ?", id).Error
}

func (s *Store) CountActiveOpportunitiesByOwner(ctx context.Context, ownerID uint64) (int64, error) {
	if s == nil || s.db == nil || ownerID == 0 {
		return 0, nil
	}
	var total int64
	err := s.db.WithContext(ctx).
		Model(&models.Opportunity{}).
		Where("owner_id = ?", ownerID).
		Where("stage NOT IN ?", []models.Stage{models.StageWon, models.StageLost}).
		Count(&total).Error
	return total, err
}

func (s *Store) HasActiveOpportunityForLead(ctx context.Context, leadID uint64, excludeID uint64) (bool, error) {
	if s == nil || s.db == nil || leadID == 0 {
		return false, nil
	}
	query := s.db.WithContext(ctx).
		Model(&models.Opportunity{}).
		Where("lead_id = ?", leadID).
		Where("stage NOT IN ?", []models.Stage{models.StageWon, models.StageLost})
	if excludeID != 0 {
		query = query.Where("id <> ?", excludeID)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return false, err
	}
	return total > 0, nil
}

func (s *Store) CountOverdueOpenOpportunities(ctx context.Context, now time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	var total int64
	err := s.db.WithContext(ctx).
		Model(&models.Opportunity{}).
		Where("stage NOT IN ?", []models.Stage{models.StageWon, models.StageLost}).
		Where("expected_close_at IS NOT NULL").
		Where("expected_close_at < ?", now).
		Count(&total).Error
	return total, err
}

// --- stage history -----------------------------------------------------------

func (s *Store) InsertStageHistoryTx(ctx context.Context, tx *gorm.DB, item *models.StageHistoryEntry) error {
	if item == nil {
		return nil
	}
	return s.conn(ctx, tx).Create(item).Error
}

func (s *Store) ListStageHistoryByOpportunityID(ctx context.Context, opportunityID uint64) ([]models.StageHistoryEntry, error) {
	if s == nil || s.db == nil || opportunityID == 0 {
		return nil, nil
	}
	var items []models.StageHistoryEntry
	if err := s.db.WithContext(ctx).
		Where("opportunity_id = ?", opportunityID).
		Order("changed_at asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListStageHistoryByOpportunityIDs(ctx context.Context, opportunityIDs []uint64) ([]models.StageHistoryEntry, error) {
	if s == nil || s.db == nil || len(opportunityIDs) == 0 {
		return nil, nil
	}
	var items []models.StageHistoryEntry
	if err := s.db.WithContext(ctx).
		Where("opportunity_id IN ?", opportunityIDs).
		Order("opportunity_id asc, changed_at asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- audit -------------------------------------------------------------------

func (s *Store) InsertAuditLogTx(ctx context.Context, tx *gorm.DB, item *models.AuditLog) error {
	if item == nil {
		return nil
	}
	return s.conn(ctx, tx).Create(item).Error
}

func (s *Store) DeleteAuditLogsBefore(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil || before.IsZero() {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Where("created_at < ?", before).
		Delete(&models.AuditLog{})
	return res.RowsAffected, res.Error
}

// --- helpers -----------------------------------------------------------------

// conn resolves the handle a write should run on: the caller's transaction if
// one is open, otherwise the base connection.
func (s *Store) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return s.db.WithContext(ctx)
}

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
