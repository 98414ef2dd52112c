package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"salescrm/internal/models"
)

// Repository is the persistence surface consumed by the pipeline service and
// the analytics engines. Mutations that must be atomic with a ledger append
// take an explicit *gorm.DB transaction handle obtained via InTx.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Collaborator lookups.
	GetUserByID(ctx context.Context, id uint64) (*models.User, error)
	GetLeadByID(ctx context.Context, id uint64) (*models.Lead, error)
	ListLeadsByIDs(ctx context.Context, ids []uint64) ([]models.Lead, error)
	ListTasksByOpportunityID(ctx context.Context, opportunityID uint64) ([]models.Task, error)

	// Opportunities.
	CreateOpportunityTx(ctx context.Context, tx *gorm.DB, item *models.Opportunity) error
	GetOpportunityByID(ctx context.Context, id uint64) (*models.Opportunity, error)
	ListOpportunities(ctx context.Context, params ListOpportunitiesParams) ([]models.Opportunity, error)
	CountOpportunities(ctx context.Context, params ListOpportunitiesParams) (int64, error)
	UpdateOpportunityTx(ctx context.Context, tx *gorm.DB, id uint64, updates map[string]any) error
	// TransitionOpportunityTx applies updates conditional on the stage and
	// version read by the caller. Zero affected rows means a concurrent
	// transition won the race.
	TransitionOpportunityTx(ctx context.Context, tx *gorm.DB, id uint64, expectedStage models.Stage, expectedVersion uint64, updates map[string]any) (int64, error)
	DeleteOpportunityTx(ctx context.Context, tx *gorm.DB, id uint64) error
	CountActiveOpportunitiesByOwner(ctx context.Context, ownerID uint64) (int64, error)
	HasActiveOpportunityForLead(ctx context.Context, leadID uint64, excludeID uint64) (bool, error)
	CountOverdueOpenOpportunities(ctx context.Context, now time.Time) (int64, error)

	// Stage history ledger. Append-only: no update or delete methods exist.
	InsertStageHistoryTx(ctx context.Context, tx *gorm.DB, item *models.StageHistoryEntry) error
	ListStageHistoryByOpportunityID(ctx context.Context, opportunityID uint64) ([]models.StageHistoryEntry, error)
	ListStageHistoryByOpportunityIDs(ctx context.Context, opportunityIDs []uint64) ([]models.StageHistoryEntry, error)

	// Audit trail.
	InsertAuditLogTx(ctx context.Context, tx *gorm.DB, item *models.AuditLog) error
	DeleteAuditLogsBefore(ctx context.Context, before time.Time) (int64, error)
}

// ListOpportunitiesParams filters opportunity queries. Nil pointer fields are
// ignored. ExpectedCloseFrom/To bound expected_close_at; with
// IncludeNoCloseDate set, rows with no expected close date also match (the
// forecast selection rule).
type ListOpportunitiesParams struct {
	Limit  int
	Offset int

	OwnerID *uint64
	LeadID  *uint64

	Stage         *models.Stage
	Stages        []models.Stage
	ExcludeStages []models.Stage

	CreatedFrom *time.Time
	CreatedTo   *time.Time
	ClosedFrom  *time.Time
	ClosedTo    *time.Time

	ExpectedCloseFrom  *time.Time
	ExpectedCloseTo    *time.Time
	IncludeNoCloseDate bool

	WithLead bool

	OrderBy string
	Asc     *bool
}
