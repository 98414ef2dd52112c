package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Stage is a pipeline lifecycle state. The legal moves between stages live in
// the pipeline package's stage machine; this package only stores the value.
type Stage string

const (
	StageNew           Stage = "NEW"
	StageQualification Stage = "QUALIFICATION"
	StageDiscovery     Stage = "DISCOVERY"
	StageProposal      Stage = "PROPOSAL"
	StageNegotiation   Stage = "NEGOTIATION"
	StageWon           Stage = "WON"
	StageLost          Stage = "LOST"
)

// Terminal reports whether the stage has no outgoing edges.
func (s Stage) Terminal() bool {
	return s == StageWon || s == StageLost
}

// Loss reasons recorded when an opportunity is closed as LOST.
const (
	LostReasonSemBudget  = "SEM_BUDGET"
	LostReasonPrice      = "PRICE"
	LostReasonCompetitor = "COMPETITOR"
	LostReasonTiming     = "TIMING"
	LostReasonNoFit      = "NO_FIT"
	LostReasonOther      = "OTHER"

	// LostReasonNone is the synthetic bucket loss analytics uses for
	// LOST opportunities with no reason recorded. Never persisted.
	LostReasonNone = "NO_REASON"
)

type Opportunity struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	LeadID uint64 `gorm:"not null;index"`
	Lead   Lead

	OwnerID uint64 `gorm:"not null;index"`
	Owner   User   `gorm:"foreignKey:OwnerID"`

	Stage Stage `gorm:"type:varchar(20);not null;index;default:'NEW'"`

	// Money-like values stored as numeric to avoid float drift.
	Amount        *decimal.Decimal `gorm:"type:numeric(30,10)"`
	Currency      string           `gorm:"type:varchar(10);not null;default:'USD'"`
	DiscountPct   *decimal.Decimal `gorm:"type:numeric(10,4)"`
	CostEstimated *decimal.Decimal `gorm:"type:numeric(30,10)"`

	// Probability is 0-100; nil means the stage default applies.
	Probability *int `gorm:""`

	ExpectedCloseAt *time.Time `gorm:"type:timestamptz;index"`
	LostReason      *string    `gorm:"type:varchar(50)"`
	ClosedAt        *time.Time `gorm:"type:timestamptz;index"`

	// Version guards concurrent transitions: every committed stage change
	// increments it and writes are conditional on the value read.
	Version uint64 `gorm:"not null;default:1"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Opportunity) TableName() string {
	return "opportunities"
}

// EffectiveProbability returns the stored probability, falling back to the
// supplied stage default when none was set.
func (o *Opportunity) EffectiveProbability(stageDefault int) int {
	if o != nil && o.Probability != nil {
		return *o.Probability
	}
	return stageDefault
}
