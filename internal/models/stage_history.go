package models

import "time"

// StageHistoryEntry is one committed stage change. Entries are append-only:
// nothing in the codebase updates or deletes them, and analytics treats the
// ordered sequence per opportunity as the source of truth for velocity and
// conversion numbers. StageFrom is nil only for the entry written when the
// opportunity is created.
type StageHistoryEntry struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	OpportunityID uint64      `gorm:"not null;index:idx_stage_history_opp_changed,priority:1"`
	Opportunity   Opportunity `gorm:"foreignKey:OpportunityID"`

	StageFrom *Stage `gorm:"type:varchar(20)"`
	StageTo   Stage  `gorm:"type:varchar(20);not null;index"`

	ChangedBy uint64    `gorm:"not null;index"`
	ChangedAt time.Time `gorm:"type:timestamptz;not null;index:idx_stage_history_opp_changed,priority:2"`
}

func (StageHistoryEntry) TableName() string {
	return "stage_history"
}
