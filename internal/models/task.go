package models

import "time"

// Task is owned by the activity module; the pipeline only reads tasks to
// display them alongside an opportunity.
type Task struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	OpportunityID uint64 `gorm:"not null;index"`
	OwnerID       uint64 `gorm:"not null;index"`

	Title string `gorm:"type:varchar(300);not null"`
	Done  bool   `gorm:"not null;default:false"`

	DueAt *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Task) TableName() string {
	return "tasks"
}
