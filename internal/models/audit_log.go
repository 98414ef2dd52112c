package models

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog rows are written in the same transaction as the change they
// describe (e.g. an admin overriding the amount of a WON opportunity), so a
// rolled-back change never leaves an audit trace.
type AuditLog struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	ActorID    uint64 `gorm:"not null;index"`
	Action     string `gorm:"type:varchar(100);not null;index"`
	EntityType string `gorm:"type:varchar(50);not null"`
	EntityID   uint64 `gorm:"not null;index"`

	Details datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}
