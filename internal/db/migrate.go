package db

import (
	"salescrm/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.User{},
		&models.Lead{},
		&models.Opportunity{},
		&models.StageHistoryEntry{},
		&models.Task{},
		&models.AuditLog{},
	)
}
