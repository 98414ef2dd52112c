package models

import "time"

// SourceUnknown is the bucket used by analytics when a lead carries no source.
const SourceUnknown = "UNKNOWN"

type Lead struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	Name    string `gorm:"type:varchar(200);not null"`
	Company string `gorm:"type:varchar(200)"`

	ContactEmail string `gorm:"type:varchar(200)"`
	ContactPhone string `gorm:"type:varchar(50)"`

	// Source is the acquisition channel (e.g. REFERRAL, WEBSITE, COLD_CALL).
	// Free-form by design; the scorer groups on it verbatim.
	Source string `gorm:"type:varchar(100);index"`

	OwnerID *uint64 `gorm:"index"`
	Owner   *User   `gorm:"foreignKey:OwnerID"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Lead) TableName() string {
	return "leads"
}
