package models

import "time"

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleSales   = "sales"
)

type User struct {
	ID    uint64 `gorm:"primaryKey;autoIncrement"`
	Name  string `gorm:"type:varchar(200);not null"`
	Email string `gorm:"type:varchar(200);not null;uniqueIndex"`

	Role   string `gorm:"type:varchar(20);not null;default:'sales';index"`
	Active bool   `gorm:"not null;default:true"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (User) TableName() string {
	return "users"
}

// Elevated reports whether the user may act on records it does not own.
func (u *User) Elevated() bool {
	if u == nil {
		return false
	}
	return u.Role == RoleAdmin || u.Role == RoleManager
}
