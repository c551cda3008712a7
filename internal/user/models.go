package user

import (
	"gorm.io/gorm"
)

// UserModel represents the database model for users. Tag is the mention handle
// ("name#000001") clients embed in message text.
type UserModel struct {
	gorm.Model
	ID                   string `gorm:"primaryKey"`
	Username             string
	Tag                  string `gorm:"uniqueIndex"`
	NotificationsEnabled bool   `gorm:"default:true"`
}

// RoleModel mirrors the roles known to the graph store so role mentions can be
// resolved by tag.
type RoleModel struct {
	gorm.Model
	ID       string `gorm:"primaryKey"`
	ServerID string `gorm:"index"`
	Name     string
	Tag      string `gorm:"uniqueIndex"`
}
