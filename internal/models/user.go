package models

import "gorm.io/gorm"

// User roles
const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

// User is an operator account. Capabilities are resolved from Role via the
// auth package, never from the email address.
type User struct {
	gorm.Model
	Email string `gorm:"size:255;uniqueIndex;not null"`
	Name  string `gorm:"size:100"`
	Role  string `gorm:"size:20;default:viewer;not null"`
}
