package models

import "time"

// UserRole represents the role of a user
type UserRole string

const (
	RoleAdmin   UserRole = "admin"
	RoleTeacher UserRole = "teacher"
	RoleStudent UserRole = "student"
)

// User represents an academy account
type User struct {
	ID       string   `gorm:"primaryKey;size:36" json:"id"`
	Email    string   `gorm:"size:255;not null;uniqueIndex" json:"email"`
	FullName string   `gorm:"size:255" json:"full_name"`
	Role     UserRole `gorm:"size:16;not null;default:student" json:"role"`

	// Authentication
	PasswordHash string `gorm:"size:255;not null" json:"-"`

	// Status
	IsActive  bool       `gorm:"not null;default:true" json:"is_active"`
	LastLogin *time.Time `json:"last_login,omitempty"`

	// Metadata
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsValidRole checks if a role is valid
func IsValidRole(role string) bool {
	switch UserRole(role) {
	case RoleAdmin, RoleTeacher, RoleStudent:
		return true
	}
	return false
}
