package models

import "time"

// Session is one authenticated login instance, keyed by an opaque token.
// Rows are never hard-deleted; revoked rows stay for audit.
type Session struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	UserID       string    `gorm:"size:36;not null;index" json:"user_id"`
	SessionToken string    `gorm:"size:128;not null;uniqueIndex" json:"-"`
	DeviceID     string    `gorm:"size:128" json:"device_id,omitempty"`
	IPAddress    string    `gorm:"size:64" json:"ip_address,omitempty"`
	UserAgent    string    `gorm:"size:512" json:"user_agent,omitempty"`
	Device       string    `gorm:"size:32" json:"device,omitempty"`
	Browser      string    `gorm:"size:64" json:"browser,omitempty"`
	OS           string    `gorm:"column:os;size:64" json:"os,omitempty"`
	Location     string    `gorm:"size:128" json:"location,omitempty"`
	LoginMethod  string    `gorm:"size:32" json:"login_method,omitempty"`
	IsActive     bool      `gorm:"not null;default:true;index:idx_sessions_active_expiry,priority:1" json:"is_active"`
	LastActivity time.Time `gorm:"not null" json:"last_activity"`
	ExpiresAt    time.Time `gorm:"not null;index:idx_sessions_active_expiry,priority:2" json:"expires_at"`
	CreatedAt    time.Time `gorm:"not null" json:"created_at"`
}

// IsValid reports whether the session is active and unexpired at now.
func (s *Session) IsValid(now time.Time) bool {
	return s.IsActive && s.ExpiresAt.After(now)
}
