package models

import "time"

// RoleAdmin is the default authorization marker for administrative access.
const RoleAdmin = "admin"

// Profile is the account profile row keyed by the authenticated user id.
type Profile struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	FullName  string    `gorm:"size:255" json:"full_name"`
	Role      string    `gorm:"size:32;default:'user'" json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false" json:"updated_at"`
}

// TableName keeps the table name shared with the hosted backend.
func (Profile) TableName() string {
	return "user_profiles"
}

// HasRole reports whether the profile carries the given authorization marker.
func (p *Profile) HasRole(role string) bool {
	return p != nil && p.Role == role
}
