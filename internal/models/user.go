package models

import (
	"strings"
	"time"
)

// User statuses.
const (
	UserStatusPending   = "pending"
	UserStatusActive    = "active"
	UserStatusSuspended = "suspended"
)

// User roles.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// PlaceholderEmailDomain backs the email of users who registered by phone only.
const PlaceholderEmailDomain = "mobile.bondsnbeyond.invalid"

// User represents a customer account.
type User struct {
	BaseModel
	Email               string     `gorm:"uniqueIndex;not null" json:"email"`
	Phone               string     `gorm:"index" json:"phone"`
	FirstName           string     `json:"first_name"`
	LastName            string     `json:"last_name"`
	Role                string     `gorm:"size:32;not null" json:"role"`
	Status              string     `gorm:"size:16;index;not null" json:"status"`
	EmailVerified       bool       `json:"email_verified"`
	MobileVerified      bool       `json:"mobile_verified"`
	IsFoundingMember    bool       `json:"is_founding_member"`
	FoundingMemberPlan  string     `json:"founding_member_plan,omitempty"`
	FoundingMemberSince *time.Time `json:"founding_member_since,omitempty"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty"`
	Orders              []Order    `json:"orders,omitempty"`
}

// FullName joins first and last name.
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// HasPlaceholderEmail reports whether the account has no real email address.
func (u *User) HasPlaceholderEmail() bool {
	return strings.HasSuffix(u.Email, "@"+PlaceholderEmailDomain)
}

// SplitFullName splits "Jane van Dyke" into "Jane" and "van Dyke".
func SplitFullName(full string) (first, last string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}
