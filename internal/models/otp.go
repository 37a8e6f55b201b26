package models

import (
	"time"

	"github.com/google/uuid"
)

// OTP delivery channels and providers.
const (
	OTPChannelEmail = "email"
	OTPChannelSMS   = "sms"

	OTPProviderLocal  = "local"
	OTPProviderTwilio = "twilio"

	OTPPurposeRegistration = "registration"
	OTPPurposeLogin        = "login"
)

// TempUserData is the registration payload held until the code is verified.
type TempUserData struct {
	FirstName          string `json:"firstName"`
	LastName           string `json:"lastName"`
	Email              string `json:"email,omitempty"`
	Phone              string `json:"phone,omitempty"`
	IsFoundingMember   bool   `json:"isFoundingMember"`
	FoundingMemberPlan string `json:"foundingMemberPlan,omitempty"`
}

// OTPRecord is the single outstanding code for an email address or phone number.
type OTPRecord struct {
	BaseModel
	Identifier   string        `gorm:"uniqueIndex;not null" json:"identifier"`
	Channel      string        `gorm:"size:16" json:"channel"`
	Purpose      string        `gorm:"size:16" json:"purpose"`
	Provider     string        `gorm:"size:16" json:"provider"`
	CodeHash     string        `json:"-"`
	ExpiresAt    time.Time     `gorm:"index" json:"expires_at"`
	Verified     bool          `json:"verified"`
	Attempts     int           `json:"attempts"`
	UserID       *uuid.UUID    `gorm:"type:uuid" json:"user_id,omitempty"`
	TempUserData *TempUserData `gorm:"serializer:json;type:jsonb" json:"temp_user_data,omitempty"`
}

// Expired reports whether the code can no longer be used at now.
func (r *OTPRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
