package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Voucher is a discount code.
type Voucher struct {
	BaseModel
	Code                string              `gorm:"uniqueIndex;not null" json:"code"`
	Description         string              `json:"description,omitempty"`
	DiscountType        string              `gorm:"size:16;not null" json:"discount_type"`
	DiscountValue       decimal.Decimal     `gorm:"type:numeric(12,2)" json:"discount_value"`
	MaxDiscountAmount   decimal.NullDecimal `gorm:"type:numeric(12,2)" json:"max_discount_amount"`
	MinOrderAmount      decimal.Decimal     `gorm:"type:numeric(12,2)" json:"min_order_amount"`
	UsageLimit          *int                `json:"usage_limit"`
	UsedCount           int                 `gorm:"not null" json:"used_count"`
	ValidFrom           *time.Time          `json:"valid_from,omitempty"`
	ValidUntil          *time.Time          `json:"valid_until,omitempty"`
	IsActive            bool                `json:"is_active"`
	FoundingMembersOnly bool                `json:"founding_members_only"`
	OncePerUser         bool                `json:"once_per_user"`
}

// NormalizeVoucherCode returns the stored form of a code.
func NormalizeVoucherCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// BeforeSave keeps codes case-insensitive.
func (v *Voucher) BeforeSave(tx *gorm.DB) error {
	v.Code = NormalizeVoucherCode(v.Code)
	return nil
}

// VoucherUsage is one redemption, at most one per order.
type VoucherUsage struct {
	BaseModel
	VoucherID      uuid.UUID       `gorm:"type:uuid;index;not null" json:"voucher_id"`
	UserID         *uuid.UUID      `gorm:"type:uuid;index" json:"user_id,omitempty"`
	UserEmail      string          `gorm:"index" json:"user_email"`
	OrderID        uuid.UUID       `gorm:"type:uuid;uniqueIndex;not null" json:"order_id"`
	DiscountAmount decimal.Decimal `gorm:"type:numeric(12,2)" json:"discount_amount"`
}
