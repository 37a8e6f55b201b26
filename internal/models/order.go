package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order statuses.
const (
	OrderStatusPending   = "pending"
	OrderStatusConfirmed = "confirmed"
	OrderStatusCancelled = "cancelled"
)

// Plan types, each with its own order number prefix.
const (
	PlanDigitalOnly       = "digital-only"
	PlanDigitalProfileApp = "digital-profile-app"
	PlanNFCCardFull       = "nfc-card-full"
)

// CardConfig is the card the customer designed.
type CardConfig struct {
	BaseMaterial  string `json:"baseMaterial"`
	Quantity      int    `json:"quantity"`
	Color         string `json:"color,omitempty"`
	IsDigitalOnly bool   `json:"isDigitalOnly"`
	FullName      string `json:"fullName,omitempty"`
	Title         string `json:"title,omitempty"`
	Company       string `json:"company,omitempty"`
}

// CheckoutData is the contact and shipping block of the checkout form.
type CheckoutData struct {
	Email        string `json:"email" validate:"required,email"`
	FullName     string `json:"fullName" validate:"required"`
	PhoneNumber  string `json:"phoneNumber,omitempty"`
	AddressLine1 string `json:"addressLine1,omitempty"`
	AddressLine2 string `json:"addressLine2,omitempty"`
	City         string `json:"city,omitempty"`
	State        string `json:"state,omitempty"`
	PostalCode   string `json:"postalCode,omitempty"`
	Country      string `json:"country,omitempty"`
}

// PricingSnapshot is the price the customer saw, plus any voucher applied later.
type PricingSnapshot struct {
	Subtotal            decimal.Decimal `json:"subtotal"`
	Shipping            decimal.Decimal `json:"shipping"`
	Tax                 decimal.Decimal `json:"tax"`
	Total               decimal.Decimal `json:"total"`
	AppSubscription     decimal.Decimal `json:"appSubscription"`
	TotalBeforeDiscount decimal.Decimal `json:"totalBeforeDiscount"`
	VoucherAmount       decimal.Decimal `json:"voucherAmount"`
}

// EmailsSent records which customer emails went out for an order.
type EmailsSent struct {
	Confirmation bool       `json:"confirmation"`
	Receipt      bool       `json:"receipt"`
	SentAt       *time.Time `json:"sentAt,omitempty"`
}

type Order struct {
	BaseModel
	OrderNumber   string          `gorm:"uniqueIndex;not null" json:"order_number"`
	UserID        uuid.UUID       `gorm:"type:uuid;index" json:"user_id"`
	User          *User           `json:"user,omitempty"`
	Status        string          `gorm:"size:16;index;not null" json:"status"`
	PlanType      string          `gorm:"size:32" json:"plan_type"`
	CustomerName  string          `json:"customer_name"`
	Email         string          `gorm:"index" json:"email"`
	PhoneNumber   string          `json:"phone_number"`
	CardConfig    CardConfig      `gorm:"serializer:json;type:jsonb" json:"card_config"`
	Shipping      CheckoutData    `gorm:"serializer:json;type:jsonb" json:"shipping"`
	Pricing       PricingSnapshot `gorm:"serializer:json;type:jsonb" json:"pricing"`
	Total         decimal.Decimal `gorm:"type:numeric(12,2)" json:"total"`
	Currency      string          `gorm:"size:3" json:"currency"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	PaymentID     string          `json:"payment_id,omitempty"`
	VoucherCode   string          `json:"voucher_code,omitempty"`
	VoucherAmount decimal.Decimal `gorm:"type:numeric(12,2)" json:"voucher_amount"`
	EmailsSent    EmailsSent      `gorm:"serializer:json;type:jsonb" json:"emails_sent"`
	ConfirmedAt   *time.Time      `json:"confirmed_at,omitempty"`
	CancelledAt   *time.Time      `json:"cancelled_at,omitempty"`
}
