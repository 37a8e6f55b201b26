package models

import "github.com/google/uuid"

// Payment statuses.
const (
	PaymentStatusSucceeded = "succeeded"
)

// Payment is the single successful charge for an order.
type Payment struct {
	BaseModel
	OrderID           uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"order_id"`
	ProviderPaymentID string    `gorm:"index" json:"provider_payment_id"`
	// Amount is in minor units (cents or paise).
	Amount   int64   `json:"amount"`
	Currency string  `gorm:"size:3" json:"currency"`
	Status   string  `gorm:"size:16" json:"status"`
	Method   string  `json:"method"`
	Metadata JSONMap `gorm:"serializer:json;type:jsonb" json:"metadata,omitempty"`
}
