package models

import (
	"github.com/google/uuid"
)

// ShippingAddress is where an order's physical cards are delivered.
type ShippingAddress struct {
	BaseModel
	UserID       uuid.UUID  `gorm:"type:uuid;index" json:"user_id"`
	OrderID      *uuid.UUID `gorm:"type:uuid;index" json:"order_id,omitempty"`
	FullName     string     `json:"full_name"`
	PhoneNumber  string     `json:"phone_number"`
	AddressLine1 string     `json:"address_line1"`
	AddressLine2 string     `json:"address_line2"`
	City         string     `json:"city"`
	State        string     `json:"state"`
	PostalCode   string     `json:"postal_code"`
	Country      string     `json:"country"`
	IsDefault    bool       `json:"is_default"`
}
