package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BaseModel provides shared columns for all tables.
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate ensures UUIDs are generated for new records.
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// JSONMap is a free-form metadata column.
type JSONMap map[string]any

// All returns every model in migration order.
func All() []interface{} {
	return []interface{}{
		&User{},
		&OTPRecord{},
		&Session{},
		&Product{},
		&Voucher{},
		&Order{},
		&ShippingAddress{},
		&Payment{},
		&VoucherUsage{},
	}
}
