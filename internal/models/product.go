package models

import (
	"github.com/shopspring/decimal"
)

// Product is a catalog item: a card finish or an art print.
type Product struct {
	BaseModel
	SKU            string              `gorm:"uniqueIndex;not null" json:"sku"`
	Name           string              `gorm:"not null" json:"name"`
	Slug           string              `gorm:"uniqueIndex;not null" json:"slug"`
	Description    string              `json:"description"`
	Price          decimal.Decimal     `gorm:"type:numeric(12,2)" json:"price"`
	CompareAtPrice decimal.NullDecimal `gorm:"type:numeric(12,2)" json:"compare_at_price"`
	Stock          int                 `json:"stock"`
	Images         []string            `gorm:"serializer:json;type:jsonb" json:"images"`
	IsActive       bool                `gorm:"index" json:"is_active"`
	IsFeatured     bool                `json:"is_featured"`
}
