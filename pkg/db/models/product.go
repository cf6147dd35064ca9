package models

import (
	"time"

	"github.com/google/uuid"
)

// Product is the canonical catalog listing. Stock is mutated only through
// the stock ledger's conditional update; the check constraint backstops it.
type Product struct {
	ID              uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name            string    `gorm:"column:name;not null"`
	Description     *string   `gorm:"column:description"`
	ImageURL        *string   `gorm:"column:image_url"`
	Category        string    `gorm:"column:category;not null"`
	PriceCents      int       `gorm:"column:price_cents;not null"`
	DiscountPercent *int      `gorm:"column:discount_percent"`
	Stock           int       `gorm:"column:stock;not null;default:0;check:stock >= 0"`
	IsActive        bool      `gorm:"column:is_active;not null;default:true"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
