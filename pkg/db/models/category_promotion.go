package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// CategoryPromotion is a time-bounded discount covering one or more
// categories. The effective discount for a product is the maximum of its own
// discount and any active promotion covering its category, never the sum.
type CategoryPromotion struct {
	ID              uuid.UUID      `gorm:"column:id;type:uuid;primaryKey"`
	Name            string         `gorm:"column:name;not null"`
	Categories      pq.StringArray `gorm:"column:categories;type:text[];not null"`
	DiscountPercent int            `gorm:"column:discount_percent;not null"`
	StartsAt        time.Time      `gorm:"column:starts_at;not null"`
	EndsAt          time.Time      `gorm:"column:ends_at;not null"`
	CreatedAt       time.Time      `gorm:"column:created_at;autoCreateTime"`
}

// ActiveAt reports whether the promotion window covers the given instant.
func (p CategoryPromotion) ActiveAt(at time.Time) bool {
	return !at.Before(p.StartsAt) && at.Before(p.EndsAt)
}

// Covers reports whether the promotion applies to the category.
func (p CategoryPromotion) Covers(category string) bool {
	for _, candidate := range p.Categories {
		if candidate == category {
			return true
		}
	}
	return false
}
