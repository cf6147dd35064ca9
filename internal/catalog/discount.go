package catalog

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/hollowpine/storefront-backend/pkg/db/models"
)

var oneHundred = decimal.NewFromInt(100)

// EffectiveDiscount resolves the discount percent for a product at the given
// instant. Product and category discounts never stack; the larger one wins.
func EffectiveDiscount(product models.Product, promos []models.CategoryPromotion, at time.Time) int {
	discount := 0
	if product.DiscountPercent != nil {
		discount = clampPercent(*product.DiscountPercent)
	}
	for _, promo := range promos {
		if !promo.ActiveAt(at) || !promo.Covers(product.Category) {
			continue
		}
		if pct := clampPercent(promo.DiscountPercent); pct > discount {
			discount = pct
		}
	}
	return discount
}

// DiscountedUnitPrice applies the discount percent to the list price,
// rounding half up to whole cents.
func DiscountedUnitPrice(priceCents int, discountPercent int) int {
	pct := clampPercent(discountPercent)
	if pct == 0 {
		return priceCents
	}

	price := decimal.NewFromInt(int64(priceCents))
	multiplier := oneHundred.Sub(decimal.NewFromInt(int64(pct))).Div(oneHundred)
	return int(price.Mul(multiplier).Round(0).IntPart())
}

// UnitPriceAt is the price a buyer pays per unit at the given instant.
func UnitPriceAt(product models.Product, promos []models.CategoryPromotion, at time.Time) int {
	return DiscountedUnitPrice(product.PriceCents, EffectiveDiscount(product, promos, at))
}

func clampPercent(pct int) int {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
