package stock

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgdb "github.com/hollowpine/storefront-backend/pkg/db"
	"github.com/hollowpine/storefront-backend/pkg/db/models"
	pkgerrors "github.com/hollowpine/storefront-backend/pkg/errors"
)

// DecrementRequest asks the ledger to deduct quantity for one product.
type DecrementRequest struct {
	ProductID uuid.UUID
	Quantity  int
}

// Shortfall describes one product that blocked an all-or-nothing decrement.
type Shortfall struct {
	ProductID uuid.UUID `json:"productId"`
	Requested int       `json:"requested"`
	Available int       `json:"available"`
}

// DecrementAll deducts stock for every request inside the caller's
// transaction, or for none of them. Each deduction is a conditional update
// guarded by the current stock level, so concurrent orders can never push a
// product below zero. On shortfall the returned error is coded
// INSUFFICIENT_STOCK and the transaction must be rolled back by the caller.
func DecrementAll(ctx context.Context, tx *gorm.DB, requests []DecrementRequest) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction handle is required")
	}
	for _, req := range requests {
		if req.ProductID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
		}
		if req.Quantity <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("quantity must be positive for product %s", req.ProductID))
		}
	}

	var shortfalls []Shortfall
	for _, req := range requests {
		result := tx.WithContext(ctx).
			Model(&models.Product{}).
			Where("id = ? AND stock >= ?", req.ProductID, req.Quantity).
			Update("stock", gorm.Expr("stock - ?", req.Quantity))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 1 {
			continue
		}

		available, err := currentStock(ctx, tx, req.ProductID)
		if err != nil {
			return err
		}
		shortfalls = append(shortfalls, Shortfall{
			ProductID: req.ProductID,
			Requested: req.Quantity,
			Available: available,
		})
	}

	if len(shortfalls) > 0 {
		return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").
			WithDetails(map[string]any{"shortfalls": shortfalls})
	}
	return nil
}

// CheckAvailability reports shortfalls without mutating anything. Checkout
// uses it as an optimistic pre-payment gate; the authoritative deduction
// happens in DecrementAll when payment is confirmed.
func CheckAvailability(ctx context.Context, db *gorm.DB, requests []DecrementRequest) ([]Shortfall, error) {
	if db == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "db handle is required")
	}

	ids := make([]uuid.UUID, 0, len(requests))
	for _, req := range requests {
		ids = append(ids, req.ProductID)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var products []models.Product
	if err := db.WithContext(ctx).Select("id", "stock").Where("id IN ?", ids).Find(&products).Error; err != nil {
		return nil, err
	}
	stockByID := make(map[uuid.UUID]int, len(products))
	for _, p := range products {
		stockByID[p.ID] = p.Stock
	}

	var shortfalls []Shortfall
	for _, req := range requests {
		available, ok := stockByID[req.ProductID]
		if !ok {
			shortfalls = append(shortfalls, Shortfall{ProductID: req.ProductID, Requested: req.Quantity})
			continue
		}
		if available < req.Quantity {
			shortfalls = append(shortfalls, Shortfall{
				ProductID: req.ProductID,
				Requested: req.Quantity,
				Available: available,
			})
		}
	}
	return shortfalls, nil
}

func currentStock(ctx context.Context, tx *gorm.DB, productID uuid.UUID) (int, error) {
	var product models.Product
	err := tx.WithContext(ctx).Select("id", "stock").First(&product, "id = ?", productID).Error
	if err != nil {
		if pkgdb.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	return product.Stock, nil
}
