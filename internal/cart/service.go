package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hollowpine/storefront-backend/internal/catalog"
	"github.com/hollowpine/storefront-backend/pkg/config"
	"github.com/hollowpine/storefront-backend/pkg/db/models"
	pkgerrors "github.com/hollowpine/storefront-backend/pkg/errors"
	"github.com/hollowpine/storefront-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service exposes cart persistence and guest-merge operations.
type Service interface {
	Get(ctx context.Context, userID uuid.UUID) (*CartView, error)
	SetItem(ctx context.Context, userID, productID uuid.UUID, quantity int) error
	RemoveItem(ctx context.Context, userID, productID uuid.UUID) error
	Clear(ctx context.Context, userID uuid.UUID) error
	MergeGuestCart(ctx context.Context, userID uuid.UUID, incoming []GuestCartItem) (*MergeResult, error)
}

type service struct {
	repo     Repository
	catalog  catalog.Repository
	tx       txRunner
	logg     *logger.Logger
	limits   config.CheckoutConfig
	timeFunc func() time.Time
}

// NewService builds a cart service backed by the provided stack.
func NewService(repo Repository, catalogRepo catalog.Repository, tx txRunner, logg *logger.Logger, limits config.CheckoutConfig) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if catalogRepo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:     repo,
		catalog:  catalogRepo,
		tx:       tx,
		logg:     logg,
		limits:   limits,
		timeFunc: time.Now,
	}, nil
}

// GuestCartItem is one line of a client-held guest cart submitted for merge.
type GuestCartItem struct {
	ProductID uuid.UUID `json:"productId"`
	Quantity  int       `json:"quantity"`
}

// SkippedItem reports one guest cart line that could not be merged.
type SkippedItem struct {
	ProductID uuid.UUID `json:"productId"`
	Reason    string    `json:"reason"`
}

// MergeResult summarizes a guest cart merge. Skipped counts the Errors
// entries; the batch only reads as failed when nothing merged at all.
type MergeResult struct {
	Success bool          `json:"success"`
	Synced  int           `json:"synced"`
	Skipped int           `json:"skipped"`
	Errors  []SkippedItem `json:"errors"`
}

// CartView is the priced read model for a user's cart.
type CartView struct {
	Items         []CartLine `json:"items"`
	SubtotalCents int        `json:"subtotalCents"`
}

// CartLine is one cart row with its current effective price.
type CartLine struct {
	ProductID      uuid.UUID `json:"productId"`
	Name           string    `json:"name"`
	ImageURL       *string   `json:"imageUrl,omitempty"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int       `json:"unitPriceCents"`
	LineTotalCents int       `json:"lineTotalCents"`
	Stock          int       `json:"stock"`
	IsActive       bool      `json:"isActive"`
}

// Get returns the cart priced at the current instant. Prices shown here are
// advisory; checkout re-prices authoritatively.
func (s *service) Get(ctx context.Context, userID uuid.UUID) (*CartView, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}

	items, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.timeFunc()
	promos, err := s.catalog.ActivePromotionsAt(ctx, now)
	if err != nil {
		return nil, err
	}

	view := &CartView{Items: make([]CartLine, 0, len(items))}
	for _, item := range items {
		if item.Product == nil {
			continue
		}
		unit := catalog.UnitPriceAt(*item.Product, promos, now)
		line := CartLine{
			ProductID:      item.ProductID,
			Name:           item.Product.Name,
			ImageURL:       item.Product.ImageURL,
			Quantity:       item.Quantity,
			UnitPriceCents: unit,
			LineTotalCents: unit * item.Quantity,
			Stock:          item.Product.Stock,
			IsActive:       item.Product.IsActive,
		}
		view.Items = append(view.Items, line)
		view.SubtotalCents += line.LineTotalCents
	}
	return view, nil
}

// SetItem creates or replaces a cart line with the given quantity.
func (s *service) SetItem(ctx context.Context, userID, productID uuid.UUID, quantity int) error {
	if userID == uuid.Nil || productID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id and product id are required")
	}
	if quantity < 1 || quantity > s.limits.MaxItemQuantity {
		return pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("quantity must be between 1 and %d", s.limits.MaxItemQuantity))
	}

	products, err := s.catalog.FindByIDs(ctx, []uuid.UUID{productID})
	if err != nil {
		return err
	}
	product, ok := products[productID]
	if !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	if !product.IsActive {
		return pkgerrors.New(pkgerrors.CodeValidation, "product is not available")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		count, err := repo.CountForUser(ctx, userID)
		if err != nil {
			return err
		}
		if int(count) >= s.limits.MaxCartItems {
			// Replacing an existing line is always allowed at the cap.
			existing, err := repo.ListByUser(ctx, userID)
			if err != nil {
				return err
			}
			found := false
			for _, item := range existing {
				if item.ProductID == productID {
					found = true
					break
				}
			}
			if !found {
				return pkgerrors.New(pkgerrors.CodeValidation,
					fmt.Sprintf("cart is limited to %d distinct items", s.limits.MaxCartItems))
			}
		}

		return repo.Upsert(ctx, &models.CartItem{
			ID:        uuid.New(),
			UserID:    userID,
			ProductID: productID,
			Quantity:  quantity,
		})
	})
}

func (s *service) RemoveItem(ctx context.Context, userID, productID uuid.UUID) error {
	if userID == uuid.Nil || productID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id and product id are required")
	}
	return s.repo.Remove(ctx, userID, productID)
}

func (s *service) Clear(ctx context.Context, userID uuid.UUID) error {
	if userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	return s.repo.Clear(ctx, userID)
}

// MergeGuestCart folds a client-held guest cart into the account cart after
// login. Lines with quantities outside the allowed range are skipped with a
// reason instead of failing the whole sync; mergeable lines are clamped
// against live stock. The merge runs in one transaction.
func (s *service) MergeGuestCart(ctx context.Context, userID uuid.UUID, incoming []GuestCartItem) (*MergeResult, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if len(incoming) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "guest cart is empty")
	}
	if len(incoming) > s.limits.MaxCartItems {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("guest cart exceeds %d distinct items", s.limits.MaxCartItems))
	}

	result := &MergeResult{}

	// Collapse duplicate product lines before validation.
	quantities := map[uuid.UUID]int{}
	orderIDs := make([]uuid.UUID, 0, len(incoming))
	for _, line := range incoming {
		if line.ProductID == uuid.Nil {
			result.Errors = append(result.Errors, SkippedItem{ProductID: line.ProductID, Reason: "invalid product id"})
			continue
		}
		if line.Quantity < 1 || line.Quantity > s.limits.MaxItemQuantity {
			result.Errors = append(result.Errors, SkippedItem{ProductID: line.ProductID, Reason: "invalid quantity"})
			continue
		}
		if _, seen := quantities[line.ProductID]; !seen {
			orderIDs = append(orderIDs, line.ProductID)
		}
		quantities[line.ProductID] += line.Quantity
	}

	products, err := s.catalog.FindByIDs(ctx, orderIDs)
	if err != nil {
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		existing, err := repo.ListByUser(ctx, userID)
		if err != nil {
			return err
		}
		existingQty := make(map[uuid.UUID]int, len(existing))
		for _, item := range existing {
			existingQty[item.ProductID] = item.Quantity
		}

		distinct := len(existing)
		var upserts []models.CartItem
		for _, productID := range orderIDs {
			product, ok := products[productID]
			if !ok {
				result.Errors = append(result.Errors, SkippedItem{ProductID: productID, Reason: "Product not found"})
				continue
			}
			if !product.IsActive {
				result.Errors = append(result.Errors, SkippedItem{ProductID: productID, Reason: "product not available"})
				continue
			}
			if product.Stock <= 0 {
				result.Errors = append(result.Errors, SkippedItem{ProductID: productID, Reason: "out of stock"})
				continue
			}

			current, held := existingQty[productID]
			if !held {
				if distinct >= s.limits.MaxCartItems {
					result.Errors = append(result.Errors, SkippedItem{ProductID: productID, Reason: "cart is full"})
					continue
				}
				distinct++
			}

			quantity := current + quantities[productID]
			if quantity > product.Stock {
				quantity = product.Stock
			}
			if quantity > s.limits.MaxItemQuantity {
				quantity = s.limits.MaxItemQuantity
			}

			upserts = append(upserts, models.CartItem{
				ID:        uuid.New(),
				UserID:    userID,
				ProductID: productID,
				Quantity:  quantity,
			})
			result.Synced++
		}

		return repo.UpsertAll(ctx, upserts)
	})
	if err != nil {
		return nil, err
	}

	result.Skipped = len(result.Errors)
	result.Success = result.Synced > 0 || result.Skipped == 0

	s.logg.Info(s.logg.WithUserID(ctx, userID.String()),
		fmt.Sprintf("guest cart merged: %d synced, %d skipped", result.Synced, result.Skipped))
	return result, nil
}
