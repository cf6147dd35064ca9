package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hollowpine/storefront-backend/pkg/db/models"
)

// Repository exposes the product reads the cart and checkout flows need.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error)
	ActivePromotionsAt(ctx context.Context, at time.Time) ([]models.CategoryPromotion, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the catalog repository to the provided DB handle.
func NewRepository(db *gorm.DB) Repository {
	if db == nil {
		return nil
	}
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// FindByIDs loads the requested products in one query, keyed by id. Missing
// ids are simply absent from the result map.
func (r *repository) FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error) {
	out := make(map[uuid.UUID]models.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var products []models.Product
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&products).Error; err != nil {
		return nil, err
	}
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}

// ActivePromotionsAt returns promotions whose window covers the given instant.
func (r *repository) ActivePromotionsAt(ctx context.Context, at time.Time) ([]models.CategoryPromotion, error) {
	var promos []models.CategoryPromotion
	err := r.db.WithContext(ctx).
		Where("starts_at <= ? AND ends_at > ?", at, at).
		Find(&promos).Error
	if err != nil {
		return nil, err
	}
	return promos, nil
}
