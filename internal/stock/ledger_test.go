package stock

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/hollowpine/storefront-backend/pkg/db/models"
	pkgerrors "github.com/hollowpine/storefront-backend/pkg/errors"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:stock_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Product{}))
	return db
}

func seedProduct(t *testing.T, db *gorm.DB, stock int) uuid.UUID {
	t.Helper()
	product := models.Product{ID: uuid.New(), Name: "widget", PriceCents: 1999, Stock: stock, IsActive: true}
	require.NoError(t, db.Create(&product).Error)
	return product.ID
}

func TestDecrementAllAppliesEveryLine(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	productA := seedProduct(t, db, 5)
	productB := seedProduct(t, db, 2)

	err := db.Transaction(func(tx *gorm.DB) error {
		return DecrementAll(ctx, tx, []DecrementRequest{
			{ProductID: productA, Quantity: 3},
			{ProductID: productB, Quantity: 2},
		})
	})
	require.NoError(t, err)

	var a, b models.Product
	require.NoError(t, db.First(&a, "id = ?", productA).Error)
	require.NoError(t, db.First(&b, "id = ?", productB).Error)
	assert.Equal(t, 2, a.Stock)
	assert.Equal(t, 0, b.Stock)
}

func TestDecrementAllRollsBackOnShortfall(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	plenty := seedProduct(t, db, 10)
	scarce := seedProduct(t, db, 1)

	err := db.Transaction(func(tx *gorm.DB) error {
		return DecrementAll(ctx, tx, []DecrementRequest{
			{ProductID: plenty, Quantity: 4},
			{ProductID: scarce, Quantity: 3},
		})
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeInsufficientStock, typed.Code())

	// Rollback must leave both lines untouched.
	var p models.Product
	require.NoError(t, db.First(&p, "id = ?", plenty).Error)
	assert.Equal(t, 10, p.Stock)
}

func TestDecrementAllLastUnitHasOneWinner(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	product := seedProduct(t, db, 1)

	// Two settlements race for the final unit. The guarded update lets
	// exactly one through; the loser gets a shortfall, never a negative row.
	wins := 0
	for attempt := 0; attempt < 2; attempt++ {
		err := db.Transaction(func(tx *gorm.DB) error {
			return DecrementAll(ctx, tx, []DecrementRequest{{ProductID: product, Quantity: 1}})
		})
		if err == nil {
			wins++
			continue
		}
		typed := pkgerrors.As(err)
		require.NotNil(t, typed)
		assert.Equal(t, pkgerrors.CodeInsufficientStock, typed.Code())
	}
	require.Equal(t, 1, wins)

	var p models.Product
	require.NoError(t, db.First(&p, "id = ?", product).Error)
	assert.Equal(t, 0, p.Stock)
}

func TestDecrementAllReportsUnknownProduct(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		return DecrementAll(ctx, tx, []DecrementRequest{{ProductID: uuid.New(), Quantity: 1}})
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeInsufficientStock, typed.Code())
}

func TestDecrementAllValidatesQuantity(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	product := seedProduct(t, db, 5)

	err := DecrementAll(ctx, db, []DecrementRequest{{ProductID: product, Quantity: 0}})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
}

func TestCheckAvailability(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	product := seedProduct(t, db, 2)
	missing := uuid.New()

	shortfalls, err := CheckAvailability(ctx, db, []DecrementRequest{
		{ProductID: product, Quantity: 5},
		{ProductID: missing, Quantity: 1},
	})
	require.NoError(t, err)
	require.Len(t, shortfalls, 2)
	assert.Equal(t, product, shortfalls[0].ProductID)
	assert.Equal(t, 2, shortfalls[0].Available)

	ok, err := CheckAvailability(ctx, db, []DecrementRequest{{ProductID: product, Quantity: 2}})
	require.NoError(t, err)
	assert.Empty(t, ok)
}
