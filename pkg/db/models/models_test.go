package models

import (
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Service tests run against sqlite, so every model the fixtures migrate has
// to produce DDL sqlite accepts. Identifiers are assigned in code, not by a
// database default.
func TestAutoMigrateOnSQLite(t *testing.T) {
	t.Parallel()

	dsn := "file:models_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	err = db.AutoMigrate(
		&User{}, &Product{}, &CartItem{},
		&Order{}, &OrderItem{}, &ProcessedWebhookEvent{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	product := Product{ID: uuid.New(), Name: "widget", Category: "apparel", PriceCents: 1000, Stock: 1, IsActive: true}
	if err := db.Create(&product).Error; err != nil {
		t.Fatalf("create product: %v", err)
	}
	var loaded Product
	if err := db.First(&loaded, "id = ?", product.ID).Error; err != nil {
		t.Fatalf("load product: %v", err)
	}
	if loaded.ID != product.ID {
		t.Fatalf("unexpected id %s", loaded.ID)
	}
}
