package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/hollowpine/storefront-backend/pkg/enums"
	"github.com/hollowpine/storefront-backend/pkg/types"
)

// Order is the authoritative order row. Totals are immutable after creation;
// only status and fulfillment fields change afterwards, and only through the
// state machine.
type Order struct {
	ID               uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	UserID           *uuid.UUID             `gorm:"column:user_id;type:uuid"`
	IsGuest          bool                   `gorm:"column:is_guest;not null;default:false"`
	GuestToken       *string                `gorm:"column:guest_token;uniqueIndex"`
	CustomerEmail    string                 `gorm:"column:customer_email;not null"`
	CustomerName     string                 `gorm:"column:customer_name;not null"`
	SubtotalCents    int                    `gorm:"column:subtotal_cents;not null"`
	ShippingCents    int                    `gorm:"column:shipping_cents;not null;default:0"`
	TotalCents       int                    `gorm:"column:total_cents;not null"`
	Status           enums.OrderStatus      `gorm:"column:status;not null;default:'PENDING'"`
	PaymentReference *string                `gorm:"column:payment_reference"`
	ShippingAddress  *types.Address         `gorm:"column:shipping_address;type:jsonb;serializer:json"`
	TrackingNumber   *string                `gorm:"column:tracking_number"`
	Carrier          *enums.ShippingCarrier `gorm:"column:carrier"`
	LabelURL         *string                `gorm:"column:label_url"`
	ShippedAt        *time.Time             `gorm:"column:shipped_at"`
	DeliveredAt      *time.Time             `gorm:"column:delivered_at"`
	Items            []OrderItem            `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt        time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

// OrderItem is an immutable snapshot of a product at order-creation time.
// The unit price carries the discount already applied, so later catalog or
// promotion edits never alter historical orders.
type OrderItem struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID      uuid.UUID `gorm:"column:product_id;type:uuid;not null"`
	Name           string    `gorm:"column:name;not null"`
	UnitPriceCents int       `gorm:"column:unit_price_cents;not null"`
	Quantity       int       `gorm:"column:quantity;not null"`
	ImageURL       *string   `gorm:"column:image_url"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}
