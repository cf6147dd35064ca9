package stripewebhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/hollowpine/storefront-backend/internal/cart"
	"github.com/hollowpine/storefront-backend/internal/orders"
	"github.com/hollowpine/storefront-backend/internal/users"
	pkgdb "github.com/hollowpine/storefront-backend/pkg/db"
	"github.com/hollowpine/storefront-backend/pkg/db/models"
	"github.com/hollowpine/storefront-backend/pkg/enums"
	"github.com/hollowpine/storefront-backend/pkg/logger"
)

type fixture struct {
	svc  *Service
	conn *gorm.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := "file:webhooks_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	err = conn.AutoMigrate(
		&models.Product{}, &models.CartItem{}, &models.Order{},
		&models.OrderItem{}, &models.User{}, &models.ProcessedWebhookEvent{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	svc, err := NewService(
		orders.NewRepository(conn),
		cart.NewRepository(conn),
		users.NewRepository(conn),
		pkgdb.FromGorm(conn),
		logger.New(logger.Options{ServiceName: "webhooks-test"}),
		nil,
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &fixture{svc: svc, conn: conn}
}

func strPtr(v string) *string { return &v }

func (f *fixture) seedPaidScenario(t *testing.T, stock int) (*models.Order, uuid.UUID) {
	t.Helper()
	productID := uuid.New()
	if err := f.conn.Create(&models.Product{
		ID: productID, Name: "widget", Category: "apparel",
		PriceCents: 2000, Stock: stock, IsActive: true,
	}).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}

	order := &models.Order{
		ID:            uuid.New(),
		IsGuest:       true,
		GuestToken:    strPtr("ord_" + uuid.NewString()),
		CustomerEmail: "buyer@example.com",
		CustomerName:  "Sam Buyer",
		SubtotalCents: 4000,
		ShippingCents: 599,
		TotalCents:    4599,
		Status:        enums.OrderStatusPending,
		Items: []models.OrderItem{
			{ID: uuid.New(), ProductID: productID, Name: "widget", UnitPriceCents: 2000, Quantity: 2},
		},
	}
	if err := f.conn.Create(order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order, productID
}

func sessionEvent(t *testing.T, eventID, eventType string, session map[string]any) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(session)
	if err != nil {
		t.Fatalf("marshal session: %v", err)
	}
	return &stripe.Event{
		ID:   eventID,
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: raw},
	}
}

func paidSessionPayload(orderID uuid.UUID) map[string]any {
	return map[string]any{
		"id":             "cs_test_1",
		"payment_status": "paid",
		"payment_intent": map[string]any{"id": "pi_test_1"},
		"metadata":       map[string]string{"orderId": orderID.String(), "isGuest": "true"},
		"customer_details": map[string]any{
			"email": "buyer@example.com",
			"phone": "+14155550100",
		},
		"collected_information": map[string]any{
			"shipping_details": map[string]any{
				"name": "Sam Buyer",
				"address": map[string]any{
					"line1":       "500 Market St",
					"city":        "San Francisco",
					"state":       "CA",
					"postal_code": "94105",
					"country":     "US",
				},
			},
		},
	}
}

func TestCheckoutCompletedSettlesOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, productID := f.seedPaidScenario(t, 5)

	event := sessionEvent(t, "evt_1", "checkout.session.completed", paidSessionPayload(order.ID))
	if err := f.svc.HandleEvent(ctx, event); err != nil {
		t.Fatalf("handle: %v", err)
	}

	var settled models.Order
	if err := f.conn.First(&settled, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if settled.Status != enums.OrderStatusProcessing {
		t.Fatalf("unexpected status %s", settled.Status)
	}
	if settled.PaymentReference == nil || *settled.PaymentReference != "pi_test_1" {
		t.Fatalf("unexpected payment reference %+v", settled.PaymentReference)
	}
	if settled.ShippingAddress == nil || settled.ShippingAddress.City != "San Francisco" {
		t.Fatalf("unexpected shipping address %+v", settled.ShippingAddress)
	}

	var product models.Product
	if err := f.conn.First(&product, "id = ?", productID).Error; err != nil {
		t.Fatalf("load product: %v", err)
	}
	if product.Stock != 3 {
		t.Fatalf("expected stock 3, got %d", product.Stock)
	}

	var record models.ProcessedWebhookEvent
	if err := f.conn.First(&record, "event_id = ?", "evt_1").Error; err != nil {
		t.Fatalf("load dedupe record: %v", err)
	}
	if record.OrderID == nil || *record.OrderID != order.ID {
		t.Fatalf("unexpected record %+v", record)
	}
}

func TestDuplicateDeliveryIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, productID := f.seedPaidScenario(t, 5)

	event := sessionEvent(t, "evt_dup", "checkout.session.completed", paidSessionPayload(order.ID))
	if err := f.svc.HandleEvent(ctx, event); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := f.svc.HandleEvent(ctx, event); err != nil {
		t.Fatalf("second delivery: %v", err)
	}

	var product models.Product
	if err := f.conn.First(&product, "id = ?", productID).Error; err != nil {
		t.Fatalf("load product: %v", err)
	}
	if product.Stock != 3 {
		t.Fatalf("stock deducted twice: %d", product.Stock)
	}
}

func TestGuestOrderSoftLinksKnownAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, productID := f.seedPaidScenario(t, 5)

	user := models.User{ID: uuid.New(), Email: "buyer@example.com", Name: "Sam Buyer"}
	if err := f.conn.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	// The account also holds the purchased product in its cart.
	if err := f.conn.Create(&models.CartItem{
		ID: uuid.New(), UserID: user.ID, ProductID: productID, Quantity: 2,
	}).Error; err != nil {
		t.Fatalf("seed cart: %v", err)
	}

	event := sessionEvent(t, "evt_link", "checkout.session.completed", paidSessionPayload(order.ID))
	if err := f.svc.HandleEvent(ctx, event); err != nil {
		t.Fatalf("handle: %v", err)
	}

	var settled models.Order
	if err := f.conn.First(&settled, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if settled.UserID == nil || *settled.UserID != user.ID {
		t.Fatalf("expected soft link to %s, got %+v", user.ID, settled.UserID)
	}

	var cartCount int64
	if err := f.conn.Model(&models.CartItem{}).Where("user_id = ?", user.ID).Count(&cartCount).Error; err != nil {
		t.Fatalf("count cart: %v", err)
	}
	if cartCount != 0 {
		t.Fatalf("expected purchased cart rows cleared, got %d", cartCount)
	}
}

func TestCompletedUnpaidSessionWaitsForAsyncResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, productID := f.seedPaidScenario(t, 5)

	payload := paidSessionPayload(order.ID)
	payload["payment_status"] = "unpaid"
	event := sessionEvent(t, "evt_async", "checkout.session.completed", payload)
	if err := f.svc.HandleEvent(ctx, event); err != nil {
		t.Fatalf("handle: %v", err)
	}

	var pending models.Order
	if err := f.conn.First(&pending, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if pending.Status != enums.OrderStatusPending {
		t.Fatalf("unexpected status %s", pending.Status)
	}
	var product models.Product
	if err := f.conn.First(&product, "id = ?", productID).Error; err != nil {
		t.Fatalf("load product: %v", err)
	}
	if product.Stock != 5 {
		t.Fatalf("stock must stay untouched, got %d", product.Stock)
	}

	// The async success event settles it later.
	succeeded := sessionEvent(t, "evt_async_2", "checkout.session.async_payment_succeeded", paidSessionPayload(order.ID))
	if err := f.svc.HandleEvent(ctx, succeeded); err != nil {
		t.Fatalf("handle async success: %v", err)
	}
	if err := f.conn.First(&pending, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if pending.Status != enums.OrderStatusProcessing {
		t.Fatalf("unexpected status %s", pending.Status)
	}
}

func TestAsyncPaymentFailedCancelsPendingOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, _ := f.seedPaidScenario(t, 5)

	event := sessionEvent(t, "evt_fail", "checkout.session.async_payment_failed", paidSessionPayload(order.ID))
	if err := f.svc.HandleEvent(ctx, event); err != nil {
		t.Fatalf("handle: %v", err)
	}

	var cancelled models.Order
	if err := f.conn.First(&cancelled, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if cancelled.Status != enums.OrderStatusCancelled {
		t.Fatalf("unexpected status %s", cancelled.Status)
	}
}

func TestExpiredSessionLeavesSettledOrderAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, _ := f.seedPaidScenario(t, 5)

	paid := sessionEvent(t, "evt_paid", "checkout.session.completed", paidSessionPayload(order.ID))
	if err := f.svc.HandleEvent(ctx, paid); err != nil {
		t.Fatalf("handle paid: %v", err)
	}

	expired := sessionEvent(t, "evt_expired", "checkout.session.expired", paidSessionPayload(order.ID))
	if err := f.svc.HandleEvent(ctx, expired); err != nil {
		t.Fatalf("handle expired: %v", err)
	}

	var settled models.Order
	if err := f.conn.First(&settled, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if settled.Status != enums.OrderStatusProcessing {
		t.Fatalf("unexpected status %s", settled.Status)
	}
}

func TestPaidOrderWithShortfallStillSettles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, productID := f.seedPaidScenario(t, 1) // order wants 2

	event := sessionEvent(t, "evt_short", "checkout.session.completed", paidSessionPayload(order.ID))
	if err := f.svc.HandleEvent(ctx, event); err != nil {
		t.Fatalf("handle: %v", err)
	}

	var settled models.Order
	if err := f.conn.First(&settled, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if settled.Status != enums.OrderStatusProcessing {
		t.Fatalf("unexpected status %s", settled.Status)
	}
	// The shortfall leaves stock untouched for manual reconciliation.
	var product models.Product
	if err := f.conn.First(&product, "id = ?", productID).Error; err != nil {
		t.Fatalf("load product: %v", err)
	}
	if product.Stock != 1 {
		t.Fatalf("unexpected stock %d", product.Stock)
	}
}

func TestShortfallRollsBackPartialDecrement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	plenty := uuid.New()
	scarce := uuid.New()
	for _, p := range []*models.Product{
		{ID: plenty, Name: "widget", Category: "apparel", PriceCents: 2000, Stock: 10, IsActive: true},
		{ID: scarce, Name: "gadget", Category: "apparel", PriceCents: 3000, Stock: 1, IsActive: true},
	} {
		if err := f.conn.Create(p).Error; err != nil {
			t.Fatalf("seed product: %v", err)
		}
	}
	order := &models.Order{
		ID:            uuid.New(),
		IsGuest:       true,
		GuestToken:    strPtr("ord_" + uuid.NewString()),
		CustomerEmail: "buyer@example.com",
		CustomerName:  "Sam Buyer",
		SubtotalCents: 12000,
		ShippingCents: 599,
		TotalCents:    12599,
		Status:        enums.OrderStatusPending,
		Items: []models.OrderItem{
			{ID: uuid.New(), ProductID: plenty, Name: "widget", UnitPriceCents: 2000, Quantity: 3},
			{ID: uuid.New(), ProductID: scarce, Name: "gadget", UnitPriceCents: 3000, Quantity: 2},
		},
	}
	if err := f.conn.Create(order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}

	event := sessionEvent(t, "evt_partial", "checkout.session.completed", paidSessionPayload(order.ID))
	if err := f.svc.HandleEvent(ctx, event); err != nil {
		t.Fatalf("handle: %v", err)
	}

	var settled models.Order
	if err := f.conn.First(&settled, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if settled.Status != enums.OrderStatusProcessing {
		t.Fatalf("unexpected status %s", settled.Status)
	}

	// A shortfall on any line must leave every line's stock untouched, not
	// just the short one's.
	for id, want := range map[uuid.UUID]int{plenty: 10, scarce: 1} {
		var product models.Product
		if err := f.conn.First(&product, "id = ?", id).Error; err != nil {
			t.Fatalf("load product: %v", err)
		}
		if product.Stock != want {
			t.Fatalf("expected stock %d for %s, got %d", want, id, product.Stock)
		}
	}
}

func TestUnknownEventTypeIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	event := &stripe.Event{ID: "evt_other", Type: "customer.created", Data: &stripe.EventData{Raw: []byte(`{}`)}}
	if err := f.svc.HandleEvent(ctx, event); err != nil {
		t.Fatalf("handle: %v", err)
	}

	var record models.ProcessedWebhookEvent
	if err := f.conn.First(&record, "event_id = ?", "evt_other").Error; err != nil {
		t.Fatalf("load record: %v", err)
	}
	if record.EventType != enums.WebhookEventIgnored {
		t.Fatalf("unexpected type %s", record.EventType)
	}
}

func TestUnmatchedOrderIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payload := paidSessionPayload(uuid.New())
	payload["metadata"] = map[string]string{}
	event := sessionEvent(t, "evt_unmatched", "checkout.session.completed", payload)
	if err := f.svc.HandleEvent(ctx, event); err != nil {
		t.Fatalf("handle: %v", err)
	}

	var count int64
	if err := f.conn.Model(&models.ProcessedWebhookEvent{}).Count(&count).Error; err != nil {
		t.Fatalf("count records: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 record, got %d", count)
	}
}

func TestParseEventRejectsMalformedPayload(t *testing.T) {
	event := &stripe.Event{ID: "evt_bad", Type: "checkout.session.completed", Data: &stripe.EventData{Raw: []byte(`{`)}}
	if _, err := ParseEvent(event); err == nil {
		t.Fatal("expected decode error")
	}
}

type claimStore struct {
	data map[string]string
}

func (m *claimStore) Get(ctx context.Context, key string) (string, error) {
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", fmt.Errorf("missing key")
}

func (m *claimStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = "1"
	return true, nil
}

func (m *claimStore) IdempotencyKey(scope, id string) string {
	return "sf:idem:" + scope + ":" + id
}

func (m *claimStore) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func TestGuardClaimsOnce(t *testing.T) {
	store := &claimStore{data: map[string]string{}}
	guard, err := NewGuard(store, time.Hour)
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	ctx := context.Background()

	dup, err := guard.CheckAndMark(ctx, "evt_1")
	if err != nil || dup {
		t.Fatalf("first claim: dup=%v err=%v", dup, err)
	}
	dup, err = guard.CheckAndMark(ctx, "evt_1")
	if err != nil || !dup {
		t.Fatalf("second claim: dup=%v err=%v", dup, err)
	}
	if err := guard.Delete(ctx, "evt_1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	dup, err = guard.CheckAndMark(ctx, "evt_1")
	if err != nil || dup {
		t.Fatalf("reclaim after delete: dup=%v err=%v", dup, err)
	}
}
