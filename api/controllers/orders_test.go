package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hollowpine/storefront-backend/api/middleware"
	"github.com/hollowpine/storefront-backend/pkg/db/models"
	"github.com/hollowpine/storefront-backend/pkg/enums"
	pkgerrors "github.com/hollowpine/storefront-backend/pkg/errors"
)

type stubOrdersService struct {
	order     *models.Order
	orders    []models.Order
	total     int64
	err       error
	lastEmail string
	lastToken string
	lastLimit   int
	shipped     []uuid.UUID
	lastCarrier string
}

func (s *stubOrdersService) GetForUser(_ context.Context, _, _ uuid.UUID) (*models.Order, error) {
	return s.order, s.err
}

func (s *stubOrdersService) ListForUser(_ context.Context, _ uuid.UUID, limit, _ int) ([]models.Order, int64, error) {
	s.lastLimit = limit
	return s.orders, s.total, s.err
}

func (s *stubOrdersService) TrackGuest(_ context.Context, email, token string) (*models.Order, error) {
	s.lastEmail = email
	s.lastToken = token
	if s.err != nil {
		return nil, s.err
	}
	return s.order, nil
}

func (s *stubOrdersService) Ship(_ context.Context, orderID uuid.UUID, carrier string) (*models.Order, error) {
	s.shipped = append(s.shipped, orderID)
	s.lastCarrier = carrier
	return s.order, s.err
}

func (s *stubOrdersService) Deliver(_ context.Context, _ uuid.UUID) (*models.Order, error) {
	return s.order, s.err
}

func (s *stubOrdersService) Refund(_ context.Context, _ uuid.UUID) (*models.Order, error) {
	return s.order, s.err
}

func (s *stubOrdersService) Cancel(_ context.Context, _ uuid.UUID) (*models.Order, error) {
	return s.order, s.err
}

func sampleOrder() *models.Order {
	carrier := enums.ShippingCarrier("USPS")
	tracking := "9400100000000000000000"
	now := time.Now()
	return &models.Order{
		ID:             uuid.New(),
		IsGuest:        true,
		CustomerEmail:  "guest@example.com",
		CustomerName:   "Guest Shopper",
		SubtotalCents:  3600,
		ShippingCents:  599,
		TotalCents:     4199,
		Status:         enums.OrderStatusShipped,
		TrackingNumber: &tracking,
		Carrier:        &carrier,
		ShippedAt:      &now,
		Items: []models.OrderItem{
			{ProductID: uuid.New(), Name: "Pine Candle", UnitPriceCents: 1800, Quantity: 2},
		},
	}
}

func TestOrdersTrackReturnsOrder(t *testing.T) {
	svc := &stubOrdersService{order: sampleOrder()}
	handler := OrdersTrack(svc, nil)

	body := `{"email":"Guest@Example.com","token":"ord_abcdef0123456789"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/track", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.lastToken != "ord_abcdef0123456789" {
		t.Fatalf("unexpected token %q", svc.lastToken)
	}

	var envelope struct {
		Data orderResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.Status != string(enums.OrderStatusShipped) {
		t.Fatalf("unexpected status %q", envelope.Data.Status)
	}
	if envelope.Data.TrackingNumber == nil {
		t.Fatal("expected tracking number")
	}
	if len(envelope.Data.Items) != 1 {
		t.Fatalf("expected 1 item got %d", len(envelope.Data.Items))
	}
}

func TestOrdersTrackRejectsBadPayload(t *testing.T) {
	svc := &stubOrdersService{order: sampleOrder()}
	handler := OrdersTrack(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/track", strings.NewReader(`{"email":"not-an-email","token":"x"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestOrdersTrackPropagatesNotFound(t *testing.T) {
	svc := &stubOrdersService{err: pkgerrors.New(pkgerrors.CodeNotFound, "order not found")}
	handler := OrdersTrack(svc, nil)

	body := `{"email":"guest@example.com","token":"ord_abcdef0123456789"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/track", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
}

func TestOrdersListRequiresAuth(t *testing.T) {
	svc := &stubOrdersService{}
	handler := OrdersList(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
}

func TestOrdersListReturnsHistory(t *testing.T) {
	svc := &stubOrdersService{orders: []models.Order{*sampleOrder(), *sampleOrder()}, total: 2}
	handler := OrdersList(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders?limit=5", nil)
	ctx := middleware.WithUserID(req.Context(), uuid.NewString())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req.WithContext(ctx))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.lastLimit != 5 {
		t.Fatalf("expected limit 5 got %d", svc.lastLimit)
	}

	var envelope struct {
		Data orderListResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.Total != 2 || len(envelope.Data.Orders) != 2 {
		t.Fatalf("unexpected list %+v", envelope.Data)
	}
}

func TestAdminOrderShipParsesOrderID(t *testing.T) {
	svc := &stubOrdersService{order: sampleOrder()}
	orderID := uuid.New()

	router := chi.NewRouter()
	router.Post("/api/v1/admin/orders/{orderID}/ship", AdminOrderShip(svc, nil))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/orders/"+orderID.String()+"/ship", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", rec.Code, rec.Body.String())
	}
	if len(svc.shipped) != 1 || svc.shipped[0] != orderID {
		t.Fatalf("expected ship call for %s, got %v", orderID, svc.shipped)
	}
}

func TestAdminOrderShipCarrierOverride(t *testing.T) {
	svc := &stubOrdersService{order: sampleOrder()}
	orderID := uuid.New()

	router := chi.NewRouter()
	router.Post("/api/v1/admin/orders/{orderID}/ship", AdminOrderShip(svc, nil))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/orders/"+orderID.String()+"/ship",
		strings.NewReader(`{"carrier":"UPS"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.lastCarrier != "UPS" {
		t.Fatalf("expected carrier override UPS, got %q", svc.lastCarrier)
	}
}

func TestAdminOrderShipRejectsBadID(t *testing.T) {
	svc := &stubOrdersService{order: sampleOrder()}

	router := chi.NewRouter()
	router.Post("/api/v1/admin/orders/{orderID}/ship", AdminOrderShip(svc, nil))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/orders/not-a-uuid/ship", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
	if len(svc.shipped) != 0 {
		t.Fatal("expected no ship call for invalid id")
	}
}
