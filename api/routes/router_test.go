package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	cartsvc "github.com/hollowpine/storefront-backend/internal/cart"
	checkoutsvc "github.com/hollowpine/storefront-backend/internal/checkout"
	"github.com/hollowpine/storefront-backend/pkg/auth"
	"github.com/hollowpine/storefront-backend/pkg/config"
	"github.com/hollowpine/storefront-backend/pkg/db/models"
	"github.com/hollowpine/storefront-backend/pkg/enums"
)

type stubSessions struct{}

func (stubSessions) HasSession(context.Context, string) (bool, error) { return true, nil }

type stubCheckout struct{}

func (stubCheckout) Checkout(context.Context, checkoutsvc.Input) (*checkoutsvc.Result, error) {
	return &checkoutsvc.Result{OrderID: uuid.New(), CheckoutURL: "https://pay.example.com/cs"}, nil
}

type stubCart struct{}

func (stubCart) Get(context.Context, uuid.UUID) (*cartsvc.CartView, error) {
	return &cartsvc.CartView{Items: []cartsvc.CartLine{}}, nil
}
func (stubCart) SetItem(context.Context, uuid.UUID, uuid.UUID, int) error { return nil }
func (stubCart) RemoveItem(context.Context, uuid.UUID, uuid.UUID) error   { return nil }
func (stubCart) Clear(context.Context, uuid.UUID) error                   { return nil }
func (stubCart) MergeGuestCart(context.Context, uuid.UUID, []cartsvc.GuestCartItem) (*cartsvc.MergeResult, error) {
	return &cartsvc.MergeResult{}, nil
}

type stubOrders struct{}

func (stubOrders) GetForUser(context.Context, uuid.UUID, uuid.UUID) (*models.Order, error) {
	return &models.Order{ID: uuid.New(), Status: enums.OrderStatusPending}, nil
}
func (stubOrders) ListForUser(context.Context, uuid.UUID, int, int) ([]models.Order, int64, error) {
	return nil, 0, nil
}
func (stubOrders) TrackGuest(context.Context, string, string) (*models.Order, error) {
	return &models.Order{ID: uuid.New(), Status: enums.OrderStatusProcessing}, nil
}
func (stubOrders) Ship(context.Context, uuid.UUID, string) (*models.Order, error) {
	return &models.Order{ID: uuid.New(), Status: enums.OrderStatusShipped}, nil
}
func (stubOrders) Deliver(context.Context, uuid.UUID) (*models.Order, error) {
	return &models.Order{ID: uuid.New(), Status: enums.OrderStatusDelivered}, nil
}
func (stubOrders) Refund(context.Context, uuid.UUID) (*models.Order, error) {
	return &models.Order{ID: uuid.New(), Status: enums.OrderStatusRefunded}, nil
}
func (stubOrders) Cancel(context.Context, uuid.UUID) (*models.Order, error) {
	return &models.Order{ID: uuid.New(), Status: enums.OrderStatusCancelled}, nil
}

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg := &config.Config{}
	cfg.App.Env = "test"
	cfg.JWT = config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 60}

	return NewRouter(Deps{
		Config:          cfg,
		Sessions:        stubSessions{},
		CheckoutService: stubCheckout{},
		CartService:     stubCart{},
		OrdersService:   stubOrders{},
	})
}

func mintToken(t *testing.T, role auth.Role) string {
	t.Helper()
	cfg := config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 60}
	token, err := auth.MintAccessToken(cfg, time.Now(), auth.AccessTokenPayload{
		UserID: uuid.New(),
		Email:  "shopper@example.com",
		Role:   role,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func TestRouterHealthLive(t *testing.T) {
	router := testRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
}

func TestRouterGuestCheckoutNeedsNoToken(t *testing.T) {
	router := testRouter(t)
	body := `{"email":"guest@example.com","name":"Guest","items":[{"productId":"` + uuid.NewString() + `","quantity":1}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestRouterGuestTrackIsPublic(t *testing.T) {
	router := testRouter(t)
	body := `{"email":"guest@example.com","token":"ord_abcdef0123456789"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/track", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestRouterCartRequiresAuth(t *testing.T) {
	router := testRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
}

func TestRouterCartAllowsCustomer(t *testing.T) {
	router := testRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, auth.RoleCustomer))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestRouterAdminActionsNeedAdminRole(t *testing.T) {
	router := testRouter(t)
	target := "/api/v1/admin/orders/" + uuid.NewString() + "/ship"

	req := httptest.NewRequest(http.MethodPost, target, nil)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, auth.RoleCustomer))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for customer got %d", rec.Code)
	}

	adminReq := httptest.NewRequest(http.MethodPost, target, nil)
	adminReq.Header.Set("Authorization", "Bearer "+mintToken(t, auth.RoleAdmin))
	adminRec := httptest.NewRecorder()
	router.ServeHTTP(adminRec, adminReq)
	if adminRec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin got %d (%s)", adminRec.Code, adminRec.Body.String())
	}
}
