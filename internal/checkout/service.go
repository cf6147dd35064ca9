package checkout

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/hollowpine/storefront-backend/internal/cart"
	"github.com/hollowpine/storefront-backend/internal/catalog"
	"github.com/hollowpine/storefront-backend/internal/orders"
	"github.com/hollowpine/storefront-backend/internal/stock"
	"github.com/hollowpine/storefront-backend/pkg/config"
	"github.com/hollowpine/storefront-backend/pkg/db/models"
	"github.com/hollowpine/storefront-backend/pkg/enums"
	pkgerrors "github.com/hollowpine/storefront-backend/pkg/errors"
	"github.com/hollowpine/storefront-backend/pkg/logger"
	"github.com/hollowpine/storefront-backend/pkg/metrics"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type sessionCreator interface {
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error)
	SuccessURL() string
	CancelURL() string
}

// Service turns a cart into a PENDING order plus a hosted payment session.
type Service interface {
	Checkout(ctx context.Context, input Input) (*Result, error)
}

type service struct {
	catalog  catalog.Repository
	cartRepo cart.Repository
	orders   orders.Repository
	tx       txRunner
	payments sessionCreator
	cfg      config.CheckoutConfig
	logg     *logger.Logger
	metrics  *metrics.FulfillmentMetrics
	timeFunc func() time.Time
}

// NewService builds the checkout service.
func NewService(
	catalogRepo catalog.Repository,
	cartRepo cart.Repository,
	orderRepo orders.Repository,
	tx txRunner,
	payments sessionCreator,
	cfg config.CheckoutConfig,
	logg *logger.Logger,
	m *metrics.FulfillmentMetrics,
) (Service, error) {
	if catalogRepo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if cartRepo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if orderRepo == nil {
		return nil, fmt.Errorf("order repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if payments == nil {
		return nil, fmt.Errorf("payment session creator required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		catalog:  catalogRepo,
		cartRepo: cartRepo,
		orders:   orderRepo,
		tx:       tx,
		payments: payments,
		cfg:      cfg,
		logg:     logg,
		metrics:  m,
		timeFunc: time.Now,
	}, nil
}

// Item is one line of a guest checkout payload.
type Item struct {
	ProductID uuid.UUID `json:"productId"`
	Quantity  int       `json:"quantity"`
}

// Input captures one checkout attempt. Authenticated checkouts ignore Items
// and read the server-side cart instead.
type Input struct {
	UserID *uuid.UUID
	Email  string
	Name   string
	Items  []Item
}

// Result points the client at the hosted payment page. GuestToken is only
// set for guest checkouts and is the sole credential for tracking the order.
type Result struct {
	OrderID     uuid.UUID `json:"orderId"`
	SessionID   string    `json:"sessionId"`
	CheckoutURL string    `json:"url"`
	GuestToken  *string   `json:"guestToken,omitempty"`
}

type pricedLine struct {
	product  models.Product
	quantity int
	unit     int
}

// Checkout re-prices every line server-side, verifies stock optimistically,
// records a PENDING order with immutable item snapshots, and opens a payment
// session. Stock is not yet deducted; that happens when payment confirms.
func (s *service) Checkout(ctx context.Context, input Input) (*Result, error) {
	started := s.timeFunc()
	result, err := s.checkout(ctx, input)
	outcome := "success"
	if err != nil {
		outcome = "error"
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeInsufficientStock {
			outcome = "insufficient_stock"
		}
	}
	s.metrics.ObserveCheckout(outcome, s.timeFunc().Sub(started))
	return result, err
}

func (s *service) checkout(ctx context.Context, input Input) (*Result, error) {
	email := strings.TrimSpace(strings.ToLower(input.Email))
	if email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email is required")
	}

	isGuest := input.UserID == nil
	items, err := s.resolveItems(ctx, input)
	if err != nil {
		return nil, err
	}

	lines, err := s.priceLines(ctx, items)
	if err != nil {
		return nil, err
	}

	// Optimistic gate: a shortfall here fails fast with a clear error, but
	// the authoritative check is the conditional decrement at payment time.
	requests := make([]stock.DecrementRequest, 0, len(lines))
	for _, line := range lines {
		requests = append(requests, stock.DecrementRequest{ProductID: line.product.ID, Quantity: line.quantity})
	}
	var shortfalls []stock.Shortfall
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var checkErr error
		shortfalls, checkErr = stock.CheckAvailability(ctx, tx, requests)
		return checkErr
	})
	if err != nil {
		return nil, err
	}
	if len(shortfalls) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").
			WithDetails(map[string]any{"shortfalls": shortfalls})
	}

	subtotal := 0
	for _, line := range lines {
		subtotal += line.unit * line.quantity
	}
	shipping := s.shippingFor(subtotal)

	order := &models.Order{
		ID:            uuid.New(),
		UserID:        input.UserID,
		IsGuest:       isGuest,
		CustomerEmail: email,
		CustomerName:  strings.TrimSpace(input.Name),
		SubtotalCents: subtotal,
		ShippingCents: shipping,
		TotalCents:    subtotal + shipping,
		Status:        enums.OrderStatusPending,
	}
	if isGuest {
		token, err := newGuestToken()
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generating order token")
		}
		order.GuestToken = &token
	}
	for _, line := range lines {
		order.Items = append(order.Items, models.OrderItem{
			ID:             uuid.New(),
			OrderID:        order.ID,
			ProductID:      line.product.ID,
			Name:           line.product.Name,
			UnitPriceCents: line.unit,
			Quantity:       line.quantity,
			ImageURL:       line.product.ImageURL,
		})
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.orders.WithTx(tx).Create(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	session, err := s.payments.CreateCheckoutSession(ctx, s.sessionParams(order, lines))
	if err != nil {
		// The PENDING row is now unpayable; close it out instead of
		// leaving it for a webhook that will never arrive.
		if _, cancelErr := s.orders.TransitionStatus(ctx, order.ID,
			enums.OrderStatusPending, enums.OrderStatusCancelled, nil); cancelErr != nil {
			s.logg.Error(s.logg.WithOrderID(ctx, order.ID.String()),
				"cancelling order after failed session create", cancelErr)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "creating payment session")
	}

	s.logg.Info(s.logg.WithOrderID(ctx, order.ID.String()),
		fmt.Sprintf("checkout session opened for %d line(s), total %d cents", len(lines), order.TotalCents))

	return &Result{
		OrderID:     order.ID,
		SessionID:   session.ID,
		CheckoutURL: session.URL,
		GuestToken:  order.GuestToken,
	}, nil
}

func (s *service) resolveItems(ctx context.Context, input Input) ([]Item, error) {
	if input.UserID != nil {
		rows, err := s.cartRepo.ListByUser(ctx, *input.UserID)
		if err != nil {
			return nil, err
		}
		items := make([]Item, 0, len(rows))
		for _, row := range rows {
			items = append(items, Item{ProductID: row.ProductID, Quantity: row.Quantity})
		}
		if len(items) == 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
		}
		return items, nil
	}

	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}
	if len(input.Items) > s.cfg.MaxCartItems {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("checkout is limited to %d distinct items", s.cfg.MaxCartItems))
	}

	merged := map[uuid.UUID]int{}
	order := make([]uuid.UUID, 0, len(input.Items))
	for _, item := range input.Items {
		if item.ProductID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
		}
		if item.Quantity < 1 || item.Quantity > s.cfg.MaxItemQuantity {
			return nil, pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("quantity must be between 1 and %d", s.cfg.MaxItemQuantity))
		}
		if _, seen := merged[item.ProductID]; !seen {
			order = append(order, item.ProductID)
		}
		merged[item.ProductID] += item.Quantity
	}

	items := make([]Item, 0, len(order))
	for _, id := range order {
		items = append(items, Item{ProductID: id, Quantity: merged[id]})
	}
	return items, nil
}

func (s *service) priceLines(ctx context.Context, items []Item) ([]pricedLine, error) {
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.catalog.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	now := s.timeFunc()
	promos, err := s.catalog.ActivePromotionsAt(ctx, now)
	if err != nil {
		return nil, err
	}

	var unavailable []uuid.UUID
	lines := make([]pricedLine, 0, len(items))
	for _, item := range items {
		product, ok := products[item.ProductID]
		if !ok || !product.IsActive {
			unavailable = append(unavailable, item.ProductID)
			continue
		}
		lines = append(lines, pricedLine{
			product:  product,
			quantity: item.Quantity,
			unit:     catalog.UnitPriceAt(product, promos, now),
		})
	}
	if len(unavailable) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "some products are unavailable").
			WithDetails(map[string]any{"productIds": unavailable})
	}
	return lines, nil
}

func (s *service) shippingFor(subtotal int) int {
	if subtotal >= s.cfg.FreeShippingThresholdCents {
		return 0
	}
	return s.cfg.FlatShippingRateCents
}

func (s *service) sessionParams(order *models.Order, lines []pricedLine) *stripe.CheckoutSessionCreateParams {
	lineItems := make([]*stripe.CheckoutSessionCreateLineItemParams, 0, len(lines)+1)
	for _, line := range lines {
		lineItems = append(lineItems, &stripe.CheckoutSessionCreateLineItemParams{
			Quantity: stripe.Int64(int64(line.quantity)),
			PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
				Currency:   stripe.String(s.cfg.Currency),
				UnitAmount: stripe.Int64(int64(line.unit)),
				ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
					Name: stripe.String(line.product.Name),
				},
			},
		})
	}
	if order.ShippingCents > 0 {
		lineItems = append(lineItems, &stripe.CheckoutSessionCreateLineItemParams{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
				Currency:   stripe.String(s.cfg.Currency),
				UnitAmount: stripe.Int64(int64(order.ShippingCents)),
				ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
					Name: stripe.String("Shipping"),
				},
			},
		})
	}

	metadata := map[string]string{
		"orderId": order.ID.String(),
		"isGuest": strconv.FormatBool(order.IsGuest),
	}
	if order.UserID != nil {
		metadata["userId"] = order.UserID.String()
	}
	if order.GuestToken != nil {
		metadata["guestToken"] = *order.GuestToken
	}

	return &stripe.CheckoutSessionCreateParams{
		Mode:          stripe.String(string(stripe.CheckoutSessionModePayment)),
		CustomerEmail: stripe.String(order.CustomerEmail),
		LineItems:     lineItems,
		SuccessURL:    stripe.String(s.payments.SuccessURL()),
		CancelURL:     stripe.String(s.payments.CancelURL()),
		Metadata:      metadata,
		ShippingAddressCollection: &stripe.CheckoutSessionCreateShippingAddressCollectionParams{
			AllowedCountries: stripe.StringSlice([]string{"US"}),
		},
	}
}

func newGuestToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "ord_" + hex.EncodeToString(buf), nil
}
