package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hollowpine/storefront-backend/internal/shipping"
	pkgdb "github.com/hollowpine/storefront-backend/pkg/db"
	"github.com/hollowpine/storefront-backend/pkg/db/models"
	"github.com/hollowpine/storefront-backend/pkg/enums"
	pkgerrors "github.com/hollowpine/storefront-backend/pkg/errors"
	"github.com/hollowpine/storefront-backend/pkg/logger"
	"github.com/hollowpine/storefront-backend/pkg/types"
)

type labelPurchaser interface {
	CreateLabel(ctx context.Context, dest types.Address, preferredCarrier string) (*shipping.Label, error)
}

type paymentRefunder interface {
	RefundPayment(ctx context.Context, paymentReference string) error
}

// Service exposes order reads and operator lifecycle transitions.
type Service interface {
	GetForUser(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error)
	ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Order, int64, error)
	TrackGuest(ctx context.Context, email, guestToken string) (*models.Order, error)
	Ship(ctx context.Context, orderID uuid.UUID, preferredCarrier string) (*models.Order, error)
	Deliver(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	Refund(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	Cancel(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

type service struct {
	repo     Repository
	broker   labelPurchaser
	refunder paymentRefunder
	logg     *logger.Logger
	timeFunc func() time.Time
}

// NewService builds an order service. The refunder may be nil; refunds then
// only flip the order status and the payment is settled out of band.
func NewService(repo Repository, broker labelPurchaser, refunder paymentRefunder, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("order repository required")
	}
	if broker == nil {
		return nil, fmt.Errorf("label broker required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:     repo,
		broker:   broker,
		refunder: refunder,
		logg:     logg,
		timeFunc: time.Now,
	}, nil
}

func (s *service) GetForUser(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	if userID == uuid.Nil || orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id and order id are required")
	}
	order, err := s.repo.FindByUser(ctx, userID, orderID)
	if err != nil {
		if pkgdb.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, err
	}
	return order, nil
}

func (s *service) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Order, int64, error) {
	if userID == uuid.Nil {
		return nil, 0, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

// TrackGuest looks up a guest order by its tracking token and the purchaser
// email. Both must match; the response is the same "not found" either way so
// the endpoint cannot be used to probe which tokens exist.
func (s *service) TrackGuest(ctx context.Context, email, guestToken string) (*models.Order, error) {
	if email == "" || guestToken == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email and order token are required")
	}
	order, err := s.repo.FindByGuestTracking(ctx, email, guestToken)
	if err != nil {
		if pkgdb.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, err
	}
	return order, nil
}

// Ship purchases a shipping label and moves the order to SHIPPED. The operator
// may name a preferred carrier; empty falls back to the configured default.
// Shipping an already-shipped order is a no-op returning the current row.
func (s *service) Ship(ctx context.Context, orderID uuid.UUID, preferredCarrier string) (*models.Order, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == enums.OrderStatusShipped {
		return order, nil
	}
	if !order.Status.CanTransitionTo(enums.OrderStatusShipped) {
		return nil, s.transitionConflict(order, enums.OrderStatusShipped)
	}
	if order.ShippingAddress == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no shipping address on file")
	}

	label, err := s.broker.CreateLabel(ctx, *order.ShippingAddress, preferredCarrier)
	if err != nil {
		return nil, err
	}

	now := s.timeFunc().UTC()
	applied, err := s.repo.TransitionStatus(ctx, order.ID, order.Status, enums.OrderStatusShipped, map[string]any{
		"tracking_number": label.TrackingNumber,
		"carrier":         label.Carrier,
		"label_url":       label.LabelURL,
		"shipped_at":      now,
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		// Lost the race; the label purchase stands but the order moved.
		s.logg.Warn(s.logg.WithOrderID(ctx, order.ID.String()),
			fmt.Sprintf("ship race lost after label purchase, tracking %s unassigned", label.TrackingNumber))
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order status changed concurrently")
	}

	s.logg.Info(s.logg.WithOrderID(ctx, order.ID.String()),
		fmt.Sprintf("order shipped via %s, tracking %s", label.Carrier, label.TrackingNumber))
	return s.load(ctx, order.ID)
}

// Deliver marks a shipped order delivered. Idempotent for delivered orders.
func (s *service) Deliver(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return s.transition(ctx, orderID, enums.OrderStatusDelivered, func(now time.Time) map[string]any {
		return map[string]any{"delivered_at": now}
	})
}

// Refund moves the order to REFUNDED and, when a refunder is wired, refunds
// the captured payment. Idempotent for refunded orders.
func (s *service) Refund(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == enums.OrderStatusRefunded {
		return order, nil
	}
	if !order.Status.CanTransitionTo(enums.OrderStatusRefunded) {
		return nil, s.transitionConflict(order, enums.OrderStatusRefunded)
	}

	if s.refunder != nil && order.PaymentReference != nil {
		if err := s.refunder.RefundPayment(ctx, *order.PaymentReference); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refunding payment")
		}
	}

	applied, err := s.repo.TransitionStatus(ctx, order.ID, order.Status, enums.OrderStatusRefunded, nil)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order status changed concurrently")
	}

	s.logg.Info(s.logg.WithOrderID(ctx, order.ID.String()), "order refunded")
	return s.load(ctx, order.ID)
}

// Cancel aborts an unpaid or paid-but-unshipped order. Idempotent for
// cancelled orders.
func (s *service) Cancel(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return s.transition(ctx, orderID, enums.OrderStatusCancelled, nil)
}

func (s *service) transition(ctx context.Context, orderID uuid.UUID, target enums.OrderStatus, extra func(now time.Time) map[string]any) (*models.Order, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == target {
		return order, nil
	}
	if !order.Status.CanTransitionTo(target) {
		return nil, s.transitionConflict(order, target)
	}

	var assignments map[string]any
	if extra != nil {
		assignments = extra(s.timeFunc().UTC())
	}
	applied, err := s.repo.TransitionStatus(ctx, order.ID, order.Status, target, assignments)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order status changed concurrently")
	}

	s.logg.Info(s.logg.WithOrderID(ctx, order.ID.String()),
		fmt.Sprintf("order moved to %s", target))
	return s.load(ctx, order.ID)
}

func (s *service) load(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if pkgdb.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, err
	}
	return order, nil
}

func (s *service) transitionConflict(order *models.Order, target enums.OrderStatus) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict,
		fmt.Sprintf("order cannot move from %s to %s", order.Status, target))
}
