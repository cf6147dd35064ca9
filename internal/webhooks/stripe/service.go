package stripewebhooks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/hollowpine/storefront-backend/internal/cart"
	"github.com/hollowpine/storefront-backend/internal/orders"
	"github.com/hollowpine/storefront-backend/internal/stock"
	"github.com/hollowpine/storefront-backend/internal/users"
	pkgdb "github.com/hollowpine/storefront-backend/pkg/db"
	"github.com/hollowpine/storefront-backend/pkg/db/models"
	"github.com/hollowpine/storefront-backend/pkg/enums"
	pkgerrors "github.com/hollowpine/storefront-backend/pkg/errors"
	"github.com/hollowpine/storefront-backend/pkg/logger"
	"github.com/hollowpine/storefront-backend/pkg/metrics"
	"github.com/hollowpine/storefront-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service processes verified payment webhooks. Every mutation it makes runs
// in one transaction together with the durable dedupe record, so a delivery
// either fully applies once or not at all.
type Service struct {
	orders   orders.Repository
	cartRepo cart.Repository
	users    users.Repository
	tx       txRunner
	logg     *logger.Logger
	metrics  *metrics.FulfillmentMetrics
}

// NewService builds the webhook processor.
func NewService(
	orderRepo orders.Repository,
	cartRepo cart.Repository,
	userRepo users.Repository,
	tx txRunner,
	logg *logger.Logger,
	m *metrics.FulfillmentMetrics,
) (*Service, error) {
	if orderRepo == nil {
		return nil, fmt.Errorf("order repository required")
	}
	if cartRepo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if userRepo == nil {
		return nil, fmt.Errorf("user repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{
		orders:   orderRepo,
		cartRepo: cartRepo,
		users:    userRepo,
		tx:       tx,
		logg:     logg,
		metrics:  m,
	}, nil
}

// HandleEvent applies one verified provider event. Returning an error makes
// the controller release the delivery guard so the provider retries; replays
// and events the processor cannot act on are acknowledged instead.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	parsed, err := ParseEvent(event)
	if err != nil {
		return err
	}
	ctx = s.logg.WithEventID(ctx, parsed.EventID)

	outcome, err := s.apply(ctx, parsed)
	if err != nil {
		s.metrics.IncWebhookEvent(parsed.Type.String(), "error")
		return err
	}
	s.metrics.IncWebhookEvent(parsed.Type.String(), outcome)
	return nil
}

func (s *Service) apply(ctx context.Context, parsed *SessionEvent) (string, error) {
	outcome := "processed"
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var existing models.ProcessedWebhookEvent
		err := tx.WithContext(ctx).First(&existing, "event_id = ?", parsed.EventID).Error
		if err == nil {
			s.metrics.IncWebhookReplay()
			s.logg.Info(ctx, "duplicate webhook delivery skipped")
			outcome = "replay"
			return nil
		}
		if !pkgdb.IsNotFound(err) {
			return err
		}

		record := models.ProcessedWebhookEvent{
			EventID:   parsed.EventID,
			EventType: parsed.Type,
		}

		switch parsed.Type {
		case enums.WebhookEventIgnored:
			outcome = "ignored"

		case enums.WebhookEventCheckoutCompleted, enums.WebhookEventAsyncPaymentSucceeded:
			orderID, ok := s.orderIDFrom(ctx, parsed.Session)
			if !ok {
				outcome = "unmatched"
				break
			}
			record.OrderID = &orderID
			if parsed.Type == enums.WebhookEventCheckoutCompleted &&
				parsed.Session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
				// Async payment method; the terminal async event decides.
				outcome = "pending_payment"
				break
			}
			applied, err := s.settleOrder(ctx, tx, orderID, parsed.Session)
			if err != nil {
				return err
			}
			if !applied {
				outcome = "noop"
			}

		case enums.WebhookEventAsyncPaymentFailed, enums.WebhookEventSessionExpired:
			orderID, ok := s.orderIDFrom(ctx, parsed.Session)
			if !ok {
				outcome = "unmatched"
				break
			}
			record.OrderID = &orderID
			cancelled, err := s.orders.WithTx(tx).TransitionStatus(ctx, orderID,
				enums.OrderStatusPending, enums.OrderStatusCancelled, nil)
			if err != nil {
				return err
			}
			if !cancelled {
				outcome = "noop"
			} else {
				s.logg.Info(s.logg.WithOrderID(ctx, orderID.String()),
					fmt.Sprintf("order cancelled on %s", parsed.Type))
			}
		}

		return tx.WithContext(ctx).Create(&record).Error
	})
	return outcome, err
}

// settleOrder confirms payment for a PENDING order: it records the payment
// reference and shipping address, soft-links guest orders to a known account
// by payer email, deducts stock, clears the purchased cart rows, and moves
// the order to PROCESSING. Returns false when the order already left PENDING.
func (s *Service) settleOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, session *stripe.CheckoutSession) (bool, error) {
	ctx = s.logg.WithOrderID(ctx, orderID.String())
	orderRepo := s.orders.WithTx(tx)

	order, err := orderRepo.FindByID(ctx, orderID)
	if err != nil {
		if pkgdb.IsNotFound(err) {
			s.logg.Warn(ctx, "paid webhook references unknown order")
			return false, nil
		}
		return false, err
	}
	if order.Status != enums.OrderStatusPending {
		return false, nil
	}

	assignments := map[string]any{}
	if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
		assignments["payment_reference"] = session.PaymentIntent.ID
	}
	if addr := shippingAddressFrom(session); addr != nil {
		assignments["shipping_address"] = addr
	}

	applied, err := orderRepo.TransitionStatus(ctx, orderID,
		enums.OrderStatusPending, enums.OrderStatusProcessing, assignments)
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}

	// Soft-link: a guest order whose payer email belongs to a known account
	// shows up in that account's history without blocking the payment flow.
	linkedUser := order.UserID
	if order.IsGuest && linkedUser == nil {
		if email := payerEmail(session, order.CustomerEmail); email != "" {
			user, err := s.users.WithTx(tx).FindByEmail(ctx, email)
			if err == nil {
				linkedUser = &user.ID
				if err := orderRepo.LinkUser(ctx, orderID, user.ID); err != nil {
					return false, err
				}
			} else if !pkgdb.IsNotFound(err) {
				return false, err
			}
		}
	}

	requests := make([]stock.DecrementRequest, 0, len(order.Items))
	for _, item := range order.Items {
		requests = append(requests, stock.DecrementRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	// Savepoint so a shortfall mid-batch leaves every stock row untouched
	// instead of committing the lines decremented before the failure.
	if err := tx.SavePoint("stock_decrement").Error; err != nil {
		return false, err
	}
	if err := stock.DecrementAll(ctx, tx, requests); err != nil {
		typed := pkgerrors.As(err)
		if typed == nil || typed.Code() != pkgerrors.CodeInsufficientStock {
			return false, err
		}
		if err := tx.RollbackTo("stock_decrement").Error; err != nil {
			return false, err
		}
		// Payment is already captured; failing the delivery would only make
		// the provider retry into the same shortfall. Keep the order moving
		// and flag it for manual reconciliation.
		s.metrics.IncStockFailure()
		s.logg.Error(ctx, "stock decrement failed for a paid order, manual reconciliation required", err)
	}

	if linkedUser != nil {
		cartRepo := s.cartRepo.WithTx(tx)
		for _, item := range order.Items {
			if err := cartRepo.Remove(ctx, *linkedUser, item.ProductID); err != nil {
				return false, err
			}
		}
	}

	s.logg.Info(ctx, "order payment confirmed, moved to PROCESSING")
	return true, nil
}

func (s *Service) orderIDFrom(ctx context.Context, session *stripe.CheckoutSession) (uuid.UUID, bool) {
	if session == nil || session.Metadata == nil {
		s.logg.Warn(ctx, "webhook session carries no metadata")
		return uuid.Nil, false
	}
	raw, ok := session.Metadata["orderId"]
	if !ok {
		s.logg.Warn(ctx, "webhook session metadata missing order id")
		return uuid.Nil, false
	}
	orderID, err := uuid.Parse(raw)
	if err != nil {
		s.logg.Warn(ctx, fmt.Sprintf("webhook session metadata has invalid order id %q", raw))
		return uuid.Nil, false
	}
	return orderID, true
}

func payerEmail(session *stripe.CheckoutSession, fallback string) string {
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		return session.CustomerDetails.Email
	}
	return fallback
}

func shippingAddressFrom(session *stripe.CheckoutSession) *types.Address {
	if session.CollectedInformation == nil || session.CollectedInformation.ShippingDetails == nil {
		return nil
	}
	details := session.CollectedInformation.ShippingDetails
	if details.Address == nil {
		return nil
	}
	addr := &types.Address{
		Name:    details.Name,
		Line1:   details.Address.Line1,
		Line2:   details.Address.Line2,
		City:    details.Address.City,
		State:   details.Address.State,
		Zip:     details.Address.PostalCode,
		Country: details.Address.Country,
	}
	if session.CustomerDetails != nil {
		addr.Email = session.CustomerDetails.Email
		addr.Phone = session.CustomerDetails.Phone
	}
	return addr
}
