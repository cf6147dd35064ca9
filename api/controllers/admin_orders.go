package controllers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hollowpine/storefront-backend/api/responses"
	orderssvc "github.com/hollowpine/storefront-backend/internal/orders"
	"github.com/hollowpine/storefront-backend/pkg/db/models"
	pkgerrors "github.com/hollowpine/storefront-backend/pkg/errors"
	"github.com/hollowpine/storefront-backend/pkg/logger"
)

type shipOrderRequest struct {
	Carrier string `json:"carrier"`
}

// AdminOrderShip buys a shipping label and moves the order to SHIPPED. The
// body is optional; `{"carrier": "UPS"}` overrides the default carrier
// preference for this shipment.
func AdminOrderShip(svc orderssvc.Service, logg *logger.Logger) http.HandlerFunc {
	return adminOrderAction(svc, logg, func(r *http.Request, s orderssvc.Service, orderID uuid.UUID) (*models.Order, error) {
		var req shipOrderRequest
		if body, err := io.ReadAll(r.Body); err == nil && len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid ship payload")
			}
		}
		return s.Ship(r.Context(), orderID, strings.TrimSpace(req.Carrier))
	})
}

// AdminOrderDeliver marks a shipped order as delivered.
func AdminOrderDeliver(svc orderssvc.Service, logg *logger.Logger) http.HandlerFunc {
	return adminOrderAction(svc, logg, func(r *http.Request, s orderssvc.Service, orderID uuid.UUID) (*models.Order, error) {
		return s.Deliver(r.Context(), orderID)
	})
}

// AdminOrderRefund refunds the captured payment and moves the order to REFUNDED.
func AdminOrderRefund(svc orderssvc.Service, logg *logger.Logger) http.HandlerFunc {
	return adminOrderAction(svc, logg, func(r *http.Request, s orderssvc.Service, orderID uuid.UUID) (*models.Order, error) {
		return s.Refund(r.Context(), orderID)
	})
}

// AdminOrderCancel cancels an order that has not shipped.
func AdminOrderCancel(svc orderssvc.Service, logg *logger.Logger) http.HandlerFunc {
	return adminOrderAction(svc, logg, func(r *http.Request, s orderssvc.Service, orderID uuid.UUID) (*models.Order, error) {
		return s.Cancel(r.Context(), orderID)
	})
}

func adminOrderAction(svc orderssvc.Service, logg *logger.Logger, action func(*http.Request, orderssvc.Service, uuid.UUID) (*models.Order, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id"))
			return
		}

		order, err := action(r, svc, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newOrderResponse(order))
	}
}
