package controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hollowpine/storefront-backend/api/responses"
	"github.com/hollowpine/storefront-backend/api/validators"
	orderssvc "github.com/hollowpine/storefront-backend/internal/orders"
	"github.com/hollowpine/storefront-backend/pkg/db/models"
	pkgerrors "github.com/hollowpine/storefront-backend/pkg/errors"
	"github.com/hollowpine/storefront-backend/pkg/logger"
	"github.com/hollowpine/storefront-backend/pkg/types"
)

// OrdersList returns the signed-in shopper's order history, newest first.
func OrdersList(svc orderssvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		userID, err := userIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit := queryInt(r, "limit", 0)
		offset := queryInt(r, "offset", 0)

		records, total, err := svc.ListForUser(r.Context(), userID, limit, offset)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]orderResponse, 0, len(records))
		for i := range records {
			items = append(items, newOrderResponse(&records[i]))
		}

		responses.WriteSuccess(w, orderListResponse{Orders: items, Total: total})
	}
}

// OrderGet returns one of the signed-in shopper's orders.
func OrderGet(svc orderssvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		userID, err := userIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id"))
			return
		}

		order, err := svc.GetForUser(r.Context(), userID, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

// OrdersTrack looks up a guest order by email plus tracking token. The
// response never distinguishes a wrong token from a wrong email.
func OrdersTrack(svc orderssvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		var payload trackOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.TrackGuest(r.Context(), payload.Email, payload.Token)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

type trackOrderRequest struct {
	Email string `json:"email" validate:"required,email"`
	Token string `json:"token" validate:"required,min=8"`
}

type orderListResponse struct {
	Orders []orderResponse `json:"orders"`
	Total  int64           `json:"total"`
}

type orderResponse struct {
	OrderID         uuid.UUID           `json:"orderId"`
	Status          string              `json:"status"`
	IsGuest         bool                `json:"isGuest"`
	CustomerEmail   string              `json:"customerEmail"`
	CustomerName    string              `json:"customerName"`
	SubtotalCents   int                 `json:"subtotalCents"`
	ShippingCents   int                 `json:"shippingCents"`
	TotalCents      int                 `json:"totalCents"`
	ShippingAddress *types.Address      `json:"shippingAddress,omitempty"`
	TrackingNumber  *string             `json:"trackingNumber,omitempty"`
	Carrier         *string             `json:"carrier,omitempty"`
	LabelURL        *string             `json:"labelUrl,omitempty"`
	ShippedAt       *time.Time          `json:"shippedAt,omitempty"`
	DeliveredAt     *time.Time          `json:"deliveredAt,omitempty"`
	CreatedAt       time.Time           `json:"createdAt"`
	Items           []orderItemResponse `json:"items"`
}

type orderItemResponse struct {
	ProductID      uuid.UUID `json:"productId"`
	Name           string    `json:"name"`
	UnitPriceCents int       `json:"unitPriceCents"`
	Quantity       int       `json:"quantity"`
	ImageURL       *string   `json:"imageUrl,omitempty"`
}

func newOrderResponse(order *models.Order) orderResponse {
	if order == nil {
		return orderResponse{}
	}
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			ProductID:      item.ProductID,
			Name:           item.Name,
			UnitPriceCents: item.UnitPriceCents,
			Quantity:       item.Quantity,
			ImageURL:       item.ImageURL,
		})
	}
	resp := orderResponse{
		OrderID:         order.ID,
		Status:          string(order.Status),
		IsGuest:         order.IsGuest,
		CustomerEmail:   order.CustomerEmail,
		CustomerName:    order.CustomerName,
		SubtotalCents:   order.SubtotalCents,
		ShippingCents:   order.ShippingCents,
		TotalCents:      order.TotalCents,
		ShippingAddress: order.ShippingAddress,
		TrackingNumber:  order.TrackingNumber,
		LabelURL:        order.LabelURL,
		ShippedAt:       order.ShippedAt,
		DeliveredAt:     order.DeliveredAt,
		CreatedAt:       order.CreatedAt,
		Items:           items,
	}
	if order.Carrier != nil {
		carrier := string(*order.Carrier)
		resp.Carrier = &carrier
	}
	return resp
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
