package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/hollowpine/storefront-backend/api/middleware"
	"github.com/hollowpine/storefront-backend/api/responses"
	"github.com/hollowpine/storefront-backend/api/validators"
	checkoutsvc "github.com/hollowpine/storefront-backend/internal/checkout"
	pkgerrors "github.com/hollowpine/storefront-backend/pkg/errors"
	"github.com/hollowpine/storefront-backend/pkg/logger"
)

// Checkout opens a hosted payment session for a guest or signed-in shopper.
// Signed-in shoppers check out their server-side cart; guests submit their
// cart lines in the request body.
func Checkout(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := checkoutsvc.Input{
			Email: validators.SanitizeString(payload.Email, 320),
			Name:  validators.SanitizeString(payload.Name, 200),
		}

		if raw := middleware.UserIDFromContext(r.Context()); raw != "" {
			userID, err := uuid.Parse(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id"))
				return
			}
			input.UserID = &userID
			if email := middleware.EmailFromContext(r.Context()); email != "" {
				input.Email = email
			}
		} else {
			if input.Email == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "email is required"))
				return
			}
			for _, item := range payload.Items {
				input.Items = append(input.Items, checkoutsvc.Item{
					ProductID: item.ProductID,
					Quantity:  item.Quantity,
				})
			}
		}

		result, err := svc.Checkout(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// Contact fields are optional at decode time. Guests must supply an email,
// enforced in the handler; signed-in shoppers inherit theirs from the token.
type checkoutRequest struct {
	Email string                `json:"email" validate:"omitempty,email"`
	Name  string                `json:"name" validate:"omitempty,max=200"`
	Items []checkoutItemPayload `json:"items" validate:"omitempty,dive"`
}

type checkoutItemPayload struct {
	ProductID uuid.UUID `json:"productId" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,min=1"`
}
