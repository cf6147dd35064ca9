package stripewebhooks

import (
	"encoding/json"

	"github.com/stripe/stripe-go/v84"

	"github.com/hollowpine/storefront-backend/pkg/enums"
	pkgerrors "github.com/hollowpine/storefront-backend/pkg/errors"
)

// SessionEvent is a parsed checkout-session callback. Ignored event types
// carry no session payload.
type SessionEvent struct {
	EventID string
	Type    enums.WebhookEventType
	Session *stripe.CheckoutSession
}

// ParseEvent maps a verified provider event onto the typed union. Unknown
// event types parse successfully as ignored so the handler can acknowledge
// them without ever failing a delivery the processor does not care about.
func ParseEvent(event *stripe.Event) (*SessionEvent, error) {
	if event == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event is required")
	}

	parsed := &SessionEvent{
		EventID: event.ID,
		Type:    enums.ParseWebhookEventType(string(event.Type)),
	}
	if parsed.Type == enums.WebhookEventIgnored {
		return parsed, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session payload")
	}
	parsed.Session = &session
	return parsed, nil
}
