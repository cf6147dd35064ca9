package enums

// WebhookEventType enumerates the payment-provider callback types the
// processor acts on. Anything else is acknowledged and ignored.
type WebhookEventType string

const (
	WebhookEventCheckoutCompleted     WebhookEventType = "checkout.session.completed"
	WebhookEventAsyncPaymentSucceeded WebhookEventType = "checkout.session.async_payment_succeeded"
	WebhookEventAsyncPaymentFailed    WebhookEventType = "checkout.session.async_payment_failed"
	WebhookEventSessionExpired        WebhookEventType = "checkout.session.expired"
	WebhookEventIgnored               WebhookEventType = "ignored"
)

// String implements fmt.Stringer.
func (w WebhookEventType) String() string {
	return string(w)
}

// ParseWebhookEventType maps a raw provider event type onto the known union,
// folding unrecognized types into the explicit ignored variant.
func ParseWebhookEventType(value string) WebhookEventType {
	switch WebhookEventType(value) {
	case WebhookEventCheckoutCompleted,
		WebhookEventAsyncPaymentSucceeded,
		WebhookEventAsyncPaymentFailed,
		WebhookEventSessionExpired:
		return WebhookEventType(value)
	default:
		return WebhookEventIgnored
	}
}
