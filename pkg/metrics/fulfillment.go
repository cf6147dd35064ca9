package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// FulfillmentMetrics records checkout and webhook processing outcomes.
type FulfillmentMetrics struct {
	checkoutDuration *prometheus.HistogramVec
	webhookEvents    *prometheus.CounterVec
	webhookReplays   prometheus.Counter
	stockFailures    prometheus.Counter
	labelPurchases   *prometheus.CounterVec
}

// NewFulfillmentMetrics registers the fulfillment metrics on the provided registerer.
func NewFulfillmentMetrics(reg prometheus.Registerer) *FulfillmentMetrics {
	if reg == nil {
		return &FulfillmentMetrics{}
	}
	checkoutDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkout_duration_seconds",
		Help:    "Duration of checkout session creation in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Processed payment webhook events by type and outcome.",
	}, []string{"type", "outcome"})
	webhookReplays := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webhook_replays_total",
		Help: "Webhook deliveries skipped as already processed.",
	})
	stockFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stock_decrement_failures_total",
		Help: "Paid orders whose stock decrement could not be applied.",
	})
	labelPurchases := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shipping_label_purchases_total",
		Help: "Shipping label purchase attempts by carrier and outcome.",
	}, []string{"carrier", "outcome"})
	reg.MustRegister(checkoutDuration, webhookEvents, webhookReplays, stockFailures, labelPurchases)
	return &FulfillmentMetrics{
		checkoutDuration: checkoutDuration,
		webhookEvents:    webhookEvents,
		webhookReplays:   webhookReplays,
		stockFailures:    stockFailures,
		labelPurchases:   labelPurchases,
	}
}

// ObserveCheckout records a checkout attempt's duration under its outcome.
func (f *FulfillmentMetrics) ObserveCheckout(outcome string, duration time.Duration) {
	if f == nil || f.checkoutDuration == nil {
		return
	}
	f.checkoutDuration.WithLabelValues(normalizeLabel(outcome)).Observe(duration.Seconds())
}

// IncWebhookEvent counts a processed webhook delivery.
func (f *FulfillmentMetrics) IncWebhookEvent(eventType, outcome string) {
	if f == nil || f.webhookEvents == nil {
		return
	}
	f.webhookEvents.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

// IncWebhookReplay counts a delivery skipped as a duplicate.
func (f *FulfillmentMetrics) IncWebhookReplay() {
	if f == nil || f.webhookReplays == nil {
		return
	}
	f.webhookReplays.Inc()
}

// IncStockFailure counts a paid order whose decrement did not apply.
func (f *FulfillmentMetrics) IncStockFailure() {
	if f == nil || f.stockFailures == nil {
		return
	}
	f.stockFailures.Inc()
}

// IncLabelPurchase counts a label purchase attempt.
func (f *FulfillmentMetrics) IncLabelPurchase(carrier, outcome string) {
	if f == nil || f.labelPurchases == nil {
		return
	}
	f.labelPurchases.WithLabelValues(normalizeLabel(carrier), normalizeLabel(outcome)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
