package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RegistrationMetrics records checkout and webhook outcomes.
type RegistrationMetrics struct {
	checkouts     *prometheus.CounterVec
	webhookEvents *prometheus.CounterVec
	holdsReleased prometheus.Counter
	cartsExpired  prometheus.Counter
}

// NewRegistrationMetrics registers the registration metrics on the provided registerer.
func NewRegistrationMetrics(reg prometheus.Registerer) *RegistrationMetrics {
	if reg == nil {
		return &RegistrationMetrics{}
	}
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkouts_total",
		Help: "Checkout attempts by outcome.",
	}, []string{"outcome"})
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Stripe webhook events by type and outcome.",
	}, []string{"event_type", "outcome"})
	holdsReleased := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "order_holds_released_total",
		Help: "Pending orders cancelled by the hold sweep.",
	})
	cartsExpired := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "carts_expired_total",
		Help: "Open carts expired by the cart sweep.",
	})
	reg.MustRegister(checkouts, webhookEvents, holdsReleased, cartsExpired)
	return &RegistrationMetrics{
		checkouts:     checkouts,
		webhookEvents: webhookEvents,
		holdsReleased: holdsReleased,
		cartsExpired:  cartsExpired,
	}
}

// IncCheckout increments the checkout counter for the given outcome.
func (m *RegistrationMetrics) IncCheckout(outcome string) {
	if m == nil || m.checkouts == nil {
		return
	}
	m.checkouts.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncWebhookEvent increments the webhook counter for the event type and outcome.
func (m *RegistrationMetrics) IncWebhookEvent(eventType, outcome string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

// AddHoldsReleased records pending orders cancelled by the hold sweep.
func (m *RegistrationMetrics) AddHoldsReleased(n int) {
	if m == nil || m.holdsReleased == nil || n <= 0 {
		return
	}
	m.holdsReleased.Add(float64(n))
}

// AddCartsExpired records open carts expired by the cart sweep.
func (m *RegistrationMetrics) AddCartsExpired(n int) {
	if m == nil || m.cartsExpired == nil || n <= 0 {
		return
	}
	m.cartsExpired.Add(float64(n))
}
