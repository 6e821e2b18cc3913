package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the warden's Prometheus metrics.
type Metrics struct {
	Verdicts         *prometheus.CounterVec
	AuthFailures     prometheus.Counter
	SeatsActivated   prometheus.Counter
	Throttled        prometheus.Counter
	GrantsIssued     prometheus.Counter
	SeatsReleased    prometheus.Counter
	CheckDurationSec prometheus.Histogram
}

func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Verdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ldgate_warden_verdicts_total",
			Help: "Entitlement verdicts returned, by reason (granted for positive verdicts)",
		}, []string{"reason"}),
		AuthFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "ldgate_warden_auth_failures_total",
			Help: "Checks rejected because the account token was invalid",
		}),
		SeatsActivated: factory.NewCounter(prometheus.CounterOpts{
			Name: "ldgate_warden_seats_activated_total",
			Help: "New machines bound to a grant seat",
		}),
		Throttled: factory.NewCounter(prometheus.CounterOpts{
			Name: "ldgate_warden_checks_throttled_total",
			Help: "Checks rejected by the sliding window limiter",
		}),
		GrantsIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "ldgate_warden_grants_issued_total",
			Help: "Grants created or updated",
		}),
		SeatsReleased: factory.NewCounter(prometheus.CounterOpts{
			Name: "ldgate_warden_seats_released_total",
			Help: "Seats freed by release",
		}),
		CheckDurationSec: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ldgate_warden_check_duration_seconds",
			Help:    "Latency of entitlement checks inside the warden",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

func (m *Metrics) ObserveVerdict(reason string, seconds float64) {
	m.Verdicts.WithLabelValues(reason).Inc()
	m.CheckDurationSec.Observe(seconds)
}

func (m *Metrics) IncrementAuthFailures() {
	m.AuthFailures.Inc()
}

func (m *Metrics) IncrementSeatsActivated() {
	m.SeatsActivated.Inc()
}

func (m *Metrics) IncrementThrottled() {
	m.Throttled.Inc()
}

func (m *Metrics) IncrementGrantsIssued() {
	m.GrantsIssued.Inc()
}

func (m *Metrics) AddSeatsReleased(n int) {
	m.SeatsReleased.Add(float64(n))
}
