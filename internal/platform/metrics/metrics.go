package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the entitlement gate.
type Metrics struct {
	ChecksTotal   *prometheus.CounterVec
	ShortCircuits prometheus.Counter
	CheckDuration prometheus.Histogram
	Authenticated prometheus.Gauge
}

// New creates and registers gate metrics on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers gate metrics on reg. Tests pass a fresh registry.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ChecksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ldgate_entitlement_checks_total",
			Help: "Entitlement checks sent to the warden, by outcome",
		}, []string{"outcome"}),
		ShortCircuits: factory.NewCounter(prometheus.CounterOpts{
			Name: "ldgate_entitlement_short_circuits_total",
			Help: "Gated calls that skipped the warden because the gate was already verified",
		}),
		CheckDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ldgate_entitlement_check_duration_seconds",
			Help:    "Latency of warden entitlement checks",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		Authenticated: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ldgate_entitlement_authenticated",
			Help: "1 once the gate has verified entitlement for this process",
		}),
	}
}

// ObserveCheck records one completed warden call.
func (m *Metrics) ObserveCheck(outcome string, seconds float64) {
	m.ChecksTotal.WithLabelValues(outcome).Inc()
	m.CheckDuration.Observe(seconds)
}

func (m *Metrics) IncrementShortCircuits() {
	m.ShortCircuits.Inc()
}

func (m *Metrics) SetAuthenticated() {
	m.Authenticated.Set(1)
}
