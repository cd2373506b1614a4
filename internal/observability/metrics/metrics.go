package metrics

import "github.com/prometheus/client_golang/prometheus"

// PortalMetrics exposes counters/histograms for portal traffic against
// the clinic backend.
type PortalMetrics struct {
	upstreamTotal    *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec
	tokenRefreshes   *prometheus.CounterVec
	bookingsTotal    *prometheus.CounterVec
	notifyDeliveries *prometheus.CounterVec
}

func NewPortalMetrics(reg prometheus.Registerer) *PortalMetrics {
	m := &PortalMetrics{
		upstreamTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cabinet",
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Total backend API requests",
		}, []string{"method", "status"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cabinet",
			Subsystem: "upstream",
			Name:      "request_latency_seconds",
			Help:      "Latency of backend API requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cabinet",
			Subsystem: "auth",
			Name:      "token_refreshes_total",
			Help:      "Total token refresh attempts",
		}, []string{"outcome"}),
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cabinet",
			Subsystem: "booking",
			Name:      "appointments_total",
			Help:      "Total appointment bookings submitted",
		}, []string{"endpoint", "outcome"}),
		notifyDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cabinet",
			Subsystem: "notifications",
			Name:      "deliveries_total",
			Help:      "Total notifications delivered to portal clients",
		}, []string{"source"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.upstreamTotal, m.upstreamLatency, m.tokenRefreshes,
		m.bookingsTotal, m.notifyDeliveries)
	return m
}

func (m *PortalMetrics) ObserveUpstream(method, status string, seconds float64) {
	if m == nil {
		return
	}
	m.upstreamTotal.WithLabelValues(method, status).Inc()
	m.upstreamLatency.WithLabelValues(method).Observe(seconds)
}

func (m *PortalMetrics) ObserveTokenRefresh(success bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.tokenRefreshes.WithLabelValues(outcome).Inc()
}

func (m *PortalMetrics) ObserveBooking(endpoint string, success bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.bookingsTotal.WithLabelValues(endpoint, outcome).Inc()
}

func (m *PortalMetrics) ObserveNotifyDelivery(source string) {
	if m == nil {
		return
	}
	m.notifyDeliveries.WithLabelValues(source).Inc()
}
