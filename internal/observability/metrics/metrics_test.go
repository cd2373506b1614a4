package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestPortalMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPortalMetrics(reg)
	m.ObserveUpstream("GET", "200", 0.05)
	m.ObserveTokenRefresh(true)
	m.ObserveBooking("/appointments/create/", true)
	m.ObserveNotifyDelivery("poll")
}

func TestPortalMetricsNilSafe(t *testing.T) {
	var m *PortalMetrics
	m.ObserveUpstream("GET", "502", 0.1)
	m.ObserveTokenRefresh(false)
	m.ObserveBooking("/appointments/create-patient/", false)
	m.ObserveNotifyDelivery("stream")
}
