package sth

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// attendedRequestsCounter mirrors the atomic attendedRequests value into a
// Prometheus counter so it can be scraped alongside the rest of the KPI
// surface at GET /metrics.
var attendedRequestsCounter = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "sth_attended_requests_total",
	Help: "Total number of inbound HTTP requests accepted by the service.",
})

// MetricsRegistry is the private Prometheus registry the service exposes at
// GET /metrics; kept private rather than the global default registry so
// that tests can construct isolated Environments without cross-polluting
// metrics state.
var MetricsRegistry = prometheus.NewRegistry()

func init() {
	MetricsRegistry.MustRegister(attendedRequestsCounter)
}

// KPI holds process-wide counters unrelated to any single request, per
// spec.md §4.7/§5.
type KPI struct {
	attendedRequests uint64
}

var globalKPI = &KPI{}

// GetKPI returns the process-wide KPI counters.
func GetKPI() *KPI { return globalKPI }

// IncAttendedRequests atomically increments the attended-request counter,
// called once per accepted inbound HTTP request.
func (k *KPI) IncAttendedRequests() {
	atomic.AddUint64(&k.attendedRequests, 1)
	attendedRequestsCounter.Inc()
}

// AttendedRequests returns the current counter value.
func (k *KPI) AttendedRequests() uint64 {
	return atomic.LoadUint64(&k.attendedRequests)
}

// Reset zeroes the counter on demand, per spec.md §4.7. The Prometheus
// mirror is left untouched; Prometheus counters are monotonic by
// convention and a scraper is expected to handle resets via rate().
func (k *KPI) Reset() {
	atomic.StoreUint64(&k.attendedRequests, 0)
}
