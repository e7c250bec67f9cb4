// Package observability exposes Prometheus metrics for the dispatch service.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	backendLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backend_latency_seconds",
			Help:    "Latency of booking backend calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"call", "outcome"},
	)

	bookingTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_transitions_total",
			Help: "Booking session state transitions by target state.",
		},
		[]string{"to"},
	)

	bookingActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "booking_active_sessions",
			Help: "Number of booking sessions currently tracked.",
		},
	)

	zoneCacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zone_cache_results_total",
			Help: "Zone cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	geofenceChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geofence_checks_total",
			Help: "Serviceability checks by result.",
		},
		[]string{"result"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveBackendCall(call string, err error, durationSeconds float64) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	backendLatencySeconds.WithLabelValues(call, outcome).Observe(durationSeconds)
}

func IncTransition(to string) {
	bookingTransitionsTotal.WithLabelValues(to).Inc()
}

func SetActiveSessions(n int) {
	bookingActiveSessions.Set(float64(n))
}

func IncZoneCacheHit()  { zoneCacheResults.WithLabelValues("hit").Inc() }
func IncZoneCacheMiss() { zoneCacheResults.WithLabelValues("miss").Inc() }

func IncGeofenceCheck(serviceable bool) {
	r := "outside"
	if serviceable {
		r = "inside"
	}
	geofenceChecksTotal.WithLabelValues(r).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
