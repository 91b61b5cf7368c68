package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "jhe_http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jhe_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jhe_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// BundleEntriesTotal counts batch entries by the status reported for them.
	BundleEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jhe_bundle_entries_total",
			Help: "Batch bundle entries processed, by entry status code.",
		},
		[]string{"status"},
	)

	ObservationEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jhe_observation_events_total",
			Help: "Observation events published, by result.",
		},
		[]string{"result"},
	)
)

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		HTTPInFlight,
		HTTPRequestsTotal,
		HTTPRequestDuration,
		BundleEntriesTotal,
		ObservationEventsTotal,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
