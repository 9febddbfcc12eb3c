package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "basetrade"

// HTTP holds the request-level metrics every route reports. Status is the
// numeric code so dashboards can group on 2xx/4xx/5xx ranges.
type HTTP struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewHTTP(registry *prometheus.Registry) *HTTP {
	h := &HTTP{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}
	if registry != nil {
		registry.MustRegister(h.requests, h.duration)
	}
	return h
}

// Observe records one completed request. Nil receiver is a no-op so wiring
// without a registry stays valid.
func (h *HTTP) Observe(method, path string, status int, latency time.Duration) {
	if h == nil {
		return
	}
	code := strconv.Itoa(status)
	h.requests.WithLabelValues(method, path, code).Inc()
	h.duration.WithLabelValues(method, path, code).Observe(latency.Seconds())
}

func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
