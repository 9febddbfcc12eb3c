package service

import (
	"time"

	"github.com/felipeneri/base-trade/internal/engine"
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	OrderSubmissions   *prometheus.CounterVec
	SubmissionLatency  *prometheus.HistogramVec
	OrderCancellations *prometheus.CounterVec
	TradesExecuted     *prometheus.CounterVec
	MatchLatency       *prometheus.HistogramVec
	BookDepth          *prometheus.GaugeVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		OrderSubmissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "order_submissions_total",
				Help: "Total order submission attempts.",
			},
			[]string{"status"},
		),
		SubmissionLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "order_submission_latency_seconds",
				Help:    "Order submission latency in seconds, matching included.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		OrderCancellations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "order_cancellations_total",
				Help: "Total order cancellation attempts.",
			},
			[]string{"status"},
		),
		TradesExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trades_executed_total",
				Help: "Total trades produced by matching.",
			},
			[]string{"instrument"},
		),
		MatchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "match_latency_seconds",
				Help:    "Time spent matching one incoming order.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"instrument"},
		),
		BookDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "order_book_depth",
				Help: "Resting orders per instrument and side.",
			},
			[]string{"instrument", "side"},
		),
	}

	registry.MustRegister(
		m.OrderSubmissions,
		m.SubmissionLatency,
		m.OrderCancellations,
		m.TradesExecuted,
		m.MatchLatency,
		m.BookDepth,
	)
	return m
}

func (m *Metrics) CountSubmission(status string) {
	if m == nil {
		return
	}
	m.OrderSubmissions.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveSubmission(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SubmissionLatency.WithLabelValues(status).Observe(duration.Seconds())
}

func (m *Metrics) CountCancellation(outcome string) {
	if m == nil {
		return
	}
	m.OrderCancellations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveMatch(instrument string, fills int, duration time.Duration) {
	if m == nil {
		return
	}
	m.MatchLatency.WithLabelValues(instrument).Observe(duration.Seconds())
	if fills > 0 {
		m.TradesExecuted.WithLabelValues(instrument).Add(float64(fills))
	}
}

func (m *Metrics) SetBookDepth(instrument string, side engine.Side, depth float64) {
	if m == nil {
		return
	}
	m.BookDepth.WithLabelValues(instrument, string(side)).Set(depth)
}
