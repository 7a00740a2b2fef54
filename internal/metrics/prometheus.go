// Package metrics exposes the Shop's operational metrics to
// Prometheus: submission/completion counters, processing latency,
// queue depth, and tracked-ticket gauges, scraped by external
// monitoring systems.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shop wraps the Prometheus collectors for one task's Shop.
type Shop struct {
	registry *prometheus.Registry

	ticketsSubmitted *prometheus.CounterVec
	ticketsSettled   *prometheus.CounterVec
	processingTime   *prometheus.HistogramVec
	queueDepth       prometheus.Gauge
	trackedTickets   prometheus.Gauge
	uptime           prometheus.GaugeFunc
}

var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 20000}

// New builds and registers a Shop's collectors under namespace (the
// task name), alongside the default Go and process collectors.
func New(namespace string) *Shop {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	start := time.Now()
	s := &Shop{
		registry: registry,

		ticketsSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tickets_submitted_total",
				Help:      "Total tickets accepted by the Waiter.",
			},
			[]string{"mode"}, // async | sync
		),

		ticketsSettled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tickets_settled_total",
				Help:      "Total tickets settled by a Barista, by outcome.",
			},
			[]string{"outcome"}, // complete | rejected | failure
		),

		processingTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ticket_processing_milliseconds",
				Help:      "Time from receipt to settlement for one ticket.",
				Buckets:   defaultBuckets,
			},
			[]string{"outcome"},
		),

		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "work_queue_depth",
				Help:      "Last observed approximate work-queue depth.",
			},
		),

		trackedTickets: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tracked_tickets",
				Help:      "Current length of the local order chain.",
			},
		),
	}

	s.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since this Shop process started.",
		},
		func() float64 { return time.Since(start).Seconds() },
	)

	registry.MustRegister(
		s.ticketsSubmitted,
		s.ticketsSettled,
		s.processingTime,
		s.queueDepth,
		s.trackedTickets,
		s.uptime,
	)

	return s
}

// RecordSubmission records one Waiter admission, by mode ("async" or
// "sync").
func (s *Shop) RecordSubmission(mode string) {
	s.ticketsSubmitted.WithLabelValues(mode).Inc()
}

// RecordSettlement records one Barista settlement outcome and its
// processing duration.
func (s *Shop) RecordSettlement(outcome string, duration time.Duration) {
	s.ticketsSettled.WithLabelValues(outcome).Inc()
	s.processingTime.WithLabelValues(outcome).Observe(float64(duration.Milliseconds()))
}

// SetQueueDepth updates the last-observed work-queue depth gauge.
func (s *Shop) SetQueueDepth(depth int) {
	s.queueDepth.Set(float64(depth))
}

// SetTrackedTickets updates the order chain length gauge.
func (s *Shop) SetTrackedTickets(n int) {
	s.trackedTickets.Set(float64(n))
}

// Handler returns the HTTP handler Prometheus should scrape.
func (s *Shop) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry, for tests or custom
// collectors.
func (s *Shop) Registry() *prometheus.Registry {
	return s.registry
}
