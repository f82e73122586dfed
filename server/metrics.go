package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	annidx "github.com/annidx/annidx"
)

// Metrics holds the Prometheus collectors for the server. It also
// implements annidx.MetricsCollector so index operations are recorded no
// matter which code path triggers them.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	indexOpsTotal    *prometheus.CounterVec
	indexOpDuration  *prometheus.HistogramVec
	vectorsTotal     prometheus.Gauge
	liveVectorsTotal prometheus.Gauge
}

var _ annidx.MetricsCollector = (*Metrics)(nil)

// NewMetrics creates the collectors on a private registry, so tests can
// run multiple servers in one process.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "annidx_http_requests_total",
				Help: "Total number of HTTP requests processed.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "annidx_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		indexOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "annidx_index_operations_total",
				Help: "Total number of index operations.",
			},
			[]string{"op", "status"},
		),
		indexOpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "annidx_index_operation_duration_seconds",
				Help:    "Duration of index operations in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		vectorsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "annidx_vectors_total",
			Help: "Number of stored vectors, including tombstones.",
		}),
		liveVectorsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "annidx_vectors_live",
			Help: "Number of live (searchable) vectors.",
		}),
	}

	reg.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.indexOpsTotal,
		m.indexOpDuration,
		m.vectorsTotal,
		m.liveVectorsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler returns the /metrics endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeHTTP(method, path string, status int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, path, statusLabel(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (m *Metrics) observeOp(op string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.indexOpsTotal.WithLabelValues(op, status).Inc()
	m.indexOpDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// SetVectorCounts updates the vector gauges from index stats.
func (m *Metrics) SetVectorCounts(total, live int) {
	m.vectorsTotal.Set(float64(total))
	m.liveVectorsTotal.Set(float64(live))
}

// RecordAdd implements annidx.MetricsCollector.
func (m *Metrics) RecordAdd(duration time.Duration, err error) {
	m.observeOp("add", duration, err)
}

// RecordSearch implements annidx.MetricsCollector.
func (m *Metrics) RecordSearch(k int, duration time.Duration, err error) {
	m.observeOp("search", duration, err)
}

// RecordDelete implements annidx.MetricsCollector.
func (m *Metrics) RecordDelete(duration time.Duration, err error) {
	m.observeOp("delete", duration, err)
}

// RecordSave implements annidx.MetricsCollector.
func (m *Metrics) RecordSave(duration time.Duration, err error) {
	m.observeOp("save", duration, err)
}

// RecordLoad implements annidx.MetricsCollector.
func (m *Metrics) RecordLoad(duration time.Duration, err error) {
	m.observeOp("load", duration, err)
}

func statusLabel(status int) string {
	switch {
	case status < 200:
		return "1xx"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
