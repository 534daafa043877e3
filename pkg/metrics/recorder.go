package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label for messages that were stored
const OutcomeAccepted = "accepted"

// Recorder receives operational measurements from the broker, the
// ingestion pipeline and the HTTP API
type Recorder interface {
	IngestResult(outcome string)
	ObserveIngestDuration(d time.Duration)
	AuthAttempt(accepted bool)
	HTTPRequest(route string, status int, d time.Duration)
	SetHives(n int)
	SetStoredMetrics(n int64)
}

// Prometheus is a Recorder backed by a Prometheus registry
type Prometheus struct {
	registry        *prometheus.Registry
	ingestTotal     *prometheus.CounterVec
	ingestDuration  prometheus.Histogram
	authTotal       *prometheus.CounterVec
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	hives           prometheus.Gauge
	storedMetrics   prometheus.Gauge
}

// NewPrometheus registers all collectors on a fresh registry, so several
// instances can coexist in one process
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Prometheus{
		registry: reg,
		ingestTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "beermqtt_ingest_messages_total",
			Help: "Messages handled by the ingestion pipeline by outcome",
		}, []string{"outcome"}),

		ingestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "beermqtt_ingest_duration_seconds",
			Help:    "Time spent ingesting one message",
			Buckets: prometheus.DefBuckets,
		}),

		authTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "beermqtt_auth_attempts_total",
			Help: "Device authentication attempts by result",
		}, []string{"result"}),

		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "beermqtt_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"route", "status"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "beermqtt_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),

		hives: factory.NewGauge(prometheus.GaugeOpts{
			Name: "beermqtt_hives",
			Help: "Registered hives",
		}),

		storedMetrics: factory.NewGauge(prometheus.GaugeOpts{
			Name: "beermqtt_stored_metrics",
			Help: "Reading batches in the store",
		}),
	}
}

func (p *Prometheus) IngestResult(outcome string) {
	p.ingestTotal.WithLabelValues(outcome).Inc()
}

func (p *Prometheus) ObserveIngestDuration(d time.Duration) {
	p.ingestDuration.Observe(d.Seconds())
}

func (p *Prometheus) AuthAttempt(accepted bool) {
	result := "rejected"
	if accepted {
		result = "accepted"
	}
	p.authTotal.WithLabelValues(result).Inc()
}

func (p *Prometheus) HTTPRequest(route string, status int, d time.Duration) {
	p.requestsTotal.WithLabelValues(route, httpStatusBucket(status)).Inc()
	p.requestDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (p *Prometheus) SetHives(n int) {
	p.hives.Set(float64(n))
}

func (p *Prometheus) SetStoredMetrics(n int64) {
	p.storedMetrics.Set(float64(n))
}

// Registry exposes the underlying registry, mainly for tests
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus text format
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func httpStatusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

type noop struct{}

// Noop returns a Recorder that discards everything
func Noop() Recorder { return noop{} }

func (noop) IngestResult(string) {}
func (noop) ObserveIngestDuration(time.Duration) {}
func (noop) AuthAttempt(bool) {}
func (noop) HTTPRequest(string, int, time.Duration) {}
func (noop) SetHives(int) {}
func (noop) SetStoredMetrics(int64) {}
