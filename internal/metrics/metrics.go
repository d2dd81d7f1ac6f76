package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "contentpipe"

// Collector exposes Prometheus metrics for pipeline runs, rewrite calls and
// scheduler state. All recording methods are safe on a nil *Collector.
type Collector struct {
	registry *prometheus.Registry

	candidatesTotal  *prometheus.CounterVec
	rewriteCalls     *prometheus.CounterVec
	runsTotal        *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	sourceInterval   *prometheus.GaugeVec
	runningSources   prometheus.Gauge
	httpRequestTotal *prometheus.CounterVec
}

// NewCollector constructs a collector on its own registry.
func NewCollector() (*Collector, error) {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		candidatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_total",
			Help:      "Candidates processed, by source and decision outcome.",
		}, []string{"source", "outcome"}),
		rewriteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rewrite_calls_total",
			Help:      "Rewrite service calls, by field and outcome.",
		}, []string{"field", "outcome"}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Source runs, by source and status.",
		}, []string{"source", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of source runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"source"}),
		sourceInterval: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "source_interval_hours",
			Help:      "Current adaptive polling interval per source.",
		}, []string{"source"}),
		runningSources: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "running_sources",
			Help:      "Source pipelines currently executing.",
		}),
		httpRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of inbound HTTP requests.",
		}, []string{"method", "path", "status"}),
	}

	collectors := []prometheus.Collector{
		c.candidatesTotal,
		c.rewriteCalls,
		c.runsTotal,
		c.runDuration,
		c.sourceInterval,
		c.runningSources,
		c.httpRequestTotal,
	}
	for _, col := range collectors {
		if err := registry.Register(col); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Handler returns an HTTP handler for exposing Prometheus metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordCandidate counts one candidate outcome (accepted, duplicate, low_quality, ...).
func (c *Collector) RecordCandidate(source, outcome string) {
	if c == nil {
		return
	}
	c.candidatesTotal.WithLabelValues(source, outcome).Inc()
}

// RecordRewrite counts one rewrite call for a field ("title" or "body").
func (c *Collector) RecordRewrite(field, outcome string) {
	if c == nil {
		return
	}
	c.rewriteCalls.WithLabelValues(field, outcome).Inc()
}

// RecordRun counts a finished run and observes its duration.
func (c *Collector) RecordRun(source, status string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.runsTotal.WithLabelValues(source, status).Inc()
	c.runDuration.WithLabelValues(source).Observe(elapsed.Seconds())
}

// SetSourceInterval publishes a source's current polling interval.
func (c *Collector) SetSourceInterval(source string, interval time.Duration) {
	if c == nil {
		return
	}
	c.sourceInterval.WithLabelValues(source).Set(interval.Hours())
}

// RunStarted and RunFinished track how many pipelines are in flight.
func (c *Collector) RunStarted() {
	if c == nil {
		return
	}
	c.runningSources.Inc()
}

func (c *Collector) RunFinished() {
	if c == nil {
		return
	}
	c.runningSources.Dec()
}

// InstrumentHandler wraps the provided handler to count HTTP requests.
func (c *Collector) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		c.httpRequestTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rw.status)).Inc()
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
