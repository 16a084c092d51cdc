package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "varinspector"

// Failure reasons recorded for swallowed inspection errors.
const (
	ReasonExecute = "execute" // transport or interpreter error
	ReasonParse   = "parse"   // reply was not a valid listing
	ReasonInit    = "init"    // init script failed
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Inspection metrics
	Inspections        *prometheus.CounterVec
	UpdatesEmitted     *prometheus.CounterVec
	InspectionFailures *prometheus.CounterVec
	MatrixQueries      *prometheus.CounterVec
	ExecuteDuration    *prometheus.HistogramVec

	// Live objects
	Handlers prometheus.Gauge
	Sessions prometheus.Gauge

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	startTime time.Time
}

// NewMetrics creates metrics on their own registry, so several instances
// can coexist in one process.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),

		Inspections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inspections_total",
				Help:      "Variable listings requested from kernels",
			},
			[]string{"language"},
		),
		UpdatesEmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "updates_emitted_total",
				Help:      "Inspection updates delivered to observers",
			},
			[]string{"language"},
		),
		InspectionFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inspection_failures_total",
				Help:      "Inspection errors swallowed without an update",
			},
			[]string{"language", "reason"},
		),
		MatrixQueries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "matrix_queries_total",
				Help:      "Tabular inspection requests by outcome",
			},
			[]string{"language", "outcome"},
		),
		ExecuteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execute_duration_seconds",
				Help:      "Round trip time of kernel execute requests",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"language", "status"},
		),

		Handlers: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "handlers",
				Help:      "Inspection handlers currently registered",
			},
		),
		Sessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions",
				Help:      "Kernel sessions currently open",
			},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ws_connections",
				Help:      "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ws_messages_total",
				Help:      "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Server uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, route, status).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordInspection counts a listing request.
func (m *Metrics) RecordInspection(language string) {
	if m == nil {
		return
	}
	m.Inspections.WithLabelValues(language).Inc()
}

// RecordUpdate counts an emitted update.
func (m *Metrics) RecordUpdate(language string) {
	if m == nil {
		return
	}
	m.UpdatesEmitted.WithLabelValues(language).Inc()
}

// RecordFailure counts a swallowed inspection failure.
func (m *Metrics) RecordFailure(language, reason string) {
	if m == nil {
		return
	}
	m.InspectionFailures.WithLabelValues(language, reason).Inc()
}

// RecordMatrixQuery counts a tabular inspection by outcome
// ("ok", "error" or "rejected").
func (m *Metrics) RecordMatrixQuery(language, outcome string) {
	if m == nil {
		return
	}
	m.MatrixQueries.WithLabelValues(language, outcome).Inc()
}

// ObserveExecute records one kernel round trip. It matches
// kernel.ExecObserver.
func (m *Metrics) ObserveExecute(language string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	if language == "" {
		language = "unknown"
	}
	m.ExecuteDuration.WithLabelValues(language, status).Observe(elapsed.Seconds())
}

// SetHandlers sets the number of registered handlers.
func (m *Metrics) SetHandlers(count int) {
	if m == nil {
		return
	}
	m.Handlers.Set(float64(count))
}

// SetSessions sets the number of open sessions.
func (m *Metrics) SetSessions(count int) {
	if m == nil {
		return
	}
	m.Sessions.Set(float64(count))
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}
