package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the simulation server. Each
// instance owns its registry so tests and multiple servers do not collide.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP requests by route pattern, method and status
	Requests *prometheus.CounterVec

	// HTTP latency by route pattern
	RequestLatency *prometheus.HistogramVec

	// Scenario build and scoring latency by kind
	ScenarioLatency *prometheus.HistogramVec

	// Live sessions
	Sessions prometheus.Gauge

	// Archived runs
	RunsArchived prometheus.Counter
}

// New creates a Metrics instance with every collector registered on a
// fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,

		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "compplan_http_requests_total",
			Help: "Total HTTP requests by route, method and status",
		}, []string{"route", "method", "status"}),

		RequestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "compplan_http_request_duration_seconds",
			Help:    "Duration of HTTP requests by route",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"route"}),

		ScenarioLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "compplan_scenario_duration_seconds",
			Help:    "Duration of building and scoring one scenario",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"kind"}), // kind: "all_personal", "even_split", "target_M3", ...

		Sessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "compplan_sessions",
			Help: "Number of live simulation sessions",
		}),

		RunsArchived: factory.NewCounter(prometheus.CounterOpts{
			Name: "compplan_runs_archived_total",
			Help: "Total simulation runs written to the archive",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(route, method string, status int, d time.Duration) {
	if m != nil {
		m.Requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
		m.RequestLatency.WithLabelValues(route).Observe(d.Seconds())
	}
}

// ObserveScenario records the build time of one scenario.
func (m *Metrics) ObserveScenario(kind string, d time.Duration) {
	if m != nil {
		m.ScenarioLatency.WithLabelValues(kind).Observe(d.Seconds())
	}
}

// SetSessions reports the number of live sessions.
func (m *Metrics) SetSessions(n int) {
	if m != nil {
		m.Sessions.Set(float64(n))
	}
}

// IncrementRunsArchived records one archived run.
func (m *Metrics) IncrementRunsArchived() {
	if m != nil {
		m.RunsArchived.Inc()
	}
}
