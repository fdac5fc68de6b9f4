// File: internal/observability/metrics.go
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private prometheus registry and the browser action series.
// It satisfies browser.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	actionsTotal   *prometheus.CounterVec
	actionFailures *prometheus.CounterVec
	actionDuration *prometheus.HistogramVec
	activeWebViews prometheus.Gauge
}

// NewMetrics registers the action series under the given namespace. An empty
// namespace yields the bare playwright_* names existing dashboards expect.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		actionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "playwright_browser_actions_total",
				Help:      "Total number of browser actions performed",
			},
			[]string{"action_type"},
		),
		actionFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "playwright_browser_action_failures_total",
				Help:      "Total number of browser actions that returned an error",
			},
			[]string{"action_type"},
		),
		actionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "playwright_browser_action_duration_seconds",
				Help:      "Duration of browser actions in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5},
			},
			[]string{"action_type"},
		),
		activeWebViews: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playwright_active_webviews",
			Help:      "Number of active isolated webviews",
		}),
	}
	reg.MustRegister(m.actionsTotal, m.actionFailures, m.actionDuration, m.activeWebViews)
	return m
}

// ObserveAction records the duration of one action. Successful actions also
// bump the action counter; failed ones bump the failure counter instead.
func (m *Metrics) ObserveAction(action string, d time.Duration, err error) {
	m.actionDuration.WithLabelValues(action).Observe(d.Seconds())
	if err != nil {
		m.actionFailures.WithLabelValues(action).Inc()
		return
	}
	m.actionsTotal.WithLabelValues(action).Inc()
}

// SetActiveViews reports the current number of registered views.
func (m *Metrics) SetActiveViews(n int) {
	m.activeWebViews.Set(float64(n))
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
