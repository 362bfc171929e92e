package collection

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics counts worker outcomes and login states on its own registry.
type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	workers     *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	running     prometheus.Gauge
	loginStates *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	workers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xjtutoolbox_workers_total",
		Help: "Finished workers by task and outcome",
	}, []string{"task", "outcome"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "xjtutoolbox_worker_duration_seconds",
		Help:    "Wall time of workers from submit to terminal event",
		Buckets: prometheus.DefBuckets,
	}, []string{"task"})

	running := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "xjtutoolbox_workers_running",
		Help: "Workers that have not reached a terminal event",
	})

	loginStates := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xjtutoolbox_login_states_total",
		Help: "Login driver results by site and state",
	}, []string{"site", "state"})

	registry.MustRegister(workers, duration, running, loginStates)

	return &Metrics{
		registry:    registry,
		handler:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		workers:     workers,
		duration:    duration,
		running:     running,
		loginStates: loginStates,
	}
}

func (m *Metrics) Handler() http.Handler { return m.handler }

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) started() {
	m.running.Inc()
}

func (m *Metrics) finished(task, outcome string, took time.Duration) {
	m.running.Dec()
	m.workers.WithLabelValues(task, outcome).Inc()
	m.duration.WithLabelValues(task).Observe(took.Seconds())
}

// LoginState records one driver result.
func (m *Metrics) LoginState(site, state string) {
	m.loginStates.WithLabelValues(site, state).Inc()
}
