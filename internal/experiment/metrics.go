package experiment

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/epitome-sim/reverie-core/internal/process"
)

// Metrics holds the Prometheus collectors for experiment runs.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	launches      *prometheus.CounterVec
	stops         *prometheus.CounterVec
	statusQueries *prometheus.CounterVec
	outputLines   *prometheus.CounterVec
	running       prometheus.Gauge
	runDuration   *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "reverie"
	}

	m := &Metrics{
		launches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "experiment_launches_total",
				Help:      "Experiment launches by result",
			},
			[]string{"result"},
		),
		stops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "experiment_stops_total",
				Help:      "Experiment stop requests by result",
			},
			[]string{"result"},
		),
		statusQueries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "experiment_status_queries_total",
				Help:      "Experiment status queries by reported state",
			},
			[]string{"state"},
		),
		outputLines: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "experiment_output_lines_total",
				Help:      "Simulation output lines relayed, by stream",
			},
			[]string{"stream"},
		),
		running: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "experiment_running",
				Help:      "Simulation processes currently running in this instance",
			},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "experiment_run_duration_seconds",
				Help:      "Wall-clock duration of simulation runs",
				Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 14400, 43200},
			},
			[]string{"outcome"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.launches,
			m.stops,
			m.statusQueries,
			m.outputLines,
			m.running,
			m.runDuration,
		)
	}

	return m
}

func (m *Metrics) launched(result string) {
	if m != nil {
		m.launches.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) stopped(result string) {
	if m != nil {
		m.stops.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) queried(state State) {
	if m != nil {
		m.statusQueries.WithLabelValues(string(state)).Inc()
	}
}

func (m *Metrics) line(stream process.Stream) {
	if m != nil {
		m.outputLines.WithLabelValues(string(stream)).Inc()
	}
}

func (m *Metrics) runStarted() {
	if m != nil {
		m.running.Inc()
	}
}

func (m *Metrics) runEnded(s RunSummary) {
	if m != nil {
		m.running.Dec()
		m.runDuration.WithLabelValues(string(s.Outcome)).Observe(s.Duration.Seconds())
	}
}
