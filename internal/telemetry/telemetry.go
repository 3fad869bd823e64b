// Package telemetry exposes report run metrics to prometheus.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "intelreport"

// Run outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeTimeout = "timeout"
)

// Recorder holds the run metrics on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	runs          *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	eventsRead    prometheus.Counter
	eventsSkipped prometheus.Counter
	sessions      prometheus.Counter
	anomalies     *prometheus.CounterVec
	collaborators *prometheus.CounterVec
}

// NewRecorder registers every metric on a fresh registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Report runs by period and outcome",
		}, []string{"period", "outcome"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a report run",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"period"}),
		eventsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_read_total",
			Help:      "Raw events read from the event source",
		}),
		eventsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_skipped_total",
			Help:      "Malformed raw events skipped during session reconstruction",
		}),
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Sessions reconstructed inside report windows",
		}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Anomalies flagged by severity",
		}, []string{"severity"}),
		collaborators: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaborator_calls_total",
			Help:      "Calls to narrative, ads, email and archive collaborators",
		}, []string{"collaborator", "outcome"}),
	}
	r.registry.MustRegister(
		r.runs, r.runDuration, r.eventsRead, r.eventsSkipped, r.sessions, r.anomalies, r.collaborators,
		prometheus.NewGoCollector(),
	)
	return r
}

// Registry is the gatherer served on /metrics.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Run counts a finished run.
func (r *Recorder) Run(period, outcome string, took time.Duration) {
	r.runs.WithLabelValues(period, outcome).Inc()
	r.runDuration.WithLabelValues(period).Observe(took.Seconds())
}

// Events counts events read and skipped.
func (r *Recorder) Events(read, skipped int) {
	r.eventsRead.Add(float64(read))
	r.eventsSkipped.Add(float64(skipped))
}

// Sessions counts reconstructed sessions.
func (r *Recorder) Sessions(n int) {
	r.sessions.Add(float64(n))
}

// Anomaly counts one flagged anomaly.
func (r *Recorder) Anomaly(severity string) {
	r.anomalies.WithLabelValues(severity).Inc()
}

// Collaborator counts one collaborator call; err decides the outcome label.
func (r *Recorder) Collaborator(name string, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	r.collaborators.WithLabelValues(name, outcome).Inc()
}
