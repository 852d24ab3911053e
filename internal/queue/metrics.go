package queue

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/agentarena/api/internal/model"
)

// Recorder publishes queue activity as Prometheus metrics on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	jobsStarted  prometheus.Counter
	jobsFinished *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	running      prometheus.Gauge
	pending      prometheus.Gauge
}

// NewRecorder creates a recorder with Go runtime and process collectors registered.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Recorder{
		registry: registry,
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "experiment_jobs_started_total",
			Help: "Total number of experiment jobs dispatched.",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "experiment_jobs_finished_total",
			Help: "Total number of experiment jobs that reached a terminal status.",
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "experiment_job_duration_seconds",
			Help:    "Wall time of experiment job executions.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		}, []string{"status"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "experiment_jobs_running",
			Help: "Experiment jobs currently executing.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "experiment_jobs_pending",
			Help: "Experiment jobs waiting for a slot.",
		}),
	}

	registry.MustRegister(r.jobsStarted)
	registry.MustRegister(r.jobsFinished)
	registry.MustRegister(r.jobDuration)
	registry.MustRegister(r.running)
	registry.MustRegister(r.pending)

	return r
}

// Registry returns the Prometheus registry for the /metrics handler.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) jobStarted() {
	if r == nil {
		return
	}
	r.jobsStarted.Inc()
}

func (r *Recorder) jobFinished(status model.JobStatus, d time.Duration) {
	if r == nil {
		return
	}
	r.jobsFinished.WithLabelValues(string(status)).Inc()
	if d > 0 {
		r.jobDuration.WithLabelValues(string(status)).Observe(d.Seconds())
	}
}

func (r *Recorder) setGauges(running, pending int) {
	if r == nil {
		return
	}
	r.running.Set(float64(running))
	r.pending.Set(float64(pending))
}
