// Package metrics is the worker process's Prometheus instrumentation:
// claim latency, executor duration, jobs completed by outcome, and worker
// lifecycle gauges, exposed on a debug listener per process.
//
// Every collector below is registered, but only WorkerStartTime and
// WorkerShutdownsTotal are updated (by cmd/worker); the claim, executor and
// recovery series are not recorded anywhere and stay at their zero values.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Claim Engine metrics

	ClaimAttemptDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "jobscheduler",
		Name:      "claim_attempt_duration_seconds",
		Help:      "Time taken for one TryClaim write-intent transaction.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})

	ClaimOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobscheduler",
		Name:      "claim_outcomes_total",
		Help:      "Total TryClaim attempts, by outcome (claimed, empty, blocked_deadline).",
	}, []string{"outcome"})

	// Executor metrics

	JobExecutionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "jobscheduler",
		Name:      "job_execution_duration_seconds",
		Help:      "Duration of one job's subprocess execution.",
		Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 300, 900, 3600},
	}, []string{"outcome"})

	JobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "jobscheduler",
		Name:      "worker_jobs_in_flight",
		Help:      "Number of jobs currently being executed by this worker process.",
	})

	JobsCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobscheduler",
		Name:      "jobs_completed_total",
		Help:      "Total jobs finished by this worker process, by outcome.",
	}, []string{"outcome"})

	FinishRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "jobscheduler",
		Name:      "finish_retries_total",
		Help:      "Total retries of the Finish store write after a transient failure.",
	})

	// Worker lifecycle metrics

	WorkerStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "jobscheduler",
		Name:      "worker_start_time_seconds",
		Help:      "Unix timestamp when this worker process started.",
	})

	WorkerStuckJobsRecovered = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "jobscheduler",
		Name:      "worker_stuck_jobs_recovered",
		Help:      "Number of running jobs reset to pending by this worker's startup recovery sweep.",
	})

	WorkerShutdownsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "jobscheduler",
		Name:      "worker_shutdowns_total",
		Help:      "Number of times this worker process has shut down.",
	})
)

// Register adds every collector above to the default Prometheus registry.
// Call once per process before starting the debug listener.
func Register() {
	prometheus.MustRegister(
		ClaimAttemptDuration,
		ClaimOutcomesTotal,
		JobExecutionDuration,
		JobsInFlight,
		JobsCompletedTotal,
		FinishRetriesTotal,
		WorkerStartTime,
		WorkerStuckJobsRecovered,
		WorkerShutdownsTotal,
	)
}

// NewServer returns an *http.Server exposing /metrics on addr. The caller is
// responsible for starting and shutting it down.
func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
