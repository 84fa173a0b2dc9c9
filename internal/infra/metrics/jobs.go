package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(jobsFinishedTotal, jobsEnqueuedTotal, jobExecutionSeconds, jobsInState)
}

var (
	jobsEnqueuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "runner_jobs_enqueued_total",
			Help: "Total number of jobs accepted into the queue.",
		},
	)

	jobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runner_jobs_finished_total",
			Help: "Total number of jobs that reached a terminal state, labeled by state.",
		},
		[]string{"state"}, // completed, failed, cancelled, rejected
	)

	jobExecutionSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "runner_job_execution_seconds",
			Help:    "Wall-clock duration of external runner invocations.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	jobsInState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "runner_jobs_in_state",
			Help: "Current number of jobs per state.",
		},
		[]string{"state"},
	)
)

func IncJobEnqueued() { jobsEnqueuedTotal.Inc() }

func IncJobFinished(state string) {
	jobsFinishedTotal.WithLabelValues(norm(state)).Inc()
}

func ObserveJobExecution(seconds float64) {
	jobExecutionSeconds.Observe(seconds)
}

func SetJobsInState(state string, n int) {
	jobsInState.WithLabelValues(norm(state)).Set(float64(n))
}
