package ingestion

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	jobsTotal     *prometheus.CounterVec
	rowsProcessed *prometheus.CounterVec
	ticksTotal    *prometheus.CounterVec

	jobDuration *prometheus.HistogramVec

	pendingJobs prometheus.Gauge
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		jobsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "phenobatch",
			Name:      "jobs_total",
			Help:      "Total number of batch jobs that reached a terminal state.",
		}, []string{"batch_type", "result"}),
		rowsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "phenobatch",
			Name:      "rows_processed_total",
			Help:      "Total number of file rows applied or rejected.",
		}, []string{"result"}),
		ticksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "phenobatch",
			Name:      "scheduler_ticks_total",
			Help:      "Total number of scheduler ticks by outcome.",
		}, []string{"result"}),
		jobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "phenobatch",
			Name:      "job_duration_seconds",
			Help:      "Wall time from claim to terminal state.",
			Buckets: []float64{
				0.05, 0.1, 0.25, 0.5,
				1, 2.5, 5, 10,
				30, 60, 120, 300,
			},
		}, []string{"batch_type", "result"}),
		pendingJobs: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "phenobatch",
			Name:      "pending_jobs",
			Help:      "Current number of SUBMITTED jobs waiting for the scheduler.",
		}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}
