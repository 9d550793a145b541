package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_jobs_enqueued_total",
		Help: "Jobs accepted by a queue",
	}, []string{"queue"})
	jobAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_job_attempts_total",
		Help: "Processor runs by outcome",
	}, []string{"queue", "outcome"})
	jobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_jobs_finished_total",
		Help: "Jobs that reached a terminal state",
	}, []string{"queue", "state"})
	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_job_duration_seconds",
		Help:    "Time spent in the stage processor",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"queue"})
)
