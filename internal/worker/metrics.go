// ABOUTME: Prometheus counters for generation task outcomes and token volume
// ABOUTME: Registered on the default registry via promauto

package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatstream_worker_tasks_total",
		Help: "Generation tasks processed, by outcome.",
	}, []string{"outcome"})

	tokensStreamed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatstream_worker_tokens_total",
		Help: "Tokens streamed across all generation tasks.",
	})

	taskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatstream_worker_task_duration_seconds",
		Help:    "Wall time per generation task.",
		Buckets: prometheus.DefBuckets,
	})
)
