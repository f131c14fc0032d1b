// Package metrics exposes Prometheus collectors for the harvester service.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	harvestJobsTotal          *prometheus.CounterVec
	harvestRecordsTotal       *prometheus.CounterVec
	registryRequestsTotal     *prometheus.CounterVec
	ruleApplicationsTotal     *prometheus.CounterVec
	rateLimitDelaySeconds     *prometheus.HistogramVec
	recordTaskDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		harvestJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_jobs_total",
				Help: "Total number of repository harvest jobs, labeled by repository and result.",
			},
			[]string{"repository", "result"},
		)

		harvestRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_records_total",
				Help: "Total number of per-record sync tasks, labeled by repository and outcome.",
			},
			[]string{"repository", "outcome"},
		)

		registryRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_registry_requests_total",
				Help: "Total number of registry API requests, labeled by operation and status code.",
			},
			[]string{"operation", "code"},
		)

		ruleApplicationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_rule_applications_total",
				Help: "Total number of override rule applications, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delay_seconds",
				Help:    "Delay introduced by per-service rate limiting.",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"service"},
		)

		recordTaskDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_record_task_duration_seconds",
				Help:    "Wall time of per-record sync tasks.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"repository"},
		)
	})
}

// CountJob records the result of one repository harvest job.
func CountJob(repository, result string) {
	if harvestJobsTotal != nil {
		harvestJobsTotal.WithLabelValues(repository, result).Inc()
	}
}

// CountRecord records the outcome of one per-record sync task.
func CountRecord(repository, outcome string) {
	if harvestRecordsTotal != nil {
		harvestRecordsTotal.WithLabelValues(repository, outcome).Inc()
	}
}

// CountRegistryRequest records one registry API call.
func CountRegistryRequest(operation string, code int) {
	if registryRequestsTotal != nil {
		registryRequestsTotal.WithLabelValues(operation, strconv.Itoa(code)).Inc()
	}
}

// CountRuleApplication records the outcome of one rule application.
func CountRuleApplication(outcome string) {
	if ruleApplicationsTotal != nil {
		ruleApplicationsTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveRateLimitDelay records time spent waiting on a service limiter.
func ObserveRateLimitDelay(service string, d time.Duration) {
	if rateLimitDelaySeconds != nil {
		rateLimitDelaySeconds.WithLabelValues(service).Observe(d.Seconds())
	}
}

// ObserveRecordTask records the duration of one per-record sync task.
func ObserveRecordTask(repository string, d time.Duration) {
	if recordTaskDurationSeconds != nil {
		recordTaskDurationSeconds.WithLabelValues(repository).Observe(d.Seconds())
	}
}
