// Package metrics defines the Prometheus instruments exported on /metrics.
// Everything registers against the default registry via promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BackupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lifeboat",
		Name:      "backups_total",
		Help:      "Backup jobs by config and final status.",
	}, []string{"config", "status"})

	BackupDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lifeboat",
		Name:      "backup_duration_seconds",
		Help:      "Wall time of backup jobs.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"config"})

	BackupSizeBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "lifeboat",
		Name:      "backup_size_bytes",
		Help:      "Artifact size of the most recent backup per config.",
	}, []string{"config"})

	UploadFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lifeboat",
		Name:      "upload_failures_total",
		Help:      "Destination upload failures.",
	}, []string{"destination"})

	RestoresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lifeboat",
		Name:      "restores_total",
		Help:      "Restore attempts by outcome.",
	}, []string{"status"})

	RecoveryRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lifeboat",
		Name:      "recovery_runs_total",
		Help:      "Recovery plan executions by plan and outcome.",
	}, []string{"plan", "outcome"})

	HealthStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "lifeboat",
		Name:      "health_status",
		Help:      "Latest health classification per service (0 healthy, 1 degraded, 2 unhealthy).",
	}, []string{"service"})
)

// HealthValue maps a status string to its gauge value.
func HealthValue(status string) float64 {
	switch status {
	case "degraded":
		return 1
	case "unhealthy":
		return 2
	default:
		return 0
	}
}
