package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ImportJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mdeck_import_jobs_total",
			Help: "Finished package imports by outcome",
		},
		[]string{"outcome"},
	)

	ImportDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mdeck_import_duration_seconds",
			Help:    "Wall time of package imports",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
		},
	)

	ImportsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mdeck_imports_active",
			Help: "Imports currently running",
		},
	)

	ImportsRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mdeck_imports_rejected_total",
			Help: "Imports rejected because the job queue was full",
		},
	)

	CardsWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mdeck_cards_written_total",
			Help: "Cards written by imports",
		},
		[]string{"kind"},
	)

	BatchCommitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mdeck_batch_commits_total",
			Help: "Atomic write batches committed",
		},
		[]string{"target"},
	)

	MediaUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mdeck_media_uploads_total",
			Help: "Media files handled by imports",
		},
		[]string{"result"},
	)

	ProgressEntriesSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mdeck_progress_entries_swept_total",
			Help: "Idle progress entries removed",
		},
	)

	ScheduledJobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mdeck_scheduled_job_runs_total",
			Help: "Scheduled job runs by job and result",
		},
		[]string{"job", "result"},
	)
)
