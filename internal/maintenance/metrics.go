package maintenance

import "github.com/prometheus/client_golang/prometheus"

var (
	maintenanceRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerlens_maintenance_runs_total",
			Help: "Total number of feedback maintenance runs by task and status.",
		},
		[]string{"task", "status"},
	)
	archivedRecordsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledgerlens_feedback_archived_records_total",
			Help: "Total number of feedback records written to archives.",
		},
	)
	archiveBytesWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledgerlens_feedback_archive_bytes_total",
			Help: "Total bytes uploaded as feedback archives.",
		},
	)
	archivesDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledgerlens_feedback_archives_deleted_total",
			Help: "Total number of archive objects removed by retention runs.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		maintenanceRunsTotal,
		archivedRecordsTotal,
		archiveBytesWritten,
		archivesDeletedTotal,
	)
}
