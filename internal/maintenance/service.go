// Package maintenance runs the periodic feedback jobs: aggregate rebuilds,
// Parquet archiving and archive retention.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ledgerlens/ledgerlens/internal/feedback"
	feedbackpostgres "github.com/ledgerlens/ledgerlens/internal/feedback/postgres"
	"github.com/ledgerlens/ledgerlens/internal/storage"
)

type Rebuilder interface {
	Rebuild(ctx context.Context) (int, error)
}

type Archiver interface {
	ArchiveOnce(ctx context.Context) (feedback.ArchiveSummary, error)
}

// RunRecorder keeps an audit row per uploaded archive.
type RunRecorder interface {
	RecordArchiveRun(ctx context.Context, run feedbackpostgres.ArchiveRun) error
}

type Config struct {
	RebuildInterval   time.Duration
	ArchiveInterval   time.Duration
	RetentionInterval time.Duration
	// ArchiveRetention of zero keeps archives forever.
	ArchiveRetention time.Duration
}

type Service struct {
	Feedback    Rebuilder
	Archiver    Archiver
	ObjectStore storage.ObjectStore
	Runs        RunRecorder
	Config      Config
	Logger      *slog.Logger
	Clock       func() time.Time
}

type RebuildSummary struct {
	RecordsAggregated int `json:"records_aggregated"`
}

type RetentionSummary struct {
	ObjectsScanned   int `json:"objects_scanned"`
	CandidateObjects int `json:"candidate_objects"`
	ObjectsDeleted   int `json:"objects_deleted"`
	Failures         int `json:"failures"`
}

func (s *Service) Run(ctx context.Context) error {
	s.ensureDefaults()

	rebuildTicker := time.NewTicker(s.Config.RebuildInterval)
	defer rebuildTicker.Stop()

	var archiveC, retentionC <-chan time.Time
	if s.Archiver != nil {
		archiveTicker := time.NewTicker(s.Config.ArchiveInterval)
		defer archiveTicker.Stop()
		archiveC = archiveTicker.C
	}
	if s.ObjectStore != nil && s.Config.ArchiveRetention > 0 {
		retentionTicker := time.NewTicker(s.Config.RetentionInterval)
		defer retentionTicker.Stop()
		retentionC = retentionTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-rebuildTicker.C:
			summary, err := s.RunRebuildOnce(ctx)
			s.logCycle(ctx, "rebuild", summary, err)
		case <-archiveC:
			summary, err := s.RunArchiveOnce(ctx)
			s.logCycle(ctx, "archive", summary, err)
		case <-retentionC:
			summary, err := s.RunRetentionOnce(ctx)
			s.logCycle(ctx, "retention", summary, err)
		}
	}
}

func (s *Service) logCycle(ctx context.Context, task string, summary any, err error) {
	if s.Logger == nil {
		return
	}
	if err != nil {
		s.Logger.ErrorContext(ctx, task+" cycle failed", slog.Any("error", err), slog.Any("summary", summary))
		return
	}
	s.Logger.DebugContext(ctx, task+" cycle completed", slog.Any("summary", summary))
}

func (s *Service) RunRebuildOnce(ctx context.Context) (RebuildSummary, error) {
	s.ensureDefaults()
	if s.Feedback == nil {
		return RebuildSummary{}, fmt.Errorf("feedback store is required")
	}
	n, err := s.Feedback.Rebuild(ctx)
	if err != nil {
		maintenanceRunsTotal.WithLabelValues("rebuild", "failed").Inc()
		return RebuildSummary{}, err
	}
	maintenanceRunsTotal.WithLabelValues("rebuild", "completed").Inc()
	return RebuildSummary{RecordsAggregated: n}, nil
}

func (s *Service) RunArchiveOnce(ctx context.Context) (feedback.ArchiveSummary, error) {
	s.ensureDefaults()
	if s.Archiver == nil {
		return feedback.ArchiveSummary{}, fmt.Errorf("archiver is required")
	}

	summary, err := s.Archiver.ArchiveOnce(ctx)
	if err != nil {
		maintenanceRunsTotal.WithLabelValues("archive", "failed").Inc()
		return summary, err
	}
	if summary.RecordsArchived > 0 {
		archivedRecordsTotal.Add(float64(summary.RecordsArchived))
		archiveBytesWritten.Add(float64(summary.BytesWritten))
		if s.Runs != nil {
			through, _ := storage.ArchiveWatermark(summary.ObjectKey)
			if err := s.Runs.RecordArchiveRun(ctx, feedbackpostgres.ArchiveRun{
				ObjectKey:       summary.ObjectKey,
				RecordsArchived: summary.RecordsArchived,
				BytesWritten:    summary.BytesWritten,
				ArchivedThrough: through,
			}); err != nil {
				maintenanceRunsTotal.WithLabelValues("archive", "failed").Inc()
				return summary, err
			}
		}
	}
	maintenanceRunsTotal.WithLabelValues("archive", "completed").Inc()
	return summary, nil
}

// RunRetentionOnce deletes archives whose watermark is older than the
// retention window. Objects that are not archives are left alone.
func (s *Service) RunRetentionOnce(ctx context.Context) (RetentionSummary, error) {
	s.ensureDefaults()
	if s.ObjectStore == nil {
		return RetentionSummary{}, fmt.Errorf("object store is required")
	}
	if s.Config.ArchiveRetention <= 0 {
		return RetentionSummary{}, nil
	}

	objects, err := s.ObjectStore.List(ctx, feedback.ArchiveDataset+"/")
	if err != nil {
		maintenanceRunsTotal.WithLabelValues("retention", "failed").Inc()
		return RetentionSummary{}, fmt.Errorf("list archives: %w", err)
	}

	summary := RetentionSummary{ObjectsScanned: len(objects)}
	cutoff := s.Clock().Add(-s.Config.ArchiveRetention)
	failures := make([]string, 0)
	for _, obj := range objects {
		through, ok := storage.ArchiveWatermark(obj.Key)
		if !ok || !through.Before(cutoff) {
			continue
		}
		summary.CandidateObjects++
		if err := s.ObjectStore.Delete(ctx, obj.Key); err != nil {
			summary.Failures++
			failures = append(failures, fmt.Sprintf("delete archive %s: %v", obj.Key, err))
			continue
		}
		summary.ObjectsDeleted++
	}

	if summary.ObjectsDeleted > 0 {
		archivesDeletedTotal.Add(float64(summary.ObjectsDeleted))
	}
	if len(failures) > 0 {
		maintenanceRunsTotal.WithLabelValues("retention", "failed").Inc()
		return summary, fmt.Errorf("retention encountered %d failure(s): %s", len(failures), strings.Join(failures, "; "))
	}
	maintenanceRunsTotal.WithLabelValues("retention", "completed").Inc()
	return summary, nil
}

func (s *Service) ensureDefaults() {
	if s.Config.RebuildInterval <= 0 {
		s.Config.RebuildInterval = 5 * time.Minute
	}
	if s.Config.ArchiveInterval <= 0 {
		s.Config.ArchiveInterval = time.Hour
	}
	if s.Config.RetentionInterval <= 0 {
		s.Config.RetentionInterval = 6 * time.Hour
	}
	if s.Clock == nil {
		s.Clock = time.Now
	}
}
