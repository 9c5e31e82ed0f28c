package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/ledgerlens/ledgerlens/internal/observability"
	"github.com/ledgerlens/ledgerlens/internal/storage"
)

const (
	ArchiveDataset     = "feedback"
	archiveContentType = "application/vnd.apache.parquet"
)

type archiveRow struct {
	Version         int32   `parquet:"v"`
	ID              string  `parquet:"id"`
	TimestampUnixMs int64   `parquet:"timestamp_unix_ms"`
	NaturalQuery    string  `parquet:"natural_query"`
	SQLQuery        string  `parquet:"sql_query"`
	Outcome         string  `parquet:"outcome"`
	Correction      string  `parquet:"correction"`
	JudgeScore      float64 `parquet:"judge_score"`
	JudgmentJSON    string  `parquet:"judgment_json"`
}

// RecordSource lists the full record log. *Store satisfies it.
type RecordSource interface {
	Records(ctx context.Context) ([]Record, error)
}

type ArchiveSummary struct {
	RecordsScanned  int    `json:"records_scanned"`
	RecordsArchived int    `json:"records_archived"`
	BytesWritten    int64  `json:"bytes_written"`
	ObjectKey       string `json:"object_key,omitempty"`
}

// WatermarkSource reports how far feedback has been archived according to a
// record kept outside the bucket. The Postgres feedback log satisfies it.
type WatermarkSource interface {
	LatestArchivedThrough(ctx context.Context) (time.Time, error)
}

type ArchiverOption func(*Archiver)

func WithWatermarkSource(src WatermarkSource) ArchiverOption {
	return func(a *Archiver) { a.runs = src }
}

// Archiver exports records newer than the last archive to one Parquet object
// per run. The watermark is recovered from archive keys, the watermark marker
// and the optional WatermarkSource, whichever is latest. Retention may delete
// every archive, so the marker and the source are what survive it.
type Archiver struct {
	source RecordSource
	store  storage.ObjectStore
	runs   WatermarkSource
	logger *slog.Logger

	mu        sync.Mutex
	loaded    bool
	watermark time.Time
}

func NewArchiver(source RecordSource, store storage.ObjectStore, logger *slog.Logger, opts ...ArchiverOption) *Archiver {
	a := &Archiver{source: source, store: store, logger: observability.Component(logger, "feedback_archive")}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Archiver) ArchiveOnce(ctx context.Context) (ArchiveSummary, error) {
	if a.source == nil {
		return ArchiveSummary{}, fmt.Errorf("record source is required")
	}
	if a.store == nil {
		return ArchiveSummary{}, fmt.Errorf("object store is required")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.loaded {
		watermark, err := a.loadWatermark(ctx)
		if err != nil {
			return ArchiveSummary{}, err
		}
		a.watermark, a.loaded = watermark, true
	}

	records, err := a.source.Records(ctx)
	if err != nil {
		return ArchiveSummary{}, fmt.Errorf("list feedback records: %w", err)
	}
	summary := ArchiveSummary{RecordsScanned: len(records)}

	pending := make([]Record, 0)
	through := a.watermark
	for _, r := range records {
		ts := r.Timestamp.UTC().Truncate(time.Millisecond)
		if !ts.After(a.watermark) {
			continue
		}
		pending = append(pending, r)
		if ts.After(through) {
			through = ts
		}
	}
	if len(pending) == 0 {
		return summary, nil
	}

	data, err := EncodeArchive(pending)
	if err != nil {
		return summary, err
	}
	key, err := storage.BuildArchivePath(ArchiveDataset, through, len(pending))
	if err != nil {
		return summary, err
	}
	opts := storage.PutOptions{
		ContentType: archiveContentType,
		Metadata: map[string]string{
			"records":        strconv.Itoa(len(pending)),
			"through":        through.Format(time.RFC3339Nano),
			"record-version": strconv.Itoa(RecordVersion),
		},
	}
	if _, err := a.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return summary, fmt.Errorf("upload feedback archive: %w", err)
	}

	a.watermark = through
	a.advanceMarker(ctx, through)
	summary.RecordsArchived = len(pending)
	summary.BytesWritten = int64(len(data))
	summary.ObjectKey = key
	a.logger.InfoContext(ctx, "feedback archived", slog.String("key", key), slog.Int("records", len(pending)))
	return summary, nil
}

func (a *Archiver) loadWatermark(ctx context.Context) (time.Time, error) {
	objects, err := a.store.List(ctx, ArchiveDataset+"/")
	if err != nil {
		return time.Time{}, fmt.Errorf("list feedback archives: %w", err)
	}
	var latest time.Time
	for _, obj := range objects {
		ts, ok := storage.ArchiveWatermark(obj.Key)
		if !ok {
			ts, ok = storage.MarkerWatermark(obj.Key)
		}
		if ok && ts.After(latest) {
			latest = ts
		}
	}
	if a.runs != nil {
		ts, err := a.runs.LatestArchivedThrough(ctx)
		if err != nil {
			return time.Time{}, fmt.Errorf("load archive watermark: %w", err)
		}
		if ts.After(latest) {
			latest = ts.UTC()
		}
	}
	return latest, nil
}

// advanceMarker replaces the watermark marker. The archive is already
// uploaded, so failures are logged rather than returned.
func (a *Archiver) advanceMarker(ctx context.Context, through time.Time) {
	key, err := storage.BuildWatermarkPath(ArchiveDataset, through)
	if err != nil {
		a.logger.WarnContext(ctx, "build watermark marker", slog.Any("error", err))
		return
	}
	opts := storage.PutOptions{Metadata: map[string]string{"through": through.Format(time.RFC3339Nano)}}
	if _, err := a.store.Put(ctx, key, bytes.NewReader(nil), 0, opts); err != nil {
		a.logger.WarnContext(ctx, "write watermark marker", slog.String("key", key), slog.Any("error", err))
		return
	}
	markers, err := a.store.List(ctx, path.Dir(key)+"/")
	if err != nil {
		a.logger.WarnContext(ctx, "list watermark markers", slog.Any("error", err))
		return
	}
	for _, obj := range markers {
		if ts, ok := storage.MarkerWatermark(obj.Key); ok && ts.Before(through) {
			if err := a.store.Delete(ctx, obj.Key); err != nil {
				a.logger.WarnContext(ctx, "delete stale watermark marker", slog.String("key", obj.Key), slog.Any("error", err))
			}
		}
	}
}

// EncodeArchive writes records as Parquet rows.
func EncodeArchive(records []Record) ([]byte, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("records are required")
	}
	rows := make([]archiveRow, 0, len(records))
	for _, r := range records {
		row := archiveRow{
			Version:         int32(r.Version),
			ID:              r.ID,
			TimestampUnixMs: r.Timestamp.UnixMilli(),
			NaturalQuery:    r.NaturalQuery,
			SQLQuery:        r.SQLQuery,
			Outcome:         string(r.Outcome),
			Correction:      r.Correction,
		}
		if r.Judgment != nil {
			raw, err := json.Marshal(r.Judgment)
			if err != nil {
				return nil, fmt.Errorf("encode judgment for %s: %w", r.ID, err)
			}
			row.JudgeScore = r.Judgment.Score
			row.JudgmentJSON = string(raw)
		}
		rows = append(rows, row)
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[archiveRow](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}
