// Package postgres persists feedback records in Postgres.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ledgerlens/ledgerlens/internal/feedback"
	"github.com/ledgerlens/ledgerlens/internal/judge"
)

type Log struct {
	db *sql.DB
}

func NewLog(db *sql.DB) *Log {
	return &Log{db: db}
}

func (l *Log) HealthCheck(ctx context.Context) error {
	if err := l.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping feedback db: %w", err)
	}
	return nil
}

func (l *Log) Append(ctx context.Context, record feedback.Record) error {
	var judgment any
	if record.Judgment != nil {
		raw, err := json.Marshal(record.Judgment)
		if err != nil {
			return fmt.Errorf("encode judgment: %w", err)
		}
		judgment = string(raw)
	}

	query := `
INSERT INTO feedback_record (record_id, record_version, recorded_at, natural_query, sql_query, outcome, correction, judgment)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8::jsonb)`
	if _, err := l.db.ExecContext(ctx, query,
		record.ID,
		record.Version,
		record.Timestamp,
		record.NaturalQuery,
		record.SQLQuery,
		string(record.Outcome),
		record.Correction,
		judgment,
	); err != nil {
		return fmt.Errorf("insert feedback record: %w", err)
	}
	return nil
}

func (l *Log) List(ctx context.Context) ([]feedback.Record, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT record_id, record_version, recorded_at, natural_query, sql_query, outcome, COALESCE(correction, ''), judgment
FROM feedback_record
ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("list feedback records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]feedback.Record, 0)
	for rows.Next() {
		var (
			record   feedback.Record
			outcome  string
			judgment []byte
		)
		if err := rows.Scan(
			&record.ID,
			&record.Version,
			&record.Timestamp,
			&record.NaturalQuery,
			&record.SQLQuery,
			&outcome,
			&record.Correction,
			&judgment,
		); err != nil {
			return nil, fmt.Errorf("scan feedback record: %w", err)
		}
		record.Outcome = feedback.Outcome(outcome)
		if len(judgment) > 0 {
			var decoded judge.Judgment
			if err := json.Unmarshal(judgment, &decoded); err == nil {
				record.Judgment = &decoded
			}
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feedback records: %w", err)
	}
	return records, nil
}

type ArchiveRun struct {
	ObjectKey       string
	RecordsArchived int
	BytesWritten    int64
	ArchivedThrough time.Time
}

// RecordArchiveRun notes an uploaded archive object. Re-recording the same
// key is a no-op.
func (l *Log) RecordArchiveRun(ctx context.Context, run ArchiveRun) error {
	query := `
INSERT INTO feedback_archive_run (object_key, records_archived, bytes_written, archived_through)
VALUES ($1, $2, $3, $4)
ON CONFLICT (object_key) DO NOTHING`
	if _, err := l.db.ExecContext(ctx, query, run.ObjectKey, run.RecordsArchived, run.BytesWritten, run.ArchivedThrough); err != nil {
		return fmt.Errorf("record archive run: %w", err)
	}
	return nil
}

// LatestArchivedThrough returns the newest archived_through across recorded
// runs, or the zero time when nothing has been archived.
func (l *Log) LatestArchivedThrough(ctx context.Context) (time.Time, error) {
	var through sql.NullTime
	if err := l.db.QueryRowContext(ctx, `SELECT MAX(archived_through) FROM feedback_archive_run`).Scan(&through); err != nil {
		return time.Time{}, fmt.Errorf("load archive watermark: %w", err)
	}
	if !through.Valid {
		return time.Time{}, nil
	}
	return through.Time.UTC(), nil
}
