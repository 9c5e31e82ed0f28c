package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/ledgerlens/ledgerlens/internal/feedback"
	"github.com/ledgerlens/ledgerlens/internal/judge"
)

const insertRecordSQL = `
INSERT INTO feedback_record (record_id, record_version, recorded_at, natural_query, sql_query, outcome, correction, judgment)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8::jsonb)`

func TestAppendWritesRecordWithJudgment(t *testing.T) {
	db, mock := newSQLMock(t)
	log := NewLog(db)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(insertRecordSQL)).
		WithArgs("0b9c6f3e-8d1a-4c55-9c0e-2f7d3c1a9b10", 1, now, "show ledgers", "SELECT 1", "positive", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := log.Append(context.Background(), feedback.Record{
		Version:      1,
		ID:           "0b9c6f3e-8d1a-4c55-9c0e-2f7d3c1a9b10",
		Timestamp:    now,
		NaturalQuery: "show ledgers",
		SQLQuery:     "SELECT 1",
		Outcome:      feedback.OutcomePositive,
		Judgment:     &judge.Judgment{Success: true, Score: 0.9},
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestAppendPassesNullJudgment(t *testing.T) {
	db, mock := newSQLMock(t)
	log := NewLog(db)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta(insertRecordSQL)).
		WithArgs("id-1", 1, now, "sales", "SELECT 1", "corrected", "SELECT 2", nil).
		WillReturnError(errors.New("connection reset"))

	err := log.Append(context.Background(), feedback.Record{
		Version: 1, ID: "id-1", Timestamp: now, NaturalQuery: "sales", SQLQuery: "SELECT 1",
		Outcome: feedback.OutcomeCorrected, Correction: "SELECT 2",
	})
	if err == nil {
		t.Fatal("expected insert error")
	}
	assertSQLMock(t, mock)
}

func TestListDecodesRowsInOrder(t *testing.T) {
	db, mock := newSQLMock(t)
	log := NewLog(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM feedback_record
ORDER BY seq ASC`)).
		WillReturnRows(sqlmock.NewRows([]string{"record_id", "record_version", "recorded_at", "natural_query", "sql_query", "outcome", "correction", "judgment"}).
			AddRow("a", 1, now, "ledgers", "SELECT 1", "positive", "", []byte(`{"success":true,"score":0.6,"extra":"ignored"}`)).
			AddRow("b", 1, now, "sales", "SELECT 1", "corrected", "SELECT 2", nil))

	records, err := log.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d", len(records))
	}
	if records[0].Judgment == nil || records[0].Judgment.Score != 0.6 {
		t.Fatalf("judgment = %+v", records[0].Judgment)
	}
	if records[1].Outcome != feedback.OutcomeCorrected || records[1].Correction != "SELECT 2" || records[1].Judgment != nil {
		t.Fatalf("second record = %+v", records[1])
	}
	assertSQLMock(t, mock)
}

func TestRecordArchiveRun(t *testing.T) {
	db, mock := newSQLMock(t)
	log := NewLog(db)
	through := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta(`ON CONFLICT (object_key) DO NOTHING`)).
		WithArgs("feedback/date=2026-03-01/part-1-00002.parquet", 2, int64(512), through).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := log.RecordArchiveRun(context.Background(), ArchiveRun{
		ObjectKey:       "feedback/date=2026-03-01/part-1-00002.parquet",
		RecordsArchived: 2,
		BytesWritten:    512,
		ArchivedThrough: through,
	}); err != nil {
		t.Fatalf("RecordArchiveRun() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestLatestArchivedThrough(t *testing.T) {
	db, mock := newSQLMock(t)
	log := NewLog(db)
	through := time.Date(2026, 3, 1, 9, 0, 2, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT MAX(archived_through) FROM feedback_archive_run`)).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(through))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT MAX(archived_through) FROM feedback_archive_run`)).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))

	got, err := log.LatestArchivedThrough(context.Background())
	if err != nil || !got.Equal(through) {
		t.Fatalf("LatestArchivedThrough() = %v, %v", got, err)
	}
	got, err = log.LatestArchivedThrough(context.Background())
	if err != nil || !got.IsZero() {
		t.Fatalf("LatestArchivedThrough() with no runs = %v, %v", got, err)
	}
	assertSQLMock(t, mock)
}

func TestOpenRequiresDSN(t *testing.T) {
	if _, err := Open(context.Background(), DBConfig{}); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
