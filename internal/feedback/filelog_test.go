package feedback

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ledgerlens/ledgerlens/internal/judge"
)

func TestFileLogAppendAndList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "feedback.jsonl")
	log, err := NewFileLog(path, nil)
	if err != nil {
		t.Fatalf("NewFileLog() error = %v", err)
	}

	empty, err := log.List(context.Background())
	if err != nil || len(empty) != 0 {
		t.Fatalf("List() on missing file = %v, %v", empty, err)
	}

	first := record(t, Input{NaturalQuery: "show ledgers", SQLQuery: "SELECT * FROM ledger", Outcome: OutcomePositive,
		Judgment: &judge.Judgment{Success: true, Score: 0.7, Suggestions: []string{"limit rows"}}})
	second := record(t, Input{NaturalQuery: "sales", SQLQuery: "SELECT 1", Outcome: OutcomeCorrected, Correction: "SELECT 2"})
	for _, r := range []Record{first, second} {
		if err := log.Append(context.Background(), r); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	got, err := log.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != first.ID || got[1].Correction != "SELECT 2" {
		t.Fatalf("records = %+v", got)
	}
	if got[0].Judgment == nil || got[0].Judgment.Score != 0.7 {
		t.Fatalf("judgment = %+v", got[0].Judgment)
	}
}

func TestFileLogSkipsMalformedAndToleratesUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedback.jsonl")
	content := `{"v":1,"id":"a","timestamp":"2026-03-01T10:00:00Z","natural_query":"ledgers","sql_query":"SELECT 1","outcome":"positive"}
not json at all
{"v":2,"id":"b","timestamp":"2026-03-01T10:01:00Z","natural_query":"sales","sql_query":"SELECT 2","outcome":"negative","session":"xyz"}
{"v":1,"id":"c","natural_query":"","outcome":"positive"}
{"v":1,"id":"d","natural_query":"x","outcome":"corrected"}
{"v":1,"id":"e","natural_query":"tor`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	log, err := NewFileLog(path, nil)
	if err != nil {
		t.Fatalf("NewFileLog() error = %v", err)
	}
	got, err := log.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("records = %+v", got)
	}
}

func TestFileLogConcurrentAppendsStayWhole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedback.jsonl")
	log, err := NewFileLog(path, nil)
	if err != nil {
		t.Fatalf("NewFileLog() error = %v", err)
	}

	const writers, perWriter = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				r, err := NewRecord(Input{
					NaturalQuery: fmt.Sprintf("writer %d query %d", w, i),
					SQLQuery:     "SELECT * FROM voucher WHERE voucher.narration LIKE ?",
					Outcome:      OutcomeNegative,
				}, time.Now())
				if err != nil {
					t.Errorf("NewRecord() error = %v", err)
					return
				}
				if err := log.Append(context.Background(), r); err != nil {
					t.Errorf("Append() error = %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	got, err := log.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != writers*perWriter {
		t.Fatalf("records = %d, want %d", len(got), writers*perWriter)
	}
}

func TestNewFileLogRequiresPath(t *testing.T) {
	if _, err := NewFileLog("", nil); err == nil {
		t.Fatal("expected path error")
	}
}

func TestFileLogSkipsOverlongLinesAndKeepsReading(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedback.jsonl")
	oversized := `{"v":1,"id":"big","natural_query":"q","sql_query":"` + strings.Repeat("x", MaxRecordBytes+10) + `","outcome":"positive"}`
	content := `{"v":1,"id":"a","timestamp":"2026-03-01T10:00:00Z","natural_query":"ledgers","sql_query":"SELECT 1","outcome":"positive"}` + "\n" +
		oversized + "\n" +
		`{"v":1,"id":"b","timestamp":"2026-03-01T10:01:00Z","natural_query":"sales","sql_query":"SELECT 2","outcome":"negative"}` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	log, err := NewFileLog(path, nil)
	if err != nil {
		t.Fatalf("NewFileLog() error = %v", err)
	}

	got, err := log.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("records = %+v", got)
	}
}

func TestFileLogRejectsRecordsItCouldNotReadBack(t *testing.T) {
	log, err := NewFileLog(filepath.Join(t.TempDir(), "feedback.jsonl"), nil)
	if err != nil {
		t.Fatalf("NewFileLog() error = %v", err)
	}
	// '<' is escaped to six bytes, so this fits a request body but not a line.
	huge := Record{Version: RecordVersion, ID: "x", NaturalQuery: "q", Outcome: OutcomePositive, SQLQuery: strings.Repeat("<", 200*1024)}
	if err := log.Append(context.Background(), huge); !errors.Is(err, ErrRecordTooLarge) {
		t.Fatalf("Append() error = %v, want ErrRecordTooLarge", err)
	}
}

func TestStoreSurvivesOversizedFeedback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedback.jsonl")
	log, err := NewFileLog(path, nil)
	if err != nil {
		t.Fatalf("NewFileLog() error = %v", err)
	}
	store, err := NewStore(context.Background(), log, nil)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if _, err := store.Record(context.Background(), Input{NaturalQuery: "show ledgers", SQLQuery: "SELECT 1", Outcome: OutcomePositive}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	_, err = store.Record(context.Background(), Input{NaturalQuery: "show ledgers", SQLQuery: strings.Repeat("<", 200*1024), Outcome: OutcomeNegative})
	if !errors.Is(err, ErrRecordTooLarge) {
		t.Fatalf("Record() error = %v, want ErrRecordTooLarge", err)
	}

	if n, err := store.Rebuild(context.Background()); err != nil || n != 1 {
		t.Fatalf("Rebuild() = %d, %v", n, err)
	}
	reopened, err := NewStore(context.Background(), log, nil)
	if err != nil {
		t.Fatalf("NewStore() after restart error = %v", err)
	}
	if stats := reopened.Stats(); stats.Positive != 1 {
		t.Fatalf("Positive = %d, want 1", stats.Positive)
	}
}
