package migrations

import (
	"strings"
	"testing"
)

func TestFeedbackMigrationDefinesRecordTable(t *testing.T) {
	body, err := embeddedFS.ReadFile("sql/000001_feedback.up.sql")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	sql := string(body)
	for _, snippet := range []string{
		"CREATE TABLE feedback_record",
		"record_id UUID PRIMARY KEY",
		"judgment JSONB",
		"CHECK (outcome IN ('positive', 'negative', 'corrected'))",
		"CREATE INDEX feedback_record_recorded_at_idx",
	} {
		if !strings.Contains(sql, snippet) {
			t.Fatalf("feedback migration missing %q", snippet)
		}
	}
}

func TestEmbeddedMigrationsLoad(t *testing.T) {
	items, err := loadMigrations(embeddedFS)
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(items) != 2 || items[0].Version != 1 || items[1].Version != 2 {
		t.Fatalf("migrations = %+v", items)
	}
}
