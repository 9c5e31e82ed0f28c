package deployments

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"testing"
)

func TestGrafanaDashboardJSONIsValid(t *testing.T) {
	root := repoRoot(t)
	path := filepath.Join(root, "deployments", "observability", "grafana", "ledgerlens_dashboard.json")

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read dashboard file: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(content, &decoded); err != nil {
		t.Fatalf("dashboard JSON parse error: %v", err)
	}

	title, _ := decoded["title"].(string)
	if strings.TrimSpace(title) == "" {
		t.Fatal("dashboard title is required")
	}
	panels, ok := decoded["panels"].([]any)
	if !ok || len(panels) == 0 {
		t.Fatal("dashboard must include at least one panel")
	}
}

func TestPrometheusRulesContainExpectedAlerts(t *testing.T) {
	text := readAsset(t, "prometheus", "ledgerlens_rules.yaml")

	requiredAlerts := []string{
		"LedgerLensTranslationFailureRatioHigh",
		"LedgerLensSafetyRejectionsSpike",
		"LedgerLensExecutionLatencyP95High",
		"LedgerLensExecutionErrorsHigh",
		"LedgerLensJudgeUnavailable",
		"LedgerLensArchiveFailing",
	}
	for _, alertName := range requiredAlerts {
		if !strings.Contains(text, "alert: "+alertName) {
			t.Fatalf("rules missing alert %q", alertName)
		}
	}
}

// Every recorded series an alert uses must be produced by the recording rules.
func TestAlertsOnlyReferenceRecordedSeries(t *testing.T) {
	alerts := readAsset(t, "prometheus", "ledgerlens_rules.yaml")
	records := readAsset(t, "prometheus", "ledgerlens_recording_rules.yaml")

	series := regexp.MustCompile(`ledgerlens:[a-z0-9_]+`).FindAllString(alerts, -1)
	if len(series) == 0 {
		t.Fatal("alerts reference no recorded series")
	}
	for _, name := range series {
		if !strings.Contains(records, "record: "+name) {
			t.Fatalf("alert references %q which is never recorded", name)
		}
	}
}

func TestPrometheusScrapeExampleContainsMetricsPathAndRules(t *testing.T) {
	text := readAsset(t, "prometheus", "prometheus-scrape.example.yaml")

	for _, token := range []string{
		"metrics_path: /v1/metrics",
		"ledgerlens_rules.yaml",
		"ledgerlens_recording_rules.yaml",
		"job_name: ledgerlens-api",
	} {
		if !strings.Contains(text, token) {
			t.Fatalf("scrape example missing %q", token)
		}
	}
}

func readAsset(t *testing.T, parts ...string) string {
	t.Helper()
	path := filepath.Join(append([]string{repoRoot(t), "deployments", "observability"}, parts...)...)
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(content)
}

func repoRoot(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(filename), ".."))
}
