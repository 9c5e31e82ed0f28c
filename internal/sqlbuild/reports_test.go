package sqlbuild

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ledgerlens/ledgerlens/internal/catalog"
)

func TestBuildReportTrialBalance(t *testing.T) {
	art, ok := tenantBuilder().BuildReport(catalog.ERP(), "Show me the trial balance", acme)
	if !ok {
		t.Fatal("BuildReport() ok = false")
	}
	want := "SELECT group_name, SUM(opening_balance) AS total_opening_balance, SUM(closing_balance) AS total_closing_balance " +
		"FROM ledger WHERE ledger.user_id = ? AND ledger.company_name = ? GROUP BY group_name ORDER BY group_name"
	if art.SQL != want {
		t.Fatalf("SQL = %q, want %q", art.SQL, want)
	}
	if diff := cmp.Diff([]any{"u1", "Acme"}, art.Params); diff != "" {
		t.Fatalf("Params mismatch (-want +got):\n%s", diff)
	}
	if art.Report != "trial_balance" || art.Confidence != reportConfidence {
		t.Fatalf("artifact = %+v", art)
	}
}

func TestBuildReportPayrollCountsDistinctEmployees(t *testing.T) {
	art, ok := plainBuilder().BuildReport(catalog.ERP(), "payroll summary please", nil)
	if !ok {
		t.Fatal("BuildReport() ok = false")
	}
	want := "SELECT pay_period, COUNT(DISTINCT employee_id) AS employee_count, SUM(basic) AS total_basic, SUM(net_pay) AS total_net_pay " +
		"FROM payroll GROUP BY pay_period ORDER BY pay_period"
	if art.SQL != want {
		t.Fatalf("SQL = %q, want %q", art.SQL, want)
	}
	if len(art.Params) != 0 {
		t.Fatalf("Params = %v", art.Params)
	}
}

func TestBuildReportSkipsMissingTables(t *testing.T) {
	cat, err := catalog.New("small", []catalog.Table{{
		Name:    "item",
		Columns: []catalog.Column{{Name: "item_id", Type: "INTEGER", PrimaryKey: true}},
	}}, nil)
	if err != nil {
		t.Fatalf("catalog.New() error = %v", err)
	}
	if _, ok := plainBuilder().BuildReport(cat, "trial balance", nil); ok {
		t.Fatal("BuildReport() ok = true for catalog without ledger")
	}
	if _, ok := plainBuilder().BuildReport(catalog.ERP(), "list all ledgers", nil); ok {
		t.Fatal("BuildReport() ok = true for a non-report request")
	}
}

func TestBuildReportRequiresTenantUnderTenantMode(t *testing.T) {
	art, ok := tenantBuilder().BuildReport(catalog.ERP(), "GST report", nil)
	if !ok {
		t.Fatal("BuildReport() ok = false")
	}
	if art.Error == "" || art.SQL != "" {
		t.Fatalf("artifact = %+v, want failure", art)
	}
}

func TestReportsListsTemplates(t *testing.T) {
	want := []string{"trial_balance", "stock_summary", "payroll_summary", "tax_summary"}
	if diff := cmp.Diff(want, Reports()); diff != "" {
		t.Fatalf("Reports() mismatch (-want +got):\n%s", diff)
	}
}
