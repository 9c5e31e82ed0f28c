package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ledgerlens/ledgerlens/internal/auth"
	"github.com/ledgerlens/ledgerlens/internal/catalog"
	"github.com/ledgerlens/ledgerlens/internal/config"
	"github.com/ledgerlens/ledgerlens/internal/feedback"
	"github.com/ledgerlens/ledgerlens/internal/intent"
	"github.com/ledgerlens/ledgerlens/internal/nlparse"
	"github.com/ledgerlens/ledgerlens/internal/pipeline"
	"github.com/ledgerlens/ledgerlens/internal/query"
	"github.com/ledgerlens/ledgerlens/internal/safety"
	"github.com/ledgerlens/ledgerlens/internal/sqlbuild"
)

func newTestAssistant(t *testing.T, db *sql.DB) *pipeline.Service {
	t.Helper()
	store, err := feedback.NewStore(context.Background(), feedback.NewMemoryLog(), nil)
	if err != nil {
		t.Fatalf("feedback store: %v", err)
	}
	validator := safety.New(nil)
	svc, err := pipeline.New(pipeline.Options{
		Catalog:       catalog.NewRegistry(catalog.ERP()),
		Parser:        nlparse.New(nil, nlparse.Options{History: store}),
		Builder:       sqlbuild.New(sqlbuild.Options{Tenant: sqlbuild.TenantColumns{Enabled: true}}),
		Validator:     validator,
		Gateway:       query.NewGateway(db, validator, nil),
		Feedback:      store,
		DefaultTenant: &intent.Tenant{UserID: "default", CompanyName: "default"},
	})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	return svc
}

func seededDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := query.Open(context.Background(), query.DBConfig{Driver: "sqlite", DSN: ":memory:", MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	for _, stmt := range []string{
		`CREATE TABLE employee (employee_id INTEGER PRIMARY KEY, user_id TEXT, company_name TEXT, name TEXT, salary DECIMAL(15,2))`,
		`INSERT INTO employee VALUES (1, 'u1', 'Acme', 'Asha', 52000), (2, 'u2', 'Globex', 'Mina', 47000)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return db
}

func authedHandler(t *testing.T, db *sql.DB, keys string) http.Handler {
	t.Helper()
	cfg, err := config.Load("ledgerlens-api", mapLookup(map[string]string{"LEDGERLENS_AUTH_REQUIRED": "true"}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	validator, err := auth.NewStaticAPIKeyValidator(keys)
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}
	return NewHandler(cfg, Dependencies{
		AuthMiddleware: auth.Middleware(nil, validator),
		Assistant:      newTestAssistant(t, db),
	})
}

func postJSON(h http.Handler, path, key string, body any) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestTranslateBindsAuthenticatedTenant(t *testing.T) {
	h := authedHandler(t, nil, "k1:u1:Acme:query_reader")
	rr := postJSON(h, "/v1/translate", "k1", map[string]any{"query": "Show all employees"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	var body struct {
		SQL    string `json:"sql"`
		Params []any  `json:"params"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if !strings.Contains(body.SQL, "employee.company_name = ?") {
		t.Fatalf("sql = %q", body.SQL)
	}
	if len(body.Params) < 2 || body.Params[0] != "u1" || body.Params[1] != "Acme" {
		t.Fatalf("params = %v", body.Params)
	}
}

func TestTranslateRejectsUnknownFields(t *testing.T) {
	h := authedHandler(t, nil, "k1:u1:Acme:query_reader")
	rr := postJSON(h, "/v1/translate", "k1", map[string]any{"prompt": "employees"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
}

func TestTranslateEmptyQuery(t *testing.T) {
	h := authedHandler(t, nil, "k1:u1:Acme:query_reader")
	rr := postJSON(h, "/v1/translate", "k1", map[string]any{"query": ""})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
}

func TestValidateReportsRule(t *testing.T) {
	h := authedHandler(t, nil, "k1:u1:Acme:query_reader")
	rr := postJSON(h, "/v1/validate", "k1", map[string]any{"sql": "SELECT * FROM ledger; DROP TABLE ledger"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var verdict safety.Verdict
	if err := json.Unmarshal(rr.Body.Bytes(), &verdict); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if verdict.Safe || verdict.Rule != safety.RuleDenylistedKeyword {
		t.Fatalf("verdict = %+v", verdict)
	}
}

func TestExecuteRequiresWriterRole(t *testing.T) {
	h := authedHandler(t, seededDB(t), "r:u1:Acme:query_reader,w:u1:Acme:query_reader|query_writer")

	rr := postJSON(h, "/v1/execute", "r", map[string]any{"sql": "SELECT name FROM employee"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("reader status = %d", rr.Code)
	}

	rr = postJSON(h, "/v1/execute", "w", map[string]any{"sql": "SELECT name FROM employee WHERE salary > ?", "params": []any{50000}})
	if rr.Code != http.StatusOK {
		t.Fatalf("writer status = %d, body=%s", rr.Code, rr.Body.String())
	}
	var result query.Result
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if result.RowCount != 1 || result.Rows[0]["name"] != "Asha" {
		t.Fatalf("result = %+v", result)
	}
}

func TestExecuteUnsafeStatementIs422(t *testing.T) {
	h := authedHandler(t, seededDB(t), "w:u1:Acme:query_writer")
	rr := postJSON(h, "/v1/execute", "w", map[string]any{"sql": "DROP TABLE employee"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
}

func TestAskReturnsTenantRowsOnly(t *testing.T) {
	h := authedHandler(t, seededDB(t), "k1:u1:Acme:query_reader")
	rr := postJSON(h, "/v1/ask", "k1", map[string]any{"query": "Show all employees"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	var answer struct {
		Execution query.Result `json:"execution"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &answer); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if answer.Execution.RowCount != 1 || answer.Execution.Rows[0]["company_name"] != "Acme" {
		t.Fatalf("execution = %+v", answer.Execution)
	}
}

func TestFeedbackRoundTrip(t *testing.T) {
	h := authedHandler(t, nil, "k1:u1:Acme:query_reader,admin:u1:Acme:feedback_admin")

	rr := postJSON(h, "/v1/feedback", "k1", map[string]any{
		"natural_query": "show all employees",
		"sql_query":     "SELECT * FROM employee",
		"outcome":       "positive",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}

	rr = postJSON(h, "/v1/feedback", "k1", map[string]any{"natural_query": "x", "outcome": "maybe"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid outcome status = %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/feedback/stats", nil)
	req.Header.Set("X-API-Key", "k1")
	stats := httptest.NewRecorder()
	h.ServeHTTP(stats, req)
	if stats.Code != http.StatusOK {
		t.Fatalf("stats status = %d", stats.Code)
	}
	var body feedback.Stats
	if err := json.Unmarshal(stats.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if body.TotalRecords != 1 || body.Positive != 1 {
		t.Fatalf("stats = %+v", body)
	}

	if rr := postJSON(h, "/v1/feedback/rebuild", "k1", nil); rr.Code != http.StatusForbidden {
		t.Fatalf("reader rebuild status = %d", rr.Code)
	}
	if rr := postJSON(h, "/v1/feedback/rebuild", "admin", nil); rr.Code != http.StatusOK {
		t.Fatalf("admin rebuild status = %d, body=%s", rr.Code, rr.Body.String())
	}
}

func TestTenantHeadersWithoutAuth(t *testing.T) {
	cfg, err := config.Load("ledgerlens-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	h := NewHandler(cfg, Dependencies{Assistant: newTestAssistant(t, nil)})

	payload := strings.NewReader(`{"query":"Show all employees"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/translate", payload)
	req.Header.Set("X-User-ID", "u7")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("half identity status = %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/translate", strings.NewReader(`{"query":"Show all employees"}`))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"default"`) {
		t.Fatalf("default identity status = %d, body=%s", rr.Code, rr.Body.String())
	}
}
