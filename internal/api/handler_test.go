package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ledgerlens/ledgerlens/internal/auth"
	"github.com/ledgerlens/ledgerlens/internal/config"
)

func newTestHandler(t *testing.T, env map[string]string, deps Dependencies) http.Handler {
	t.Helper()
	cfg, err := config.Load("ledgerlens-api", mapLookup(env))
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	return NewHandler(cfg, deps)
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return body
}

func TestHealthAndReadinessEndpoints(t *testing.T) {
	failing := func(context.Context) error { return errors.New("feedback database down") }
	tests := []struct {
		name      string
		path      string
		readiness ReadinessCheck
		status    int
		field     string
		want      any
	}{
		{name: "health", path: "/v1/health", status: http.StatusOK, field: "service", want: "ledgerlens-api"},
		{name: "ready without checks", path: "/v1/ready", status: http.StatusOK, field: "status", want: "ready"},
		{name: "ready with failing check", path: "/v1/ready", readiness: failing, status: http.StatusServiceUnavailable, field: "error_code", want: "NOT_READY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, nil, Dependencies{Readiness: tt.readiness})
			rr := serve(h, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d", rr.Code, tt.status)
			}
			if got := decodeBody(t, rr)[tt.field]; got != tt.want {
				t.Fatalf("%s = %v, want %v", tt.field, got, tt.want)
			}
		})
	}
}

func TestSchemaRouteHonoursAPIKeys(t *testing.T) {
	validator, err := auth.NewStaticAPIKeyValidator("k1:u1:Acme:query_reader")
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator() error = %v", err)
	}
	h := newTestHandler(t, map[string]string{"LEDGERLENS_AUTH_REQUIRED": "true"}, Dependencies{
		AuthMiddleware: auth.Middleware(nil, validator),
		Assistant:      newTestAssistant(t, nil),
	})

	if rr := serve(h, httptest.NewRequest(http.MethodGet, "/v1/schema", nil)); rr.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/schema", nil)
	req.Header.Set("Authorization", "Bearer k1")
	rr := serve(h, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("keyed status = %d body=%s", rr.Code, rr.Body.String())
	}
	if len(decodeBody(t, rr)) == 0 {
		t.Fatal("empty schema description")
	}
}

func TestProtectedRoutesFailClosed(t *testing.T) {
	tests := []struct {
		name   string
		env    map[string]string
		deps   Dependencies
		path   string
		status int
		code   string
	}{
		{
			name:   "auth required without middleware",
			env:    map[string]string{"LEDGERLENS_AUTH_REQUIRED": "true"},
			deps:   Dependencies{Assistant: newTestAssistant(t, nil)},
			path:   "/v1/schema",
			status: http.StatusInternalServerError,
			code:   "AUTH_MIDDLEWARE_MISSING",
		},
		{
			name:   "no pipeline wired",
			path:   "/v1/feedback/stats",
			status: http.StatusNotImplemented,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, tt.env, tt.deps)
			rr := serve(h, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d", rr.Code, tt.status)
			}
			if tt.code != "" && decodeBody(t, rr)["error_code"] != tt.code {
				t.Fatalf("body = %s, want code %s", rr.Body.String(), tt.code)
			}
		})
	}
}

func TestCombineReadinessChecksStopsOnFirstFailure(t *testing.T) {
	var ran []string
	step := func(name string, err error) ReadinessCheck {
		return func(context.Context) error {
			ran = append(ran, name)
			return err
		}
	}
	combined := CombineReadinessChecks(step("database", nil), nil, step("archive", errors.New("bucket missing")), step("catalog", nil))

	if err := combined(context.Background()); err == nil || err.Error() != "bucket missing" {
		t.Fatalf("combined() error = %v", err)
	}
	if diff := cmp.Diff([]string{"database", "archive"}, ran); diff != "" {
		t.Fatalf("checks run (-want +got):\n%s", diff)
	}
}

func TestCheckObjectStoreConfigOnlyAppliesWhenArchiving(t *testing.T) {
	cfg, err := config.Load("ledgerlens-api", mapLookup(nil))
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	cfg.ObjectStore.Bucket = ""
	if err := CheckObjectStoreConfig(cfg)(context.Background()); err != nil {
		t.Fatalf("archive disabled: err = %v", err)
	}
	cfg.Archive.Enabled = true
	if err := CheckObjectStoreConfig(cfg)(context.Background()); err == nil {
		t.Fatal("expected missing bucket error")
	}
}

func TestCheckDatabaseWithoutConnection(t *testing.T) {
	if err := CheckDatabase(nil)(context.Background()); err == nil {
		t.Fatal("expected error for a missing database")
	}
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
