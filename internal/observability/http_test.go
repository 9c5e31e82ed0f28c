package observability

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTraceMiddlewarePreservesIncomingTraceID(t *testing.T) {
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := TraceIDFromContext(r.Context()); got != "trace-1" {
			t.Fatalf("TraceIDFromContext() = %q", got)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set(traceHeader, "trace-1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get(traceHeader); got != "trace-1" {
		t.Fatalf("trace header = %q", got)
	}
}

func TestTraceMiddlewareGeneratesTraceID(t *testing.T) {
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if TraceIDFromContext(r.Context()) == "" {
			t.Fatal("expected generated trace id")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rr.Header().Get(traceHeader) == "" {
		t.Fatal("expected X-Trace-ID header")
	}
}

func TestTraceIDContextHelpers(t *testing.T) {
	ctx := ContextWithTraceID(context.Background(), "abc123")
	if got := TraceIDFromContext(ctx); got != "abc123" {
		t.Fatalf("TraceIDFromContext() = %q", got)
	}
}

func TestLoggingMiddlewareDoesNotPanic(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	h := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
}

func TestRouteLabelUsesPattern(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/translate", nil)
	if got := routeLabel(req); got != unmatchedRoute {
		t.Fatalf("routeLabel() = %q, want %q", got, unmatchedRoute)
	}
	req.Pattern = "POST /v1/translate"
	if got := routeLabel(req); got != "POST /v1/translate" {
		t.Fatalf("routeLabel() = %q", got)
	}
}

func TestTraceMiddlewareReplacesMalformedTraceID(t *testing.T) {
	var seen string
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set(traceHeader, "bad id\nwith newline")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen == "" || seen == req.Header.Get(traceHeader) {
		t.Fatalf("trace id = %q, want a fresh id", seen)
	}
}

func TestStatusRecorderKeepsFirstStatus(t *testing.T) {
	rr := httptest.NewRecorder()
	recorder := newStatusRecorder(rr)
	recorder.WriteHeader(http.StatusUnprocessableEntity)
	recorder.WriteHeader(http.StatusOK)
	if _, err := recorder.Write([]byte("{}")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if recorder.status != http.StatusUnprocessableEntity || recorder.bytes != 2 {
		t.Fatalf("recorder = %+v", recorder)
	}
	if recorder.Unwrap() != rr {
		t.Fatal("Unwrap() did not return the wrapped writer")
	}
}

func TestLoggingMiddlewareRecordsRoute(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/ask", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	LoggingMiddleware(logger)(mux).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/ask", nil))

	line := buf.String()
	for _, want := range []string{`"route":"POST /v1/ask"`, `"status":502`, `"level":"WARN"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("log line %s missing %s", line, want)
		}
	}
}

func TestComponentLoggerToleratesNil(t *testing.T) {
	Component(nil, "parser").Info("discarded")
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	Component(logger, "gateway").Info("ok")
}
