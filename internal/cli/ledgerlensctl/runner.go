// Package ledgerlensctl is the operator client for a running ledgerlens-api.
package ledgerlensctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Options struct {
	BaseURL     string
	APIKey      string
	UserID      string
	CompanyName string
	Timeout     time.Duration
	HTTPClient  *http.Client
	Stdout      io.Writer
	Stderr      io.Writer
}

type command struct {
	method string
	path   string
	// body builds the request payload from the remaining arguments. nil
	// commands take no arguments.
	body func(args []string, f *commandFlags) (any, error)
}

type commandFlags struct {
	sql        string
	correction string
	judge      bool
}

var commands = map[string]command{
	"health":           {method: http.MethodGet, path: "/v1/health"},
	"ready":            {method: http.MethodGet, path: "/v1/ready"},
	"schema":           {method: http.MethodGet, path: "/v1/schema"},
	"feedback-stats":   {method: http.MethodGet, path: "/v1/feedback/stats"},
	"feedback-rebuild": {method: http.MethodPost, path: "/v1/feedback/rebuild"},
	"archive-run":      {method: http.MethodPost, path: "/v1/maintenance/archive"},
	"retention-run":    {method: http.MethodPost, path: "/v1/maintenance/retention"},
	"translate": {method: http.MethodPost, path: "/v1/translate", body: func(args []string, _ *commandFlags) (any, error) {
		text, err := joinedText(args, "query text")
		return map[string]any{"query": text}, err
	}},
	"ask": {method: http.MethodPost, path: "/v1/ask", body: func(args []string, f *commandFlags) (any, error) {
		text, err := joinedText(args, "query text")
		return map[string]any{"query": text, "judge": f.judge}, err
	}},
	"validate": {method: http.MethodPost, path: "/v1/validate", body: func(args []string, _ *commandFlags) (any, error) {
		text, err := joinedText(args, "sql")
		return map[string]any{"sql": text}, err
	}},
	"execute": {method: http.MethodPost, path: "/v1/execute", body: func(args []string, f *commandFlags) (any, error) {
		text, err := joinedText(args, "sql")
		return map[string]any{"sql": text, "judge": f.judge}, err
	}},
	"feedback": {method: http.MethodPost, path: "/v1/feedback", body: feedbackBody},
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("ledgerlensctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "ledgerlens API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	userID := fs.String("user-id", defaults.UserID, "X-User-ID header (used when auth is disabled)")
	company := fs.String("company", defaults.CompanyName, "X-Company-Name header (used when auth is disabled)")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 30*time.Second), "HTTP timeout (e.g. 10s)")
	var flags commandFlags
	fs.StringVar(&flags.sql, "sql", "", "statement the feedback refers to")
	fs.StringVar(&flags.correction, "correction", "", "corrected SQL for corrected feedback")
	fs.BoolVar(&flags.judge, "judge", false, "request a quality judgment (ask, execute)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	name := strings.TrimSpace(fs.Arg(0))
	cmd, ok := commands[name]
	if !ok {
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", name)
		writeUsage(stderr)
		return 2
	}

	var payload any
	if cmd.body != nil {
		body, err := cmd.body(fs.Args()[1:], &flags)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "%s: %v\n", name, err)
			return 2
		}
		payload = body
	} else if fs.NArg() > 1 {
		_, _ = fmt.Fprintf(stderr, "%s takes no arguments\n", name)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	endpoint := strings.TrimRight(*baseURL, "/") + cmd.path
	code, responseBody, err := doRequest(ctx, client, cmd.method, endpoint, payload, requestHeaders{
		apiKey:  *apiKey,
		userID:  *userID,
		company: *company,
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

// feedbackBody reads "<outcome> <natural query...>" plus the -sql and
// -correction flags.
func feedbackBody(args []string, f *commandFlags) (any, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("usage: feedback <positive|negative|corrected> <natural query>")
	}
	payload := map[string]any{
		"outcome":       args[0],
		"natural_query": strings.Join(args[1:], " "),
		"sql_query":     f.sql,
	}
	if f.correction != "" {
		payload["correction"] = f.correction
	}
	return payload, nil
}

func joinedText(args []string, what string) (string, error) {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return "", fmt.Errorf("%s is required", what)
	}
	return text, nil
}

type requestHeaders struct {
	apiKey  string
	userID  string
	company string
}

func doRequest(ctx context.Context, client *http.Client, method, url string, payload any, headers requestHeaders) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := strings.TrimSpace(headers.apiKey); key != "" {
		req.Header.Set("X-API-Key", key)
	}
	if user := strings.TrimSpace(headers.userID); user != "" {
		req.Header.Set("X-User-ID", user)
	}
	if company := strings.TrimSpace(headers.company); company != "" {
		req.Header.Set("X-Company-Name", company)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: ledgerlensctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                    GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                     GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  schema                    GET /v1/schema")
	_, _ = fmt.Fprintln(w, "  translate <text>          POST /v1/translate")
	_, _ = fmt.Fprintln(w, "  ask <text>                POST /v1/ask")
	_, _ = fmt.Fprintln(w, "  validate <sql>            POST /v1/validate")
	_, _ = fmt.Fprintln(w, "  execute <sql>             POST /v1/execute")
	_, _ = fmt.Fprintln(w, "  feedback <outcome> <text> POST /v1/feedback")
	_, _ = fmt.Fprintln(w, "  feedback-stats            GET /v1/feedback/stats")
	_, _ = fmt.Fprintln(w, "  feedback-rebuild          POST /v1/feedback/rebuild")
	_, _ = fmt.Fprintln(w, "  archive-run               POST /v1/maintenance/archive")
	_, _ = fmt.Fprintln(w, "  retention-run             POST /v1/maintenance/retention")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
