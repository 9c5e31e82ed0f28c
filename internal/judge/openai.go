package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxCompletionBytes  = 1 << 20
	maxFallbackFeedback = 500
)

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

type OpenAIJudge struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	client      *http.Client
}

func NewOpenAIJudge(cfg OpenAIConfig) (*OpenAIJudge, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &OpenAIJudge{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

func (j *OpenAIJudge) Judge(ctx context.Context, req Request) (Judgment, error) {
	body, err := json.Marshal(buildJudgePayload(j.model, j.temperature, req))
	if err != nil {
		return Judgment{}, fmt.Errorf("marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, j.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Judgment{}, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+j.apiKey)

	resp, err := j.client.Do(httpReq)
	if err != nil {
		return Judgment{}, fmt.Errorf("request chat completion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return Judgment{}, fmt.Errorf("judge endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var completion struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxCompletionBytes)).Decode(&completion); err != nil {
		return Judgment{}, fmt.Errorf("decode chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return Judgment{}, fmt.Errorf("chat completion has no choices")
	}

	judgment := parseJudgment(completion.Choices[0].Message.Content)
	judgment.Model = j.model
	return judgment, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

func buildJudgePayload(model string, temperature float64, req Request) chatRequest {
	systemPrompt := "You evaluate automatically generated SQL for an ERP database. " +
		"Always respond with a single JSON object and nothing else."

	execution := ""
	if req.Execution != nil {
		if req.Execution.Success {
			execution = fmt.Sprintf("\nExecution result: SUCCESS, %d rows returned.", req.Execution.RowCount)
		} else {
			execution = fmt.Sprintf("\nExecution result: FAILED, error: %s", req.Execution.Error)
		}
	}
	userPrompt := fmt.Sprintf(
		"Natural language request:\n%s\n\nGenerated SQL:\n%s\n\nSchema summary:\n%s%s\n\n"+
			"Score correctness, completeness, security (parameter binding and user/company filters), efficiency and ERP compliance.\n"+
			"Respond as JSON with keys: score, correctness, completeness, security, efficiency, compliance (floats 0..1), "+
			"feedback (string), suggestions, missing_elements, security_issues (string arrays), alternative_sql (string).",
		strings.TrimSpace(req.NaturalQuery),
		strings.TrimSpace(req.GeneratedSQL),
		strings.TrimSpace(req.SchemaSummary),
		execution,
	)

	return chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: temperature,
	}
}

var (
	jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)
	scorePattern      = regexp.MustCompile(`(?i)score["\s:]*([0-9]*\.?[0-9]+)`)
)

type judgmentPayload struct {
	Score           *float64 `json:"score"`
	Correctness     *float64 `json:"correctness"`
	Completeness    *float64 `json:"completeness"`
	Security        *float64 `json:"security"`
	Efficiency      *float64 `json:"efficiency"`
	Compliance      *float64 `json:"compliance"`
	Feedback        string   `json:"feedback"`
	Suggestions     []string `json:"suggestions"`
	MissingElements []string `json:"missing_elements"`
	SecurityIssues  []string `json:"security_issues"`
	AlternativeSQL  string   `json:"alternative_sql"`
}

// parseJudgment reads the first JSON object in content. Without one it
// falls back to the first "score" number and the leading text as feedback.
func parseJudgment(content string) Judgment {
	var payload judgmentPayload
	if raw := jsonObjectPattern.FindString(content); raw == "" || json.Unmarshal([]byte(raw), &payload) != nil {
		return fallbackJudgment(content)
	}

	feedback := strings.TrimSpace(payload.Feedback)
	if feedback == "" {
		feedback = "No feedback provided"
	}
	return Judgment{
		Success:         true,
		Score:           unitOrNeutral(payload.Score),
		Correctness:     unitOrNeutral(payload.Correctness),
		Completeness:    unitOrNeutral(payload.Completeness),
		Security:        unitOrNeutral(payload.Security),
		Efficiency:      unitOrNeutral(payload.Efficiency),
		Compliance:      unitOrNeutral(payload.Compliance),
		Feedback:        feedback,
		Suggestions:     nonNil(payload.Suggestions),
		MissingElements: nonNil(payload.MissingElements),
		SecurityIssues:  nonNil(payload.SecurityIssues),
		AlternativeSQL:  stripMarkdownSQL(payload.AlternativeSQL),
	}
}

func fallbackJudgment(content string) Judgment {
	score := NeutralScore
	if m := scorePattern.FindStringSubmatch(content); m != nil {
		if parsed, err := strconv.ParseFloat(m[1], 64); err == nil {
			score = clampUnit(parsed)
		}
	}
	feedback := truncateRunes(strings.TrimSpace(content), maxFallbackFeedback)
	return Judgment{
		Success:         true,
		Score:           score,
		Correctness:     NeutralScore,
		Completeness:    NeutralScore,
		Security:        NeutralScore,
		Efficiency:      NeutralScore,
		Compliance:      NeutralScore,
		Feedback:        feedback,
		Suggestions:     []string{},
		MissingElements: []string{},
		SecurityIssues:  []string{},
	}
}

// truncateRunes cuts s to at most n bytes without splitting a rune.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func unitOrNeutral(value *float64) float64 {
	if value == nil {
		return NeutralScore
	}
	return clampUnit(*value)
}

func clampUnit(value float64) float64 {
	switch {
	case value < 0:
		return 0
	case value > 1:
		return 1
	default:
		return value
	}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func stripMarkdownSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
