// Package pipeline wires the translation, validation, execution and feedback
// components into the request flows served by the API and the CLIs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ledgerlens/ledgerlens/internal/catalog"
	"github.com/ledgerlens/ledgerlens/internal/feedback"
	"github.com/ledgerlens/ledgerlens/internal/intent"
	"github.com/ledgerlens/ledgerlens/internal/judge"
	"github.com/ledgerlens/ledgerlens/internal/nlparse"
	"github.com/ledgerlens/ledgerlens/internal/observability"
	"github.com/ledgerlens/ledgerlens/internal/query"
	"github.com/ledgerlens/ledgerlens/internal/safety"
	"github.com/ledgerlens/ledgerlens/internal/sqlbuild"
)

const (
	defaultJudgeTimeout = 10 * time.Second
	schemaSummaryWidth  = 5
)

var (
	ErrFeedbackDisabled = errors.New("feedback store is not configured")
	ErrEmptyQuery       = errors.New("query text is required")
)

// CatalogSource hands out the current catalog snapshot. *catalog.Registry
// satisfies it.
type CatalogSource interface {
	Current() *catalog.Catalog
}

type Options struct {
	Catalog   CatalogSource
	Parser    *nlparse.Parser
	Builder   *sqlbuild.Builder
	Validator *safety.Validator
	Gateway   *query.Gateway
	// Feedback and Judge are optional.
	Feedback      *feedback.Store
	Judge         judge.Judge
	JudgeTimeout  time.Duration
	DefaultTenant *intent.Tenant
	AutoFeedback  bool
	Logger        *slog.Logger
}

type Service struct {
	catalog       CatalogSource
	parser        *nlparse.Parser
	builder       *sqlbuild.Builder
	validator     *safety.Validator
	gateway       *query.Gateway
	feedback      *feedback.Store
	judge         judge.Judge
	judgeTimeout  time.Duration
	defaultTenant *intent.Tenant
	autoFeedback  bool
	logger        *slog.Logger
}

func New(opts Options) (*Service, error) {
	if opts.Catalog == nil {
		return nil, fmt.Errorf("catalog source is required")
	}
	if opts.Parser == nil {
		return nil, fmt.Errorf("parser is required")
	}
	if opts.Builder == nil {
		return nil, fmt.Errorf("sql builder is required")
	}
	if opts.Validator == nil {
		opts.Validator = safety.New(opts.Logger)
	}
	if opts.Gateway == nil {
		opts.Gateway = query.NewGateway(nil, opts.Validator, opts.Logger)
	}
	if opts.JudgeTimeout <= 0 {
		opts.JudgeTimeout = defaultJudgeTimeout
	}
	return &Service{
		catalog:       opts.Catalog,
		parser:        opts.Parser,
		builder:       opts.Builder,
		validator:     opts.Validator,
		gateway:       opts.Gateway,
		feedback:      opts.Feedback,
		judge:         opts.Judge,
		judgeTimeout:  opts.JudgeTimeout,
		defaultTenant: opts.DefaultTenant,
		autoFeedback:  opts.AutoFeedback,
		logger:        observability.Component(opts.Logger, "pipeline"),
	}, nil
}

func (s *Service) Catalog() *catalog.Catalog {
	return s.catalog.Current()
}

func (s *Service) FeedbackEnabled() bool {
	return s.feedback != nil
}

func (s *Service) JudgeEnabled() bool {
	return s.judge != nil
}

// tenantFor falls back to the configured identity in single-tenant setups.
func (s *Service) tenantFor(tenant *intent.Tenant) *intent.Tenant {
	if tenant != nil && (tenant.UserID != "" || tenant.CompanyName != "") {
		copied := *tenant
		return &copied
	}
	if s.defaultTenant != nil {
		copied := *s.defaultTenant
		return &copied
	}
	return nil
}

type TranslateRequest struct {
	Query  string         `json:"query"`
	Tenant *intent.Tenant `json:"-"`
}

type Translation struct {
	sqlbuild.Artifact
	Query              string                `json:"query"`
	Action             string                `json:"action,omitempty"`
	Tables             []string              `json:"tables,omitempty"`
	Verdict            *safety.Verdict       `json:"verdict,omitempty"`
	SimilarCorrections []feedback.Correction `json:"similar_corrections,omitempty"`
	Insights           *feedback.Insights    `json:"insights,omitempty"`
}

// Translate renders one request against a single catalog snapshot. Built-in
// reports win over the general parser.
func (s *Service) Translate(_ context.Context, req TranslateRequest) (Translation, error) {
	text := strings.TrimSpace(req.Query)
	if text == "" {
		return Translation{}, ErrEmptyQuery
	}
	cat := s.catalog.Current()
	tenant := s.tenantFor(req.Tenant)

	out := Translation{Query: text}
	if art, ok := s.builder.BuildReport(cat, text, tenant); ok {
		out.Artifact = art
		out.Action = string(intent.ActionSelect)
	} else {
		q := s.parser.Parse(cat, text, tenant)
		out.Artifact = s.builder.Build(cat, q)
		out.Action = q.Kind()
		out.Tables = q.Tables
	}

	outcome := "failed"
	if out.OK() {
		outcome = "built"
		verdict := s.validator.Validate(out.SQL)
		out.Verdict = &verdict
		if !verdict.Safe {
			outcome = "unsafe"
		}
	}
	observability.ObserveTranslation(out.Action, outcome, out.Confidence)

	if s.feedback != nil {
		out.SimilarCorrections = s.feedback.SimilarCorrections(text)
		insights := s.feedback.Insights(text)
		out.Insights = &insights
	}
	s.logger.Debug("request translated", "action", out.Action, "outcome", outcome, "confidence", out.Confidence)
	return out, nil
}

type ExecuteRequest struct {
	SQL          string `json:"sql"`
	Params       []any  `json:"params"`
	NaturalQuery string `json:"natural_query,omitempty"`
	// Judge asks the quality judge for an advisory score alongside execution.
	Judge          bool `json:"judge,omitempty"`
	AllowMutations bool `json:"-"`
}

type Execution struct {
	query.Result
	Judgment *judge.Judgment `json:"judgment,omitempty"`
}

const mutationsForbidden = "mutations are not permitted for this caller"

// Execute runs a statement through the safety gate. A requested judgment
// runs concurrently under its own timeout and never affects the result.
func (s *Service) Execute(ctx context.Context, req ExecuteRequest) Execution {
	judgments := s.startJudge(ctx, req)

	var result query.Result
	if !req.AllowMutations && query.Classify(strings.TrimSpace(req.SQL)) == query.KindMutation {
		verdict := s.validator.Validate(req.SQL)
		if verdict.Safe {
			result = query.Result{Kind: query.KindMutation, Error: mutationsForbidden}
		} else {
			result = query.Result{Error: "unsafe statement: " + verdict.Reason, Verdict: &verdict}
		}
	} else {
		result = s.gateway.Execute(ctx, query.Request{SQL: req.SQL, Params: req.Params})
	}

	out := Execution{Result: result}
	if judgments != nil {
		j := <-judgments
		out.Judgment = &j
	}
	return out
}

func (s *Service) startJudge(ctx context.Context, req ExecuteRequest) <-chan judge.Judgment {
	if !req.Judge || s.judge == nil {
		return nil
	}
	summary := ""
	if cat := s.catalog.Current(); cat != nil {
		summary = cat.Summary(schemaSummaryWidth)
	}
	out := make(chan judge.Judgment, 1)
	go func() {
		jctx, cancel := context.WithTimeout(ctx, s.judgeTimeout)
		defer cancel()
		j, err := s.judge.Judge(jctx, judge.Request{
			NaturalQuery:  req.NaturalQuery,
			GeneratedSQL:  req.SQL,
			SchemaSummary: summary,
		})
		if err != nil {
			outcome := "failed"
			if errors.Is(err, context.DeadlineExceeded) {
				outcome = "timeout"
			}
			observability.IncrementJudgeOutcome(outcome)
			s.logger.Warn("quality judgment unavailable", "error", err)
			out <- judge.Unavailable(err)
			return
		}
		observability.IncrementJudgeOutcome("succeeded")
		out <- j
	}()
	return out
}

type AskRequest struct {
	Query          string         `json:"query"`
	Judge          bool           `json:"judge,omitempty"`
	Tenant         *intent.Tenant `json:"-"`
	AllowMutations bool           `json:"-"`
}

type Answer struct {
	Translation Translation      `json:"translation"`
	Execution   *Execution       `json:"execution,omitempty"`
	Feedback    *feedback.Record `json:"feedback,omitempty"`
}

// Ask translates and, when the statement was built, executes it. With auto
// feedback enabled the outcome is logged as positive or negative.
func (s *Service) Ask(ctx context.Context, req AskRequest) (Answer, error) {
	translation, err := s.Translate(ctx, TranslateRequest{Query: req.Query, Tenant: req.Tenant})
	if err != nil {
		return Answer{}, err
	}
	answer := Answer{Translation: translation}
	if !translation.OK() {
		return answer, nil
	}

	execution := s.Execute(ctx, ExecuteRequest{
		SQL:            translation.SQL,
		Params:         translation.Params,
		NaturalQuery:   translation.Query,
		Judge:          req.Judge,
		AllowMutations: req.AllowMutations,
	})
	answer.Execution = &execution

	if s.autoFeedback && s.feedback != nil {
		outcome := feedback.OutcomeNegative
		if execution.Success {
			outcome = feedback.OutcomePositive
		}
		record, err := s.feedback.Record(ctx, feedback.Input{
			NaturalQuery: translation.Query,
			SQLQuery:     translation.SQL,
			Outcome:      outcome,
			Judgment:     execution.Judgment,
		})
		if err != nil {
			s.logger.Warn("automatic feedback not recorded", "error", err)
		} else {
			answer.Feedback = &record
		}
	}
	return answer, nil
}

func (s *Service) RecordFeedback(ctx context.Context, in feedback.Input) (feedback.Record, error) {
	if s.feedback == nil {
		return feedback.Record{}, ErrFeedbackDisabled
	}
	return s.feedback.Record(ctx, in)
}

func (s *Service) FeedbackStats() (feedback.Stats, error) {
	if s.feedback == nil {
		return feedback.Stats{}, ErrFeedbackDisabled
	}
	return s.feedback.Stats(), nil
}

func (s *Service) RebuildFeedback(ctx context.Context) (int, error) {
	if s.feedback == nil {
		return 0, ErrFeedbackDisabled
	}
	return s.feedback.Rebuild(ctx)
}

// Validate runs only the safety gate.
func (s *Service) Validate(sqlText string) safety.Verdict {
	return s.validator.Validate(sqlText)
}
