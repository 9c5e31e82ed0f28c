// Package judge asks an external model for an advisory quality score of a
// generated statement. A judgment never gates execution.
package judge

import "context"

// ExecutionSummary describes how a statement fared, when it has already run.
type ExecutionSummary struct {
	Success  bool   `json:"success"`
	RowCount int    `json:"row_count"`
	Error    string `json:"error,omitempty"`
}

type Request struct {
	NaturalQuery  string            `json:"natural_query"`
	GeneratedSQL  string            `json:"generated_sql"`
	SchemaSummary string            `json:"schema_summary"`
	Execution     *ExecutionSummary `json:"execution,omitempty"`
}

// Judgment scores are in [0, 1]. Success is false when the judge could not
// be reached or its answer could not be read; Score is then neutral.
type Judgment struct {
	Success         bool     `json:"success"`
	Score           float64  `json:"score"`
	Correctness     float64  `json:"correctness"`
	Completeness    float64  `json:"completeness"`
	Security        float64  `json:"security"`
	Efficiency      float64  `json:"efficiency"`
	Compliance      float64  `json:"compliance"`
	Feedback        string   `json:"feedback"`
	Suggestions     []string `json:"suggestions"`
	MissingElements []string `json:"missing_elements"`
	SecurityIssues  []string `json:"security_issues"`
	AlternativeSQL  string   `json:"alternative_sql,omitempty"`
	Model           string   `json:"model,omitempty"`
	Error           string   `json:"error,omitempty"`
}

const NeutralScore = 0.5

// Unavailable is the judgment recorded when the judge fails.
func Unavailable(err error) Judgment {
	return Judgment{
		Score:           NeutralScore,
		Feedback:        "Unable to get quality judgment",
		Suggestions:     []string{},
		MissingElements: []string{},
		SecurityIssues:  []string{},
		Error:           err.Error(),
	}
}

type Judge interface {
	Judge(ctx context.Context, req Request) (Judgment, error)
}
