// Package query executes validated statements against the ERP database.
package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/xwb1989/sqlparser"

	"github.com/ledgerlens/ledgerlens/internal/observability"
	"github.com/ledgerlens/ledgerlens/internal/safety"
)

const (
	KindQuery    = "query"
	KindMutation = "mutation"
)

var ErrNoConnection = errors.New("no database connection available")

type Request struct {
	SQL    string `json:"sql"`
	Params []any  `json:"params"`
}

// Result is always well formed; failures set Error and leave Success false.
type Result struct {
	Success      bool             `json:"success"`
	Kind         string           `json:"kind,omitempty"`
	Columns      []string         `json:"columns,omitempty"`
	Rows         []map[string]any `json:"rows,omitempty"`
	RowCount     int              `json:"row_count"`
	RowsAffected int64            `json:"rows_affected,omitempty"`
	DurationMS   int64            `json:"duration_ms"`
	Error        string           `json:"error,omitempty"`
	Verdict      *safety.Verdict  `json:"verdict,omitempty"`
}

// Conner hands out a dedicated connection per call. *sql.DB satisfies it.
type Conner interface {
	Conn(ctx context.Context) (*sql.Conn, error)
}

type Validator interface {
	Validate(sql string) safety.Verdict
}

type Gateway struct {
	db        Conner
	validator Validator
	logger    *slog.Logger
}

func NewGateway(db Conner, validator Validator, logger *slog.Logger) *Gateway {
	if typed, ok := db.(*sql.DB); ok && typed == nil {
		db = nil
	}
	if validator == nil {
		validator = safety.New(logger)
	}
	return &Gateway{db: db, validator: validator, logger: observability.Component(logger, "query")}
}

// Execute validates and runs one statement. The connection is acquired and
// released within the call on every path.
func (g *Gateway) Execute(ctx context.Context, req Request) (result Result) {
	start := time.Now()
	defer func() {
		if recovered := recover(); recovered != nil {
			g.logger.Error("statement panicked", "panic", recovered)
			result = Result{Error: fmt.Sprintf("unexpected error: %v", recovered)}
		}
		result.DurationMS = time.Since(start).Milliseconds()
		outcome := "success"
		if !result.Success {
			outcome = "failure"
		}
		observability.ObserveExecution(result.Kind, outcome, time.Since(start))
	}()

	verdict := g.validator.Validate(req.SQL)
	if !verdict.Safe {
		return Result{Error: "unsafe statement: " + verdict.Reason, Verdict: &verdict}
	}
	if g.db == nil {
		return Result{Error: ErrNoConnection.Error()}
	}

	sqlText := stripTrailingSemicolons(req.SQL)
	kind := Classify(sqlText)

	conn, err := g.db.Conn(ctx)
	if err != nil {
		return g.failure(kind, err)
	}
	defer func() { _ = conn.Close() }()

	if kind == KindQuery {
		return g.query(ctx, conn, sqlText, req.Params)
	}
	return g.mutate(ctx, conn, sqlText, req.Params)
}

func (g *Gateway) failure(kind string, err error) Result {
	g.logger.Warn("statement failed", "kind", kind, "error", err)
	return Result{Kind: kind, Error: "database error: " + err.Error()}
}

func (g *Gateway) query(ctx context.Context, conn *sql.Conn, sqlText string, params []any) Result {
	rows, err := conn.QueryContext(ctx, sqlText, params...)
	if err != nil {
		return g.failure(KindQuery, err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return g.failure(KindQuery, fmt.Errorf("query columns: %w", err))
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return g.failure(KindQuery, fmt.Errorf("scan row: %w", err))
		}
		row := make(map[string]any, len(columns))
		for i, column := range columns {
			row[column] = normalizeValue(values[i])
		}
		resultRows = append(resultRows, row)
	}
	if err := rows.Err(); err != nil {
		return g.failure(KindQuery, fmt.Errorf("iterate rows: %w", err))
	}

	return Result{
		Success:  true,
		Kind:     KindQuery,
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}
}

func (g *Gateway) mutate(ctx context.Context, conn *sql.Conn, sqlText string, params []any) Result {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return g.failure(KindMutation, fmt.Errorf("begin transaction: %w", err))
	}
	res, err := tx.ExecContext(ctx, sqlText, params...)
	if err != nil {
		return g.rollback(tx, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return g.rollback(tx, fmt.Errorf("rows affected: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return g.failure(KindMutation, fmt.Errorf("commit: %w", err))
	}
	return Result{Success: true, Kind: KindMutation, RowsAffected: affected}
}

func (g *Gateway) rollback(tx *sql.Tx, cause error) Result {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		g.logger.Error("rollback failed", "error", err)
	}
	return g.failure(KindMutation, cause)
}

var writeKeywords = []string{"insert", "update", "delete", "replace", "merge", "upsert"}

// Classify reports whether a statement returns rows. A statement that can
// write anywhere, including inside a CTE, is a mutation.
func Classify(sqlText string) string {
	switch sqlparser.Preview(sqlText) {
	case sqlparser.StmtSelect, sqlparser.StmtShow:
		return KindQuery
	case sqlparser.StmtInsert, sqlparser.StmtReplace, sqlparser.StmtUpdate, sqlparser.StmtDelete:
		return KindMutation
	}
	words := sqlWords(sqlText)
	if len(words) == 0 {
		return KindMutation
	}
	writes := slices.ContainsFunc(words, func(w string) bool { return slices.Contains(writeKeywords, w) })
	switch words[0] {
	case "with", "values", "describe":
		if writes {
			return KindMutation
		}
		return KindQuery
	case "explain":
		// EXPLAIN ANALYZE runs the statement it explains.
		if writes && slices.Contains(words, "analyze") {
			return KindMutation
		}
		return KindQuery
	case "pragma":
		if strings.Contains(sqlText, "=") {
			return KindMutation
		}
		return KindQuery
	}
	return KindMutation
}

// sqlWords lowercases the bare words of a statement, skipping string
// literals, quoted identifiers and comments.
func sqlWords(sqlText string) []string {
	var (
		words []string
		word  strings.Builder
	)
	flush := func() {
		if word.Len() > 0 {
			words = append(words, strings.ToLower(word.String()))
			word.Reset()
		}
	}
	for i := 0; i < len(sqlText); i++ {
		c := sqlText[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			flush()
			for i++; i < len(sqlText); i++ {
				if sqlText[i] == c {
					if i+1 < len(sqlText) && sqlText[i+1] == c {
						i++
						continue
					}
					break
				}
			}
		case c == '-' && i+1 < len(sqlText) && sqlText[i+1] == '-':
			flush()
			for i < len(sqlText) && sqlText[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(sqlText) && sqlText[i+1] == '*':
			flush()
			end := strings.Index(sqlText[i+2:], "*/")
			if end < 0 {
				i = len(sqlText)
			} else {
				i += end + 3
			}
		case c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z':
			word.WriteByte(c)
		default:
			flush()
		}
	}
	flush()
	return words
}

func normalizeValue(value any) any {
	switch typed := value.(type) {
	case []byte:
		return string(typed)
	default:
		return typed
	}
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
