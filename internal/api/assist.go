package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ledgerlens/ledgerlens/internal/auth"
	"github.com/ledgerlens/ledgerlens/internal/pipeline"
)

type translateRequest struct {
	Query string `json:"query"`
}

type validateRequest struct {
	SQL string `json:"sql"`
}

type executeRequest struct {
	SQL          string `json:"sql"`
	Params       []any  `json:"params"`
	NaturalQuery string `json:"natural_query"`
	Judge        bool   `json:"judge"`
}

type askRequest struct {
	Query string `json:"query"`
	Judge bool   `json:"judge"`
}

func assistantOrError(deps Dependencies, w http.ResponseWriter, r *http.Request) bool {
	if deps.Assistant == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINE_NOT_CONFIGURED", "translation pipeline is not configured", false, nil)
		return false
	}
	return true
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !assistantOrError(deps, w, r) || !authorize(w, r, auth.RoleQueryReader) {
		return
	}
	cat := deps.Assistant.Catalog()
	if cat == nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "SCHEMA_UNAVAILABLE", "schema catalog is not loaded", true, nil)
		return
	}
	writeJSON(w, http.StatusOK, cat.Describe())
}

func handleTranslate(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !assistantOrError(deps, w, r) || !authorize(w, r, auth.RoleQueryReader) {
		return
	}
	tenant, err := tenantFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "TENANT_INVALID", err.Error(), false, nil)
		return
	}
	var req translateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid translate request body", false, map[string]any{"details": err.Error()})
		return
	}

	translation, err := deps.Assistant.Translate(r.Context(), pipeline.TranslateRequest{Query: req.Query, Tenant: tenant})
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	if !translation.OK() {
		writeJSON(w, http.StatusUnprocessableEntity, translation)
		return
	}
	writeJSON(w, http.StatusOK, translation)
}

func handleValidate(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !assistantOrError(deps, w, r) || !authorize(w, r, auth.RoleQueryReader) {
		return
	}
	var req validateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid validate request body", false, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, deps.Assistant.Validate(req.SQL))
}

// handleExecute runs caller-supplied SQL, so it is limited to writers.
func handleExecute(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !assistantOrError(deps, w, r) || !authorize(w, r, auth.RoleQueryWriter) {
		return
	}
	var req executeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid execute request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}

	execution := deps.Assistant.Execute(r.Context(), pipeline.ExecuteRequest{
		SQL:            req.SQL,
		Params:         req.Params,
		NaturalQuery:   req.NaturalQuery,
		Judge:          req.Judge,
		AllowMutations: true,
	})
	writeJSON(w, executionStatus(execution), execution)
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !assistantOrError(deps, w, r) || !authorize(w, r, auth.RoleQueryReader) {
		return
	}
	tenant, err := tenantFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "TENANT_INVALID", err.Error(), false, nil)
		return
	}
	var req askRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}

	answer, err := deps.Assistant.Ask(r.Context(), pipeline.AskRequest{
		Query:          req.Query,
		Judge:          req.Judge,
		Tenant:         tenant,
		AllowMutations: requireRole(r, auth.RoleQueryWriter) == nil,
	})
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	switch {
	case !answer.Translation.OK():
		writeJSON(w, http.StatusUnprocessableEntity, answer)
	case answer.Execution != nil:
		writeJSON(w, executionStatus(*answer.Execution), answer)
	default:
		writeJSON(w, http.StatusOK, answer)
	}
}

// executionStatus keeps statement failures distinguishable from transport
// failures: unsafe or refused statements are 422, database errors 502.
func executionStatus(execution pipeline.Execution) int {
	switch {
	case execution.Success:
		return http.StatusOK
	case execution.Verdict != nil && !execution.Verdict.Safe:
		return http.StatusUnprocessableEntity
	case strings.HasPrefix(execution.Error, "database error"):
		return http.StatusBadGateway
	case strings.HasPrefix(execution.Error, "no database connection"):
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnprocessableEntity
	}
}

func writePipelineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, pipeline.ErrEmptyQuery):
		writeError(r.Context(), w, http.StatusBadRequest, "QUERY_REQUIRED", err.Error(), false, nil)
	case errors.Is(err, pipeline.ErrFeedbackDisabled):
		writeError(r.Context(), w, http.StatusNotImplemented, "FEEDBACK_NOT_CONFIGURED", err.Error(), false, nil)
	default:
		writeError(r.Context(), w, http.StatusInternalServerError, "PIPELINE_ERROR", "request could not be processed", true, map[string]any{"details": err.Error()})
	}
}
