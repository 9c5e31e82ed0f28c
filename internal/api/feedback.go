package api

import (
	"errors"
	"net/http"

	"github.com/ledgerlens/ledgerlens/internal/auth"
	"github.com/ledgerlens/ledgerlens/internal/feedback"
)

func handleRecordFeedback(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !assistantOrError(deps, w, r) || !authorize(w, r, auth.RoleQueryReader) {
		return
	}
	var in feedback.Input
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid feedback request body", false, map[string]any{"details": err.Error()})
		return
	}

	record, err := deps.Assistant.RecordFeedback(r.Context(), in)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, record)
	case errors.Is(err, feedback.ErrInvalidOutcome), errors.Is(err, feedback.ErrMissingQuery), errors.Is(err, feedback.ErrMissingCorrection),
		errors.Is(err, feedback.ErrRecordTooLarge):
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_FEEDBACK", err.Error(), false, nil)
	default:
		writePipelineError(w, r, err)
	}
}

func handleFeedbackStats(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !assistantOrError(deps, w, r) || !authorize(w, r, auth.RoleQueryReader) {
		return
	}
	stats, err := deps.Assistant.FeedbackStats()
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func handleFeedbackRebuild(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !assistantOrError(deps, w, r) || !authorize(w, r, auth.RoleFeedbackAdmin) {
		return
	}
	records, err := deps.Assistant.RebuildFeedback(r.Context())
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "completed",
		"records": records,
	})
}
