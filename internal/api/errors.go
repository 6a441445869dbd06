package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/wagerproto/wager-engine/internal/model"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable,omitempty"`
}

// classify maps an engine error to an HTTP status and a stable code.
func classify(err error) (int, string) {
	switch {
	case model.IsValidation(err):
		return http.StatusBadRequest, "validation"
	case model.IsAuthorization(err):
		return http.StatusForbidden, "unauthorized"
	case model.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case model.IsIdempotency(err):
		return http.StatusConflict, "idempotency"
	case model.IsEconomic(err):
		return http.StatusConflict, "economic"
	case model.IsState(err):
		return http.StatusConflict, "state"
	case model.IsArithmetic(err):
		return http.StatusUnprocessableEntity, "arithmetic"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// writeError writes err as a JSON error response. Unclassified errors are
// logged and reported without detail. Conflicts that may clear without the
// client changing its request carry Retry-After.
func writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	body := errorBody{Error: err.Error(), Code: code}
	switch {
	case status == http.StatusInternalServerError:
		slog.Error("request failed", "error", err)
		body.Error = "internal error"
	case model.IsRetryable(err):
		body.Retryable = true
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, body)
}

// writeStatus writes an error response that did not come from the engine.
func writeStatus(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
