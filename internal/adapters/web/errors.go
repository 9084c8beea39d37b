package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"retail-ledger/internal/core"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := errorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestIDFromContext(r.Context()),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeJSON writes a JSON response with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeServiceError maps engine errors onto HTTP statuses. Conflict-class
// errors (duplicate serial, bad transition, retry exhaustion) are 409 so
// clients know a resubmit may behave differently; credit rejections are 422
// because the request was well formed but the business rule said no.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr  *core.ValidationError
		creditErr      *core.CreditLimitExceededError
		serialErr      *core.MalformedSerialError
		duplicateErr   *core.DuplicateSerialError
		transitionErr  *core.InvalidTransitionError
		concurrencyErr *core.ConcurrencyConflictError
	)
	switch {
	case errors.As(err, &validationErr):
		writeError(w, r, validationErr.Error(), "VALIDATION_FAILED", http.StatusBadRequest)
	case errors.As(err, &serialErr):
		writeError(w, r, serialErr.Error(), "MALFORMED_SERIAL", http.StatusBadRequest)
	case errors.As(err, &creditErr):
		writeError(w, r, creditErr.Error(), "CREDIT_LIMIT_EXCEEDED", http.StatusUnprocessableEntity)
	case errors.As(err, &duplicateErr):
		writeError(w, r, duplicateErr.Error(), "DUPLICATE_SERIAL", http.StatusConflict)
	case errors.As(err, &transitionErr):
		writeError(w, r, transitionErr.Error(), "INVALID_TRANSITION", http.StatusConflict)
	case errors.As(err, &concurrencyErr):
		writeError(w, r, concurrencyErr.Error(), "CONCURRENCY_CONFLICT", http.StatusConflict)
	case errors.Is(err, core.ErrStoreUnavailable):
		writeError(w, r, "store unavailable", "STORE_UNAVAILABLE", http.StatusServiceUnavailable)
	default:
		writeError(w, r, "internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
	}
}
