package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"kitcore/pkg/domain"
)

// errorBody is the JSON envelope for error responses.
type errorBody struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			slog.Error("encode response", "error", err)
		}
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

// writeServiceError maps domain error types to HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	var (
		validation domain.ValidationError
		notFound   domain.NotFoundError
		immutable  domain.ImmutableFieldError
		denied     domain.PermissionDeniedError
		storage    domain.StorageError
	)
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{
			Error:   "validation_failed",
			Message: validation.Error(),
			Fields:  validation.Fields(),
		})
	case errors.As(err, &immutable):
		writeError(w, http.StatusConflict, "immutable_field", immutable.Error())
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, "not_found", notFound.Error())
	case errors.As(err, &denied):
		writeError(w, http.StatusForbidden, "permission_denied", denied.Error())
	case errors.As(err, &storage):
		slog.Error("storage failure", "op", storage.Op, "error", storage.Err)
		writeError(w, http.StatusInternalServerError, "storage_failure", "storage operation failed")
	default:
		slog.Error("unhandled service error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}
