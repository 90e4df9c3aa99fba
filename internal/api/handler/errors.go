package handler

import (
	"errors"
	"net/http"

	"github.com/kiranshivaraju/vidqueue/internal/api/response"
	"github.com/kiranshivaraju/vidqueue/internal/jobs"
	"github.com/kiranshivaraju/vidqueue/internal/scheduler"
	"github.com/kiranshivaraju/vidqueue/internal/store"
)

// writeServiceError maps service errors to the error envelope.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrInvalidInput):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, jobs.ErrUnknownProject):
		response.Error(w, http.StatusBadRequest, "UNKNOWN_PROJECT", err.Error(), nil)
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Resource not found", nil)
	case errors.Is(err, store.ErrInvalidTransition):
		response.Error(w, http.StatusConflict, "INVALID_STATE", err.Error(), nil)
	case errors.Is(err, scheduler.ErrNotRunning):
		response.Error(w, http.StatusConflict, "NOT_RUNNING", "Job is not running", nil)
	case errors.Is(err, store.ErrProtectedProject):
		response.Error(w, http.StatusConflict, "PROTECTED_PROJECT", "This project cannot be deleted", nil)
	case errors.Is(err, store.ErrPersistence):
		response.Error(w, http.StatusServiceUnavailable, "PERSISTENCE_ERROR", "Failed to save state", nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}
