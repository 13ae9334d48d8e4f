// Package handlers contains the HTTP layer of hourglass-engine.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hourglass-hq/hourglass-engine/pkg/apperrors"
)

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// writeServiceError maps service-layer errors to HTTP responses. Unknown
// errors become opaque 500s; the fallback message is what the caller sees.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error, fallback string) {
	var writeErr error
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		writeErr = ErrorResponse(w, http.StatusNotFound, "not_found", "Resource not found")
	case errors.Is(err, apperrors.ErrConflict):
		writeErr = ErrorResponse(w, http.StatusConflict, "conflict", "Resource already exists")
	case errors.Is(err, apperrors.ErrInvalidInput):
		writeErr = ErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, apperrors.ErrSyncInProgress):
		writeErr = ErrorResponse(w, http.StatusConflict, "sync_in_progress", "A sync is already running for this source")
	case errors.Is(err, apperrors.ErrSourceGrouped):
		writeErr = ErrorResponse(w, http.StatusConflict, "source_grouped", "Source already belongs to a group")
	case errors.Is(err, apperrors.ErrRunNotCancelable):
		writeErr = ErrorResponse(w, http.StatusConflict, "not_cancelable", "Sync run is already finished")
	case apperrors.IsInvalidState(err):
		// The message names current vs required state.
		writeErr = ErrorResponse(w, http.StatusConflict, "invalid_state", err.Error())
	default:
		logger.Error(fallback, zap.Error(err))
		writeErr = ErrorResponse(w, http.StatusInternalServerError, "internal_error", fallback)
	}
	if writeErr != nil {
		logger.Error("Failed to write error response", zap.Error(writeErr))
	}
}
