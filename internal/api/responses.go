// Package api serves run status, partition history and metrics over HTTP
// while a batch run is in progress.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	RequestID   string `json:"request_id,omitempty"`
}

// Error codes.
const (
	ErrCodeNotFound         = "NotFound"
	ErrCodeMethodNotAllowed = "MethodNotAllowed"
	ErrCodeServerError      = "ServerError"
	ErrCodeUnavailable      = "Unavailable"
)

// WriteJSON writes v as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response",
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

// WriteError writes an ErrorResponse.
func WriteError(w http.ResponseWriter, status int, code, message, requestID string) {
	_ = WriteJSON(w, status, ErrorResponse{Code: code, Description: message, RequestID: requestID})
}

// WriteNotFound writes a 404 response.
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, ErrCodeNotFound, message, "")
}

// WriteInternalError writes a 500 response tagged with the request ID.
func WriteInternalError(w http.ResponseWriter, message, requestID string) {
	WriteError(w, http.StatusInternalServerError, ErrCodeServerError, message, requestID)
}
