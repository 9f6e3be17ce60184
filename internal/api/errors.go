package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/household-ledger/internal/errors"
	"github.com/household-ledger/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	json.NewEncoder(w).Encode(response)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// parseJSONBody parses JSON request body.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// Common error codes
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// respondServiceError maps a service error to its HTTP response using the
// error taxonomy's status codes
func respondServiceError(w http.ResponseWriter, err error) {
	status := apperrors.GetHTTPStatusCode(err)

	if catErr := apperrors.Categorize(err); catErr != nil {
		serviceErr := catErr.ToServiceError()
		respondError(w, status, serviceErr.Code, serviceErr.Message, serviceErr.Details)
		return
	}

	respondError(w, status, ErrCodeInternalError, "An internal error occurred", nil)
}
