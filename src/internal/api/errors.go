package api

import (
	"encoding/json"
	"net/http"

	"github.com/maksimkurb/keen-dnsfilter/src/internal/errors"
)

// ErrorCode is the machine-readable code carried in every API error body.
type ErrorCode string

const (
	ErrCodeInvalidRequest    ErrorCode = "invalid_request"
	ErrCodeNotFound          ErrorCode = "not_found"
	ErrCodeForbidden         ErrorCode = "forbidden"
	ErrCodeInternalError     ErrorCode = "internal_error"
	ErrCodeValidationFailed  ErrorCode = "validation_failed"
	ErrCodeServiceError      ErrorCode = "service_error"
	ErrCodeTunnelUnavailable ErrorCode = "tunnel_unavailable"
	ErrCodeUpstreamFailed    ErrorCode = "upstream_unavailable"
)

// APIError is the body of a failed request.
type APIError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ErrorResponse wraps an APIError for JSON responses.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// WriteError writes err with the given status code.
func WriteError(w http.ResponseWriter, statusCode int, err APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: err})
}

func WriteInvalidRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, APIError{Code: ErrCodeInvalidRequest, Message: message})
}

func WriteNotFound(w http.ResponseWriter, resource string) {
	WriteError(w, http.StatusNotFound, APIError{Code: ErrCodeNotFound, Message: resource + " not found"})
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, APIError{Code: ErrCodeForbidden, Message: message})
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, APIError{Code: ErrCodeInternalError, Message: message})
}

// WriteValidationError writes a 400 with per-field messages in details.
func WriteValidationError(w http.ResponseWriter, message string, details map[string]interface{}) {
	WriteError(w, http.StatusBadRequest, APIError{Code: ErrCodeValidationFailed, Message: message, Details: details})
}

// WriteServiceError maps a filter service failure to a status by its domain
// error code. Tunnel and upstream failures are reported as unavailable
// dependencies; anything else is a 500.
func WriteServiceError(w http.ResponseWriter, message string, err error) {
	apiErr := APIError{Code: ErrCodeServiceError, Message: message + ": " + err.Error()}
	status := http.StatusInternalServerError

	switch {
	case errors.HasCode(err, errors.ErrCodeTunnel):
		apiErr.Code, status = ErrCodeTunnelUnavailable, http.StatusServiceUnavailable
	case errors.HasCode(err, errors.ErrCodeUpstream):
		apiErr.Code, status = ErrCodeUpstreamFailed, http.StatusBadGateway
	case errors.HasCode(err, errors.ErrCodeValidation):
		apiErr.Code, status = ErrCodeValidationFailed, http.StatusBadRequest
	}
	WriteError(w, status, apiErr)
}
