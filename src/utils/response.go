package utils

import (
	"errors"
	"net/http"
)

var errTrailingData = errors.New("request body must contain a single JSON object")

// Error codes used in the {"error": {...}} envelope.
const (
	CodeBadRequest          = "BAD_REQUEST"
	CodeInvalidRank         = "INVALID_RANK"
	CodeValidationFailed    = "VALIDATION_FAILED"
	CodePageNotFound        = "PAGE_NOT_FOUND"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeInternalError       = "INTERNAL_ERROR"
)

// ErrorBody is the inner object of an error response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorEnvelope is the public error shape {"error": {"code","message"}}.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// ErrorResponse builds an error envelope.
func ErrorResponse(code, message string) ErrorEnvelope {
	return ErrorEnvelope{Error: ErrorBody{Code: code, Message: message}}
}

// WriteError writes an error envelope with the given status.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorResponse(code, message))
}

// PageNotFound returns the error shape for unknown routes.
func PageNotFound() ErrorEnvelope {
	return ErrorResponse(CodePageNotFound, "Route does not exist")
}
