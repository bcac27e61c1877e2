// Package errors provides the typed error taxonomy for the personal-data API.
//
// Every error that crosses a method boundary is an *AppError carrying a
// machine-readable Code, an HTTP status, a human Message, and optional Data
// (e.g. the conflicting fields of an item-already-exists error). The method
// pipeline (internal/pipeline) treats the first AppError returned by a step
// as the terminal result of the call; anything else is wrapped with
// Unexpected before it reaches the response layer.
//
// Error Structure:
//   - Code: one of the kinds below (e.g. "invalid-access-token")
//   - Message: human-readable, safe to show to API clients
//   - Data: optional structured detail (conflicting fields, validation path)
//   - StatusCode: the status the HTTP adapter should send
//
// JSON Response Format:
//
//	{"error": {"id": "forbidden", "message": "...", "data": {...}}}
package errors

import (
	"fmt"
	"net/http"
)

// AppError is a typed error carrying HTTP context.
type AppError struct {
	// Code is the machine-readable error kind, e.g. "invalid-request-structure".
	Code string `json:"id"`

	// Message is human-readable and safe to return to clients.
	Message string `json:"message"`

	// Data carries structured detail, e.g. {"email": "a@b.com"} on item-already-exists.
	Data map[string]interface{} `json:"data,omitempty"`

	// StatusCode is the HTTP status to return; not part of the JSON body.
	StatusCode int `json:"-"`
}

func (e *AppError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorResponse is the JSON envelope returned to HTTP clients.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody is the inner error object of ErrorResponse.
type ErrorBody struct {
	ID      string                 `json:"id"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// Error kinds returned across every method boundary.
const (
	CodeInvalidRequestStructure  = "invalid-request-structure"
	CodeInvalidParametersFormat  = "invalid-parameters-format"
	CodeInvalidItemID            = "invalid-item-id"
	CodeMissingHeader            = "missing-header"
	CodeUnsupportedContentType   = "unsupported-content-type"
	CodeInvalidAccessToken       = "invalid-access-token"
	CodeInvalidCredentials       = "invalid-credentials"
	CodeForbidden                = "forbidden"
	CodeUnknownResource          = "unknown-resource"
	CodeUnknownReferencedResource = "unknown-referenced-resource"
	CodeItemAlreadyExists        = "item-already-exists"
	CodeInvalidOperation         = "invalid-operation"
	CodeUnexpectedError          = "unexpected-error"
)

func statusForCode(code string) int {
	switch code {
	case CodeInvalidRequestStructure, CodeInvalidParametersFormat, CodeInvalidItemID, CodeMissingHeader, CodeInvalidOperation:
		return http.StatusBadRequest
	case CodeUnsupportedContentType:
		return http.StatusUnsupportedMediaType
	case CodeInvalidAccessToken:
		return http.StatusUnauthorized
	case CodeInvalidCredentials:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeUnknownResource:
		return http.StatusNotFound
	case CodeUnknownReferencedResource:
		return http.StatusBadRequest
	case CodeItemAlreadyExists:
		return http.StatusConflict
	case CodeUnexpectedError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// New creates an AppError of the given kind.
func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: statusForCode(code)}
}

// WithData attaches structured detail (e.g. conflicting field values) and
// returns the same error for chaining.
func (e *AppError) WithData(data map[string]interface{}) *AppError {
	e.Data = data
	return e
}

// WithStatus overrides the default HTTP status of an error.
func (e *AppError) WithStatus(status int) *AppError {
	e.StatusCode = status
	return e
}

// ToResponse converts the error to its wire envelope.
func (e *AppError) ToResponse() ErrorResponse {
	return ErrorResponse{Error: ErrorBody{ID: e.Code, Message: e.Message, Data: e.Data}}
}

// Convenience constructors, one per kind.

func InvalidRequestStructure(message string) *AppError {
	return New(CodeInvalidRequestStructure, message)
}

func InvalidParametersFormat(message string) *AppError {
	return New(CodeInvalidParametersFormat, message)
}

func InvalidItemID(message string) *AppError {
	return New(CodeInvalidItemID, message)
}

func MissingHeader(header string) *AppError {
	return New(CodeMissingHeader, fmt.Sprintf("Missing required header: %s", header))
}

func UnsupportedContentType(contentType string) *AppError {
	return New(CodeUnsupportedContentType, fmt.Sprintf("Unsupported content type: %s", contentType))
}

// InvalidAccessToken returns 401 (missing, unknown or revoked token, or a
// rejection by the custom auth hook); an expired access is reported as
// forbidden instead.
func InvalidAccessToken(message string) *AppError {
	return New(CodeInvalidAccessToken, message)
}

func InvalidCredentials() *AppError {
	return New(CodeInvalidCredentials, "Invalid username or password")
}

func Forbidden(message string) *AppError {
	return New(CodeForbidden, message)
}

func UnknownResource(resource string) *AppError {
	return New(CodeUnknownResource, fmt.Sprintf("Unknown %s", resource))
}

func UnknownReferencedResource(message string) *AppError {
	return New(CodeUnknownReferencedResource, message)
}

func ItemAlreadyExists(message string, conflicting map[string]interface{}) *AppError {
	return New(CodeItemAlreadyExists, message).WithData(conflicting)
}

func InvalidOperation(message string) *AppError {
	return New(CodeInvalidOperation, message)
}

func Unexpected(err error) *AppError {
	msg := "An unexpected error occurred"
	if err != nil {
		msg = err.Error()
	}
	return New(CodeUnexpectedError, msg)
}

// AsAppError unwraps err into an *AppError, wrapping it with Unexpected if
// it isn't already typed. Used at the edge of the pipeline (internal/pipeline)
// so every step result normalizes to the same taxonomy.
func AsAppError(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return Unexpected(err)
}
