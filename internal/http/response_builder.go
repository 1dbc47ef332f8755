// Package http provides the JSON API over the transaction, catalog and
// statistics services.
//
// This file implements a small builder for JSON responses so every handler
// writes status, headers and bodies the same way.

package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"conti/internal/core"
	"conti/internal/services"
)

// genericFailure is the only message clients see for store failures.
const genericFailure = "operation failed, try again"

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	headers    map[string]string
	payload    any
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

// Status sets the HTTP status code for the response.
func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

// Header adds a custom header to the response.
func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Data sets the value encoded as the response body.
func (b *JSONResponseBuilder) Data(v any) *JSONResponseBuilder {
	b.payload = v
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.payload == nil {
		w.WriteHeader(b.statusCode)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	_ = json.NewEncoder(w).Encode(b.payload)
}

type errorBody struct {
	Error string `json:"error"`
}

// ErrorResponse creates a JSON error response.
func ErrorResponse(statusCode int, message string) *JSONResponseBuilder {
	return NewJSONResponse().Status(statusCode).Data(errorBody{Error: message})
}

// BadRequestError creates a 400 Bad Request error response.
func BadRequestError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, message)
}

// UnprocessableEntityError creates a 422 Unprocessable Entity error response.
func UnprocessableEntityError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusUnprocessableEntity, message)
}

// InternalServerError creates a 500 Internal Server Error response.
func InternalServerError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, message)
}

// NotFoundError creates a 404 Not Found error response.
func NotFoundError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusNotFound, message)
}

// ConflictError creates a 409 Conflict error response.
func ConflictError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusConflict, message)
}

// TooManyRequestsError creates a 429 response with a Retry-After hint.
func TooManyRequestsError() *JSONResponseBuilder {
	return ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded, try again later").
		Header("Retry-After", "60")
}

// ErrorFor maps an error to a response. Malformed bodies are 400, validation
// errors carry their field message, anything unrecognised becomes a generic 500.
func ErrorFor(err error) *JSONResponseBuilder {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		tooBigErr *http.MaxBytesError
	)
	switch {
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr), errors.As(err, &tooBigErr):
		return BadRequestError(err.Error())
	case errors.Is(err, core.ErrValidation):
		return UnprocessableEntityError(err.Error())
	case errors.Is(err, core.ErrNotFound):
		return NotFoundError("not found")
	case errors.Is(err, services.ErrCurrencyInUse):
		return ConflictError(err.Error())
	default:
		return InternalServerError(genericFailure)
	}
}
