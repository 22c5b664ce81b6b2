package apiclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-elearn-client/apimodel"
	clienterrors "github.com/jrsteele09/go-elearn-client/internal/errors"
)

// DefaultErrorMessage is shown when the API gave no usable explanation.
const DefaultErrorMessage = "An error occurred. Please try again."

// APIError is a non-2xx answer from the API with its decoded error body.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Response   apimodel.ErrorResponse
}

// NewAPIError decodes raw as an error body. Undecodable bodies leave Response empty.
func NewAPIError(status int, method, path string, raw []byte) *APIError {
	e := &APIError{StatusCode: status, Method: method, Path: path}
	if json.Unmarshal(raw, &e.Response) == nil && (e.Response.Message != "" || e.Response.Code != "" || len(e.Response.Details) > 0) {
		return e
	}
	// Some endpoints wrap the error body in the success envelope.
	envelope := apimodel.Response[apimodel.ErrorResponse]{}
	if json.Unmarshal(raw, &envelope) == nil && envelope.Data != nil {
		e.Response = *envelope.Data
	}
	return e
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message())
}

// Is lets callers match a 401 with errors.Is(err, ErrUnauthorized).
func (e *APIError) Is(target error) bool {
	return target == clienterrors.ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

// Message is the text to show the user: the API message, else the field
// errors joined with ", ", else a generic fallback.
func (e *APIError) Message() string {
	if e.Response.Message != "" {
		return e.Response.Message
	}
	if fields := e.FieldErrors(); fields != "" {
		return fields
	}
	if text := http.StatusText(e.StatusCode); text != "" {
		return text
	}
	return DefaultErrorMessage
}

// FieldErrors joins the per-field messages as "field: message".
func (e *APIError) FieldErrors() string {
	parts := make([]string, 0, len(e.Response.Details))
	for _, d := range e.Response.Details {
		if d.Field == "" {
			parts = append(parts, d.Message)
			continue
		}
		parts = append(parts, d.Field+": "+d.Message)
	}
	return strings.Join(parts, ", ")
}

// ErrorMessage extracts a user facing message from any error a service returns.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if clienterrors.As(err, &apiErr) {
		return apiErr.Message()
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return DefaultErrorMessage
}
