package apimodel

// Response is the envelope every successful API call is wrapped in.
// Example: {"success":true,"message":"ok","data":{...},"timestamp":"2024-05-01T10:00:00Z"}
type Response[T any] struct {
	// Success mirrors the HTTP outcome; false with a 2xx status is treated as a failure by callers.
	Success bool `json:"success"`

	// Message is an optional human readable note from the API.
	Message string `json:"message,omitempty"`

	// Data is the payload. Null for endpoints that return nothing (resend-otp, logout).
	Data *T `json:"data"`

	// Timestamp is the server time the response was produced, ISO-8601.
	Timestamp string `json:"timestamp,omitempty"`
}

// ErrorResponse is the body returned with non-2xx statuses.
// Example: {"code":"VALIDATION_ERROR","message":"Invalid input","details":[{"field":"email","message":"must be a well-formed email address"}]}
type ErrorResponse struct {
	Code      string        `json:"code,omitempty"`
	Message   string        `json:"message,omitempty"`
	Details   []ErrorDetail `json:"details,omitempty"`
	Timestamp string        `json:"timestamp,omitempty"`
	Path      string        `json:"path,omitempty"`
	TraceID   string        `json:"traceId,omitempty"`
}

// ErrorDetail is a single field level validation failure.
type ErrorDetail struct {
	Field         string `json:"field"`
	Message       string `json:"message"`
	RejectedValue any    `json:"rejectedValue,omitempty"`
}

// PageResponse is a page of results from a listing endpoint.
type PageResponse[T any] struct {
	Content       []T   `json:"content"`
	Page          int   `json:"page"`
	Size          int   `json:"size"`
	TotalElements int64 `json:"totalElements"`
	TotalPages    int   `json:"totalPages"`
	First         bool  `json:"first"`
	Last          bool  `json:"last"`
}
