package errors

import "errors"

// Common error types for the e-learning client
var (
	// Session errors
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNotHydrated      = errors.New("session not hydrated")

	// Transport errors
	ErrUnauthorized   = errors.New("unauthorized")
	ErrRefreshFailed  = errors.New("token refresh failed")
	ErrMissingToken   = errors.New("response contained no access token")
	ErrEmptyEnvelope  = errors.New("response contained no data")
	ErrBodyNotReplay  = errors.New("request body cannot be replayed")
	ErrInvalidBaseURL = errors.New("invalid api base url")

	// Storage errors
	ErrRecordNotFound = errors.New("record not found")

	// General errors
	ErrInvalidInput = errors.New("invalid input")
	ErrUnsupported  = errors.New("unsupported operation")
)

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

type markedError struct {
	sentinel error
	cause    error
}

func (e *markedError) Error() string {
	return e.sentinel.Error() + ": " + e.cause.Error()
}

func (e *markedError) Unwrap() []error {
	return []error{e.sentinel, e.cause}
}

// Mark tags cause with sentinel. errors.Is matches either of them.
func Mark(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return &markedError{sentinel: sentinel, cause: cause}
}
