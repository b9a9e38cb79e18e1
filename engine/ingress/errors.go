package ingress

import (
	"errors"
	"net/http"
)

// Error taxonomy; the router maps each kind to a status code.
var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("not found")
	ErrBusy            = errors.New("execution in progress")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrInternal        = errors.New("internal error")
)

const (
	msgInvalidSignature = "Invalid signature"
	msgInvalidJSON      = "Invalid JSON"
	msgInvalidName      = "Invalid workflow name"
	msgNotFoundPrefix   = "Workflow not found: "
	msgBusy             = "Execution in progress"
	msgTooLarge         = "Payload too large"
	msgMethod           = "Method not allowed"
	msgRateLimited      = "Rate limit exceeded"
	msgInternal         = "Internal server error"
)

// RequestError is a client-facing rejection. Message is returned verbatim
// in the response body; Cause is only logged.
type RequestError struct {
	Kind    error
	Message string
	Cause   error
}

func (e *RequestError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *RequestError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

func reject(kind error, msg string, cause error) *RequestError {
	return &RequestError{Kind: kind, Message: msg, Cause: cause}
}

// StatusFor returns the HTTP status for an error of the taxonomy.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// messageFor hides the details of anything outside the client-facing kinds.
func messageFor(err error) string {
	var reqErr *RequestError
	if errors.As(err, &reqErr) && !errors.Is(reqErr.Kind, ErrInternal) {
		return reqErr.Message
	}
	return msgInternal
}
