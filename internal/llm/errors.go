// Package llm hosts the backend instance manager and the per-provider
// runtime clients.
package llm

import "fmt"

// ErrorKind classifies LLM failures.
type ErrorKind string

const (
	ErrConfig     ErrorKind = "config"
	ErrTransport  ErrorKind = "transport"
	ErrRateLimit  ErrorKind = "rate_limit"
	ErrGeneration ErrorKind = "generation"
	ErrNotFound   ErrorKind = "not_found"
)

// Error is the typed LLM error. Retryable is an explicit flag, not an
// error-type hierarchy.
type Error struct {
	Kind      ErrorKind
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("llm %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("llm %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func configErr(format string, args ...any) *Error {
	return &Error{Kind: ErrConfig, Message: fmt.Sprintf(format, args...)}
}

func notFoundErr(id string) *Error {
	return &Error{Kind: ErrNotFound, Message: "backend instance " + id + " not found"}
}

func rateLimitErr(message string) *Error {
	return &Error{Kind: ErrRateLimit, Message: message, Retryable: true}
}

func transportErr(err error) *Error {
	return &Error{Kind: ErrTransport, Message: "request failed", Retryable: true, Err: err}
}

func generationErr(err error) *Error {
	return &Error{Kind: ErrGeneration, Message: "generation failed", Err: err}
}
