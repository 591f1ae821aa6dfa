package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies pipeline errors so callers can match on kind
// instead of type identity.
type ErrorKind string

const (
	ErrorKindConfiguration       ErrorKind = "configuration"
	ErrorKindAuthentication      ErrorKind = "authentication"
	ErrorKindRateLimit           ErrorKind = "rate_limit"
	ErrorKindNetwork             ErrorKind = "network"
	ErrorKindResponseParsing     ErrorKind = "response_parsing"
	ErrorKindValidation          ErrorKind = "validation"
	ErrorKindResolutionAmbiguity ErrorKind = "resolution_ambiguity"
	ErrorKindAPI                 ErrorKind = "api"
)

// PipelineError is the tagged error type used across the pipeline.
// RetryAfter is set for rate-limit errors, StatusCode and RawPayload
// for upstream API failures.
type PipelineError struct {
	Kind       ErrorKind
	Message    string
	RetryAfter time.Duration
	StatusCode int
	RawPayload string
	Err        error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewPipelineError creates a tagged error of the given kind
func NewPipelineError(kind ErrorKind, message string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Message: message, Err: err}
}

// ErrorKindOf returns the kind of err if it is a PipelineError, else ""
func ErrorKindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsRetryable reports whether err may succeed on retry.
// Only rate-limit and network failures are retryable; authentication and
// parsing failures never are.
func IsRetryable(err error) bool {
	switch ErrorKindOf(err) {
	case ErrorKindRateLimit, ErrorKindNetwork:
		return true
	default:
		return false
	}
}
