package llm

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies provider call failures.
type ErrorKind string

const (
	ErrRateLimit     ErrorKind = "RATE_LIMIT"
	ErrProviderError ErrorKind = "PROVIDER_ERROR"
	ErrParseError    ErrorKind = "PARSE_ERROR"
)

// TransportError is a classified LLM provider failure. Retryable failures
// are retried with exponential backoff, honoring RetryAfter when the
// provider supplied one. Non-retryable failures surface immediately.
type TransportError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Retryable  bool
	RetryAfter time.Duration
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ParseError builds the PARSE_ERROR variant for malformed structured output.
// Parse failures are never retried at the transport level; the SQL
// correction loop decides whether to re-prompt.
func ParseError(msg string) *TransportError {
	return &TransportError{Kind: ErrParseError, Message: msg, Retryable: false}
}

// IsRetryable reports whether err is a retryable transport failure.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Retryable
}
