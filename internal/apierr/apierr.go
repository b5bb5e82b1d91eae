// Package apierr classifies upstream failures so retry policy and the HTTP
// layer can treat transient and validation errors differently.
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Category determines how an error is handled by retry logic.
type Category int

const (
	// Recoverable errors are retried with backoff: 5xx, 408, 429, network failures.
	Recoverable Category = iota
	// Irrecoverable errors fail immediately: other 4xx and local validation.
	Irrecoverable
)

func (c Category) String() string {
	switch c {
	case Recoverable:
		return "Recoverable"
	case Irrecoverable:
		return "Irrecoverable"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// ErrValidation marks input rejected before any network call.
var ErrValidation = errors.New("validation failed")

// ClassifiedError wraps an error with retry metadata.
type ClassifiedError struct {
	Category   Category
	StatusCode int
	Message    string
	Underlying error
}

func (e *ClassifiedError) Error() string {
	if e.StatusCode > 0 {
		if e.Message != "" {
			return fmt.Sprintf("[%s] HTTP %d: %s", e.Category, e.StatusCode, e.Message)
		}
		return fmt.Sprintf("[%s] HTTP %d: %v", e.Category, e.StatusCode, e.Underlying)
	}
	return fmt.Sprintf("[%s] %v", e.Category, e.Underlying)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Underlying
}

// envelope is the error body upstreams send: {"status": ..., "message": ...}.
type envelope struct {
	Status  any    `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// Classify builds a ClassifiedError from an HTTP status and response body.
func Classify(statusCode int, body []byte, operation string) *ClassifiedError {
	msg := strings.TrimSpace(string(body))
	var env envelope
	if json.Unmarshal(body, &env) == nil {
		switch {
		case env.Message != "":
			msg = env.Message
		case env.Error != "":
			msg = env.Error
		}
	}
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return &ClassifiedError{
		Category:   categoryFor(statusCode),
		StatusCode: statusCode,
		Message:    msg,
		Underlying: fmt.Errorf("%s failed: HTTP %d", operation, statusCode),
	}
}

func categoryFor(statusCode int) Category {
	switch {
	case statusCode == http.StatusRequestTimeout, statusCode == http.StatusTooManyRequests:
		return Recoverable
	case statusCode >= 400 && statusCode < 500:
		return Irrecoverable
	default:
		return Recoverable
	}
}

// Network wraps a transport-level failure; always recoverable.
func Network(operation string, err error) *ClassifiedError {
	return &ClassifiedError{
		Category:   Recoverable,
		Underlying: fmt.Errorf("%s network error: %w", operation, err),
	}
}

// Validation returns an irrecoverable error wrapping ErrValidation.
func Validation(format string, args ...any) error {
	return &ClassifiedError{
		Category:   Irrecoverable,
		Message:    fmt.Sprintf(format, args...),
		Underlying: fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...)),
	}
}

// IsIrrecoverable reports whether err should not be retried.
func IsIrrecoverable(err error) bool {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Category == Irrecoverable
	}
	return false
}

// IsValidation reports whether err came from local input validation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// StatusCode picks the HTTP status the API should answer with for err.
func StatusCode(err error) int {
	var ce *ClassifiedError
	switch {
	case err == nil:
		return http.StatusOK
	case IsValidation(err):
		return http.StatusBadRequest
	case errors.As(err, &ce) && ce.StatusCode >= 400 && ce.StatusCode < 500:
		return ce.StatusCode
	default:
		return http.StatusBadGateway
	}
}
