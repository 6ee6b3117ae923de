package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"
	"github.com/openai/openai-go"
)

// InputError reports a query that cannot be processed as given
type InputError struct {
	Message string
}

func (e *InputError) Error() string {
	return "invalid input: " + e.Message
}

// NewInputError creates an InputError
func NewInputError(format string, args ...interface{}) *InputError {
	return &InputError{Message: fmt.Sprintf(format, args...)}
}

// IsInputError reports whether err is or wraps an *InputError
func IsInputError(err error) bool {
	var inputErr *InputError
	return errors.As(err, &inputErr)
}

// ErrorKind classifies model gateway failures
type ErrorKind string

const (
	KindMissingDependency ErrorKind = "missing_dependency"
	KindMissingCredential ErrorKind = "missing_credential"
	KindInitFailure       ErrorKind = "init_failure"
	KindInvocationFailure ErrorKind = "invocation_failure"
)

// Code returns the stable error code for the kind
func (k ErrorKind) Code() string {
	switch k {
	case KindMissingDependency:
		return "MODEL_002"
	case KindMissingCredential:
		return "MODEL_003"
	case KindInitFailure:
		return "MODEL_004"
	default:
		return "MODEL_006"
	}
}

// ModelError is a typed model gateway failure. CorrelationID ties the
// user-facing apology to the logged error.
type ModelError struct {
	Kind          ErrorKind
	Code          string
	CorrelationID string
	Attempts      int
	Err           error
}

func newModelError(kind ErrorKind, attempts int, err error) *ModelError {
	return &ModelError{
		Kind:          kind,
		Code:          kind.Code(),
		CorrelationID: uuid.NewString(),
		Attempts:      attempts,
		Err:           err,
	}
}

func (e *ModelError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Code, e.Kind)
	if e.Attempts > 0 {
		msg += fmt.Sprintf(" after %d attempt(s)", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg + " (ref " + e.CorrelationID + ")"
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// IsRetryableError checks if a provider error should be retried
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var modelErr *ModelError
	if errors.As(err, &modelErr) {
		return false
	}

	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		return retryableStatus(openaiErr.StatusCode)
	}
	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return retryableStatus(anthropicErr.StatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errMsg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"econnreset", "etimedout", "connection reset", "connection refused", "timeout",
		"429", "rate limit", "500", "502", "503", "504", "overloaded",
	} {
		if strings.Contains(errMsg, marker) {
			return true
		}
	}
	return false
}

func retryableStatus(code int) bool {
	return code == 408 || code == 409 || code == 429 || code >= 500
}
