// Package errs defines the error taxonomy shared across solbundle's
// submission pipeline: a single concrete type carrying a classification
// kind, an optional cause, and a retryability flag, rather than a forest of
// sentinel errors or per-package error types.
package errs

import "fmt"

// Kind classifies an Error for callers that need to branch on failure mode
// without string-matching messages.
type Kind string

const (
	Config       Kind = "config"
	Rpc          Kind = "rpc"
	Signing      Kind = "signing"
	Simulation   Kind = "simulation"
	Transaction  Kind = "transaction"
	Timeout      Kind = "timeout"
	InvalidInput Kind = "invalid_input"
	Internal     Kind = "internal"
)

// Error is solbundle's single error type. Kind is the taxonomy label from
// spec section 7; Retryable marks whether a caller may reasonably retry the
// operation that produced it (as opposed to the lineage's three-valued
// ErrorClassification, the pool and orchestrator only ever need this binary
// distinction).
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a non-retryable Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a non-retryable Error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a non-retryable Error that chains a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WrapRetryable creates a retryable Error that chains a cause.
func WrapRetryable(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause, Retryable: true}
}

// IsRetryable reports whether err is a *Error marked retryable.
func IsRetryable(err error) bool {
	var e *Error
	if As(err, &e) {
		return e.Retryable
	}
	return false
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, and ok=false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// As walks err's single-error Unwrap chain and reports the first *Error
// it finds, so callers of this package don't need a second import for
// the common case. Unlike errors.As it does not follow Unwrap() []error
// or consult As methods.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
