package datafetch

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a fetch failure.
type ErrorKind string

const (
	KindTimeout   ErrorKind = "Timeout"
	KindAborted   ErrorKind = "Aborted"
	KindClient    ErrorKind = "ClientError"
	KindTransient ErrorKind = "TransientError"
	KindExhausted ErrorKind = "ExhaustedRetries"
	KindParse     ErrorKind = "ParseError"
)

// Retryable reports whether a failure of this kind may succeed on a later attempt.
func (k ErrorKind) Retryable() bool {
	return k == KindTimeout || k == KindTransient
}

// Sentinels for errors.Is; they match any *FetchError of the same kind.
var (
	ErrTimeout          = &FetchError{Kind: KindTimeout, Message: "attempt timed out"}
	ErrAborted          = &FetchError{Kind: KindAborted, Message: "request cancelled"}
	ErrClient           = &FetchError{Kind: KindClient, Message: "request rejected"}
	ErrTransient        = &FetchError{Kind: KindTransient, Message: "transient failure"}
	ErrExhaustedRetries = &FetchError{Kind: KindExhausted, Message: "retries exhausted"}
	ErrParse            = &FetchError{Kind: KindParse, Message: "invalid JSON payload"}
)

// FetchError is the error type surfaced by every layer of the package.
type FetchError struct {
	Kind       ErrorKind
	Message    string
	Path       string
	StatusCode int
	// Attempts is the number of physical attempts made when the error was produced.
	Attempts   int
	MaxRetries int
	RetryAfter time.Duration
	Timestamp  time.Time
	Duration   time.Duration
	Cause      error
}

// Error implements error.
func (e *FetchError) Error() string {
	if e == nil {
		return "<nil>"
	}

	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Path != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Path)
	}
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Attempts > 0 {
		msg = fmt.Sprintf("%s (attempts %d/%d)", msg, e.Attempts, e.MaxRetries+1)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *FetchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches another *FetchError by kind.
func (e *FetchError) Is(target error) bool {
	if e == nil {
		return false
	}
	if t, ok := target.(*FetchError); ok {
		return e.Kind == t.Kind
	}
	return false
}

// Retryable reports whether the failure may succeed on retry.
func (e *FetchError) Retryable() bool {
	return e != nil && e.Kind.Retryable()
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *FetchError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Kind: %s\n", e.Kind)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.Path != "" {
		info += fmt.Sprintf("Path: %s\n", e.Path)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if e.Attempts > 0 {
		info += fmt.Sprintf("Attempts: %d/%d\n", e.Attempts, e.MaxRetries+1)
	}
	if e.RetryAfter > 0 {
		info += fmt.Sprintf("Retry After: %v\n", e.RetryAfter)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Duration > 0 {
		info += fmt.Sprintf("Duration: %v\n", e.Duration)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}

// KindOf returns the kind of the outermost *FetchError in err's chain.
// Context errors map to Aborted and Timeout; any other error is Transient.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindAborted
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindTransient
	}
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}

// IsTerminal reports whether err must be surfaced without retrying.
func IsTerminal(err error) bool {
	return err != nil && !IsRetryable(err)
}

// asFetchError converts any attempt error into a *FetchError, keeping an
// existing one untouched.
func asFetchError(err error, path string) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	kind := KindOf(err)
	msg := "fetch failed"
	switch kind {
	case KindAborted:
		msg = "request cancelled"
	case KindTimeout:
		msg = "attempt timed out"
	}
	return &FetchError{Kind: kind, Message: msg, Path: path, Cause: err}
}
