// Package exception provides custom error types and classification utilities
// for chessync. It standardizes errors raised while talking to the external
// chess data source and while persisting records, so that retry and skip
// decisions can be made from the error alone.
package exception

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"runtime"
	"strings"
)

// ErrorKind classifies a SyncError for retry handling.
type ErrorKind int

const (
	// KindTransient marks failures that are expected to clear on their own,
	// such as network hiccups or rate limiting. Transient failures are retried.
	KindTransient ErrorKind = iota
	// KindPermanent marks failures that will not succeed on retry, such as
	// malformed payloads or authorization problems.
	KindPermanent
	// KindUnavailable marks complete unavailability of the external source.
	// The caller backs off for a long fixed interval instead of retrying
	// on the normal exponential schedule.
	KindUnavailable
)

// String returns the human readable name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "TRANSIENT"
	case KindPermanent:
		return "PERMANENT"
	case KindUnavailable:
		return "UNAVAILABLE"
	default:
		return "UNKNOWN"
	}
}

// ErrSourceUnavailable is a sentinel error indicating that the external data
// source is completely unreachable, as opposed to failing a single request.
var ErrSourceUnavailable = errors.New("external data source unavailable")

// ErrSyncCancelled is a sentinel error indicating that a synchronization run
// was cancelled by an operator request. It is neither transient nor permanent
// and must never be retried.
var ErrSyncCancelled = errors.New("synchronization cancelled")

// SyncError is a custom error type raised during synchronization.
// It holds the module where the error occurred, a message, the wrapped
// original error, and the classification used by retry logic.
type SyncError struct {
	// Module indicates the module where the error occurred (e.g., "source", "store", "orchestrator").
	Module string
	// Message is a concise description of the error.
	Message string
	// OriginalErr is the wrapped original error.
	OriginalErr error
	// kind is the retry classification of this error.
	kind ErrorKind
	// StackTrace is the stack trace at the time of the error (for debugging).
	StackTrace string
}

// NewSyncError creates a new SyncError instance.
// module: The module where the error occurred.
// message: The error message.
// originalErr: The original error to wrap.
// kind: The retry classification.
// Returns: A new SyncError instance.
func NewSyncError(module, message string, originalErr error, kind ErrorKind) *SyncError {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)

	return &SyncError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		kind:        kind,
		StackTrace:  string(buf[:n]),
	}
}

// NewTransientError creates a SyncError classified as transient.
func NewTransientError(module, message string, originalErr error) *SyncError {
	return NewSyncError(module, message, originalErr, KindTransient)
}

// NewPermanentError creates a SyncError classified as permanent.
func NewPermanentError(module, message string, originalErr error) *SyncError {
	return NewSyncError(module, message, originalErr, KindPermanent)
}

// NewUnavailableError creates a SyncError indicating complete source
// unavailability. The sentinel ErrSourceUnavailable is joined into the chain
// so that errors.Is can detect it regardless of wrapping depth.
func NewUnavailableError(module, message string, originalErr error) *SyncError {
	var errToWrap error
	if originalErr != nil {
		errToWrap = errors.Join(ErrSourceUnavailable, originalErr)
	} else {
		errToWrap = ErrSourceUnavailable
	}
	return NewSyncError(module, message, errToWrap, KindUnavailable)
}

// Error implements the error interface.
// It returns the error's module, message, and the string representation of the original error.
func (e *SyncError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the original error for errors.Unwrap.
func (e *SyncError) Unwrap() error {
	return e.OriginalErr
}

// Kind returns the retry classification of this error.
func (e *SyncError) Kind() ErrorKind {
	return e.kind
}

// IsSyncError determines if the given error is of type SyncError.
func IsSyncError(err error) bool {
	if err == nil {
		return false
	}
	var se *SyncError
	return errors.As(err, &se)
}

// IsTransient determines if an error is worth retrying.
// A SyncError answers from its own classification. For plain errors the
// decision falls back to well known temporary failure signatures
// (timeouts, refused connections, dropped streams).
// err: The error to check.
// Returns: true if a retry may succeed, false otherwise.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSyncCancelled) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *SyncError
	if errors.As(err, &se) {
		return se.kind == KindTransient || se.kind == KindUnavailable
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "EOF")
}

// IsPermanent determines if an error must not be retried.
// err: The error to check.
// Returns: true if retrying cannot succeed, false otherwise.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSyncCancelled) || errors.Is(err, context.Canceled) {
		// Cancellation is terminal but reported separately from failures.
		return false
	}
	return !IsTransient(err)
}

// IsUnavailable determines if an error indicates complete source unavailability.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSourceUnavailable) {
		return true
	}
	var se *SyncError
	if errors.As(err, &se) {
		return se.kind == KindUnavailable
	}
	return false
}

// IsCancellation determines if an error represents a cancellation request,
// either a cooperative cancel of the run or a cancelled context.
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrSyncCancelled) || errors.Is(err, context.Canceled)
}

// IsNotFound reports whether an error represents a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// ExtractErrorMessage extracts the error message string from an error.
// For SyncError, it returns the cleaner Message field.
// Otherwise, it returns the standard Error() string.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var se *SyncError
	if errors.As(err, &se) {
		return se.Message
	}
	return err.Error()
}
