// Package resilience holds the error taxonomy and the retry and circuit
// breaker helpers wrapped around every evaluation capability call.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
)

// TransientError marks a failure that is safe to retry: network trouble,
// timeouts, rate limiting or a 5xx from the capability.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps err as transient with an optional HTTP status.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// MalformedResponseError is a capability reply whose shape, keys or
// cardinality did not match the request. Raw holds the offending payload.
type MalformedResponseError struct {
	Reason string
	Raw    string
}

func (e *MalformedResponseError) Error() string {
	return "malformed response: " + e.Reason
}

// NewMalformed builds a MalformedResponseError.
func NewMalformed(raw, format string, args ...any) *MalformedResponseError {
	return &MalformedResponseError{Reason: fmt.Sprintf(format, args...), Raw: raw}
}

// StorageError is a checkpoint read or write failure. It is fatal for the
// job that hit it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return "storage " + e.Op + ": " + e.Err.Error() }
func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError wraps err as a storage failure for op.
func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}

// ConfigurationError is an invalid setting detected at startup.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration " + e.Field + ": " + e.Reason
}

// ErrBudgetExhausted is returned instead of issuing a call once the job's
// cost budget is spent.
var ErrBudgetExhausted = eris.New("resilience: cost budget exhausted")

// IsTransient reports whether err (or anything it wraps) is a transient
// failure. Network timeouts, connection resets and a handful of well-known
// client error strings count as transient even when not explicitly marked.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

var transientPatterns = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"overloaded",
}

// IsMalformed reports whether err is a MalformedResponseError.
func IsMalformed(err error) bool {
	var me *MalformedResponseError
	return errors.As(err, &me)
}

// IsStorage reports whether err is a StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsRetryable is the default retry predicate: transient failures and
// malformed responses are retried, everything else is not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBudgetExhausted) || errors.Is(err, ErrCircuitOpen) {
		return false
	}
	return IsTransient(err) || IsMalformed(err)
}

// IsTransientHTTPStatus reports whether an HTTP status is worth retrying.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504, 529:
		return true
	default:
		return false
	}
}

// ClassifyError buckets an error for failure summaries and logs.
func ClassifyError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBudgetExhausted):
		return "budget"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case IsMalformed(err):
		return "malformed"
	case IsTransient(err):
		return "transient"
	case IsStorage(err):
		return "storage"
	default:
		return "permanent"
	}
}
