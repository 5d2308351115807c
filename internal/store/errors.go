package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/aws/smithy-go"
)

// ErrorType classifies store failures.
type ErrorType string

const (
	// ErrorTypeNotFound means the bucket or key does not exist.
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypePermission means the credentials were refused.
	ErrorTypePermission ErrorType = "permission"
	// ErrorTypeUnreachable means the store could not be reached or timed out.
	ErrorTypeUnreachable ErrorType = "unreachable"
	// ErrorTypeRejected means the store answered and refused the request.
	ErrorTypeRejected ErrorType = "rejected"
	// ErrorTypeConflict means a conditional write found the key taken.
	ErrorTypeConflict ErrorType = "conflict"
)

// StoreError is a classified error returned from store operations.
type StoreError struct {
	// Op is the operation that failed, e.g. "put_object".
	Op string
	// Key is the object key or bucket name involved.
	Key string
	// Type is the classified error type.
	Type ErrorType
	// StatusCode is the HTTP status code (0 for network errors).
	StatusCode int
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("store %s %q: %s (status %d): %v", e.Op, e.Key, e.Type, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("store %s %q: %s: %v", e.Op, e.Key, e.Type, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the same request may succeed later.
func (e *StoreError) IsRetryable() bool {
	if e.Type == ErrorTypeUnreachable {
		return true
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsRetryable reports whether err carries a retryable StoreError.
func IsRetryable(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.IsRetryable()
}

type httpStatusError interface {
	HTTPStatusCode() int
}

// classify wraps err from an SDK call into a *StoreError.
func classify(op, key string, err error) *StoreError {
	se := &StoreError{Op: op, Key: key, Err: err}

	var status httpStatusError
	if errors.As(err, &status) {
		se.StatusCode = status.HTTPStatusCode()
	}

	var apiErr smithy.APIError
	code := ""
	if errors.As(err, &apiErr) {
		code = apiErr.ErrorCode()
	}

	switch {
	case se.StatusCode == http.StatusNotFound, code == "NotFound", code == "NoSuchKey", code == "NoSuchBucket":
		se.Type = ErrorTypeNotFound
	case se.StatusCode == http.StatusForbidden, se.StatusCode == http.StatusUnauthorized,
		code == "AccessDenied", code == "InvalidAccessKeyId", code == "SignatureDoesNotMatch":
		se.Type = ErrorTypePermission
	case se.StatusCode == http.StatusPreconditionFailed, code == "PreconditionFailed",
		se.StatusCode == http.StatusConflict && code != "OperationAborted":
		se.Type = ErrorTypeConflict
	case se.StatusCode >= 500, se.StatusCode == http.StatusTooManyRequests:
		se.Type = ErrorTypeUnreachable
	case se.StatusCode != 0:
		se.Type = ErrorTypeRejected
	case isNetworkError(err):
		se.Type = ErrorTypeUnreachable
	default:
		se.Type = ErrorTypeRejected
	}
	return se
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
