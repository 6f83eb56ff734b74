// Package svcerr carries the coded error type shared by the lifecycle, reclamation
// and usage services.
package svcerr

import (
	"context"
	"errors"
	"fmt"
)

// ErrTransientStore marks failures of the backing store (lock timeouts, lost
// connections) that callers may retry.
var ErrTransientStore = errors.New("store: transient failure")

// ServiceError is a failure tagged with a dotted operation.reason code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

// New builds a ServiceError with code "operation.reason".
func New(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// Transient builds a ServiceError whose chain includes ErrTransientStore.
func Transient(operation, reason string, cause error) error {
	if cause == nil {
		return New(operation, reason, ErrTransientStore)
	}
	return New(operation, reason, fmt.Errorf("%w: %w", ErrTransientStore, cause))
}

// IsRetryable reports whether err is a transient store failure. Cancellation is
// never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, ErrTransientStore)
}

// CodeOf returns the code of the outermost ServiceError in err's chain.
func CodeOf(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	return ""
}
