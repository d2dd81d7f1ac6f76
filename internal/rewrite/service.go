package rewrite

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a failed call to the generative service.
type ErrorKind string

const (
	KindRateLimited ErrorKind = "rate_limited"
	KindTransient   ErrorKind = "transient"
	KindFatal       ErrorKind = "fatal"
)

// Request is a single completion: an instruction applied to a piece of text.
type Request struct {
	Instruction string
	Text        string
}

// Service is the generative text backend. Implementations should return a
// *ServiceError so the client can decide whether to retry, and should stop
// work when ctx is done. The client stops waiting at the call timeout either
// way, so a backend that ignores ctx leaks only its own goroutine.
type Service interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ServiceError is a classified service failure.
type ServiceError struct {
	Kind ErrorKind
	Err  error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError wraps err with a kind.
func NewServiceError(kind ErrorKind, err error) *ServiceError {
	return &ServiceError{Kind: kind, Err: err}
}

// KindOf returns the classification of err. Unclassified deadline errors are
// transient; anything else unclassified is fatal.
func KindOf(err error) ErrorKind {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindFatal
}

// Retryable reports whether a failure of this kind earns a second attempt.
func (k ErrorKind) Retryable() bool {
	return k == KindRateLimited || k == KindTransient
}
