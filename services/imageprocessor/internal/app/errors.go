package app

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a missing image file or image id.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRequest indicates a request that cannot be processed as given.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrPersistence indicates analysis results could not be committed.
	ErrPersistence = errors.New("persistence failure")
	// ErrQueueDisabled indicates async analysis is not configured.
	ErrQueueDisabled = errors.New("analysis queue not configured")
)

// Error pairs a sentinel kind with a caller-facing message.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	return e.Msg
}

// Unwrap exposes both the sentinel kind and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, cause error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}
