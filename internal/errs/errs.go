// Package errs defines the error kinds shared by the scarf packages.
//
// Every failure the harness reports carries exactly one kind. Callers match
// kinds with errors.Is against the sentinels below; the underlying cause, if
// any, stays reachable through errors.Unwrap.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks invalid or contradictory user-supplied parameters.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotFound marks a missing marker file, framework tree or agent entry point.
	ErrNotFound = errors.New("not found")
	// ErrIO marks filesystem traversal, copy or write failures.
	ErrIO = errors.New("io error")
	// ErrCorruptMetadata marks a metadata.json that does not match its schema.
	ErrCorruptMetadata = errors.New("corrupt metadata")
	// ErrMalformedInstanceID marks an instance id that does not have five segments.
	ErrMalformedInstanceID = errors.New("malformed instance id")
	// ErrSpawn marks a subprocess that could not be started.
	ErrSpawn = errors.New("spawn error")
	// ErrTaskFailure marks a subprocess that ran but exited non-zero.
	ErrTaskFailure = errors.New("task failure")
)

var kinds = []error{
	ErrConfiguration,
	ErrNotFound,
	ErrIO,
	ErrCorruptMetadata,
	ErrMalformedInstanceID,
	ErrSpawn,
	ErrTaskFailure,
}

// Error is a kinded error with an optional cause.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Is(target error) bool {
	return e.Kind == target
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an error of the given kind.
func New(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an error of the given kind caused by err.
func Wrap(kind, err error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Configf(format string, args ...any) error {
	return New(ErrConfiguration, format, args...)
}

func NotFoundf(format string, args ...any) error {
	return New(ErrNotFound, format, args...)
}

func IO(err error, format string, args ...any) error {
	return Wrap(ErrIO, err, format, args...)
}

// KindOf returns the sentinel kind carried by err, or nil when err has none.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
