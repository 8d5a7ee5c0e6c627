package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes for the scarf binary.
const (
	ExitSuccess = 0 // every task or instance was attempted, whatever its outcome
	ExitFailure = 1 // the invocation itself failed before any task ran
	ExitUsage   = 2 // bad flags or arguments
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func usageError(format string, args ...any) *ExitError {
	return &ExitError{Code: ExitUsage, Message: fmt.Sprintf(format, args...)}
}

func commandError(message string, err error) *ExitError {
	return &ExitError{Code: ExitFailure, Message: message, Err: err}
}

// ExitCode extracts the exit code from an error returned by Execute.
// Errors that are not ExitErrors map to ExitFailure.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
