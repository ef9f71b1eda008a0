package command

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrExit ends the REPL or batch. It is not a failure.
	ErrExit = errors.New("exit")

	ErrUnknownCommand = errors.New("unknown command")
	ErrUsage          = errors.New("usage")

	ErrAlreadyConnected  = errors.New("already connected")
	ErrNotConnected      = errors.New("not connected")
	ErrAlreadyAttached   = errors.New("already attached")
	ErrNotAttached       = errors.New("not attached")
	ErrContextNotRunning = errors.New("context not running")
	ErrUnsupportedTarget = errors.New("unsupported target")
)

// PreconditionError is a verb refused before any network I/O.
type PreconditionError struct {
	Verb   string
	Reason string
	Err    error
}

func (e *PreconditionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: %v", e.Verb, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Verb, e.Reason)
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

func precondition(verb string, err error, format string, args ...any) error {
	return &PreconditionError{Verb: verb, Reason: fmt.Sprintf(format, args...), Err: err}
}

// FormatError renders err as one operator-facing line.
func FormatError(err error) string {
	if err == nil {
		return ""
	}
	return strings.Join(strings.Fields(err.Error()), " ")
}
