package jobs

import (
	"errors"
	"fmt"
)

var (
	// ErrCommandNotFound is returned when no candidate path for a program exists.
	ErrCommandNotFound = errors.New("command not found")
	// ErrExecution is returned when a program exists but couldn't be executed.
	ErrExecution = errors.New("cannot execute")
	// ErrRedirection is returned when a redirection file couldn't be opened.
	ErrRedirection = errors.New("redirection failed")
	// ErrUnknownProcess is returned when a pid isn't in the process table.
	ErrUnknownProcess = errors.New("unknown process")
)

// StageError is a failure that prevented a single stage from starting.
type StageError struct {
	// Stage is the zero based index of the stage in the pipeline.
	Stage int
	// Name is the program the stage would have run.
	Name string
	Err  error
}

func (e *StageError) Error() string {
	switch {
	case errors.Is(e.Err, ErrCommandNotFound):
		return fmt.Sprintf("%s: command not found", e.Name)
	default:
		return e.Err.Error()
	}
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// ExitCode is the status a shell reports for a stage that never started.
func (e *StageError) ExitCode() int {
	switch {
	case errors.Is(e.Err, ErrCommandNotFound):
		return 127
	case errors.Is(e.Err, ErrExecution):
		return 126
	default:
		return 1
	}
}
