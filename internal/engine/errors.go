package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotConfigured     = errors.New("engine command not configured")
	ErrTimeout           = errors.New("engine timed out")
	ErrCanceled          = errors.New("engine run canceled")
	ErrReportNotProduced = errors.New("engine exited without producing a report")
)

// SpawnError indicates the engine process could not be started.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	if e.Err == nil {
		return "start engine " + e.Command
	}
	return fmt.Sprintf("start engine %s: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ExecutionError indicates the engine exited with a non-zero status.
// Stdout and Stderr hold the tail of each stream, capped at OutputTailBytes.
type ExecutionError struct {
	ExitCode int
	Stderr   string
	Stdout   string
}

func (e *ExecutionError) Error() string {
	if msg := strings.TrimSpace(e.Stderr); msg != "" {
		return msg
	}
	return fmt.Sprintf("engine exited with code %d", e.ExitCode)
}
