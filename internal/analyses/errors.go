package analyses

import (
	"context"
	"errors"

	"compat-backend/internal/engine"
	"compat-backend/internal/reports"
	"compat-backend/internal/workspaces"
)

var ErrQueueNotConfigured = errors.New("analysis queue not configured")

// Code tags every failure the orchestration layer reports.
type Code string

const (
	CodeRequirementsMissing   Code = "requirements_missing"
	CodeSourceCodeMissing     Code = "source_code_missing"
	CodeProcessSpawnError     Code = "process_spawn_error"
	CodeProcessExecutionError Code = "process_execution_error"
	CodeProcessTimeout        Code = "process_timeout"
	CodeReportNotProduced     Code = "report_not_produced"
	CodeReportCorrupt         Code = "report_corrupt"
	CodeReportNotFound        Code = "report_not_found"
	CodeAnalysisInProgress    Code = "analysis_in_progress"
	CodeAnalysisCanceled      Code = "analysis_canceled"
	CodeInvalidWorkspace      Code = "invalid_workspace"
	CodeInternal              Code = "internal_error"
)

// Error is the single error type returned by Service operations.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the tag carried by err, or CodeInternal for untagged errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

func newError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// classify maps component errors onto tagged errors.
func classify(err error) *Error {
	if err == nil {
		return nil
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged
	}

	var spawnErr *engine.SpawnError
	var execErr *engine.ExecutionError
	switch {
	case errors.Is(err, workspaces.ErrInvalidID):
		return newError(CodeInvalidWorkspace, "workspace id is invalid", err)
	case errors.Is(err, workspaces.ErrRequirementsMissing):
		return newError(CodeRequirementsMissing, "requirements artifact not found in workspace", err)
	case errors.Is(err, workspaces.ErrSourceCodeMissing):
		return newError(CodeSourceCodeMissing, "source code artifact not found in workspace", err)
	case errors.As(err, &spawnErr):
		return newError(CodeProcessSpawnError, spawnErr.Error(), err)
	case errors.Is(err, engine.ErrNotConfigured):
		return newError(CodeProcessSpawnError, err.Error(), err)
	case errors.As(err, &execErr):
		return newError(CodeProcessExecutionError, execErr.Error(), err)
	case errors.Is(err, engine.ErrTimeout):
		return newError(CodeProcessTimeout, "analysis engine timed out", err)
	case errors.Is(err, engine.ErrCanceled),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return newError(CodeAnalysisCanceled, "analysis canceled", err)
	case errors.Is(err, engine.ErrReportNotProduced):
		return newError(CodeReportNotProduced, "analysis engine exited without writing a report", err)
	case errors.Is(err, reports.ErrCorrupt):
		return newError(CodeReportCorrupt, err.Error(), err)
	case errors.Is(err, reports.ErrNotFound):
		return newError(CodeReportNotFound, "no compatibility report for this workspace", err)
	default:
		return newError(CodeInternal, "internal error", err)
	}
}
