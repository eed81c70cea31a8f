package analyses

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"compat-backend/internal/engine"
	"compat-backend/internal/queue"
	"compat-backend/internal/reports"
	"compat-backend/internal/runs"
	"compat-backend/internal/shared/metrics"
	"compat-backend/internal/shared/telemetry"
	"compat-backend/internal/shared/util"
	"compat-backend/internal/workspaces"
)

const (
	PolicyWait   = "wait"
	PolicyReject = "reject"
)

// Locator resolves a workspace's input artifacts.
type Locator interface {
	Locate(ctx context.Context, workspaceID string) (workspaces.Artifacts, error)
}

// CredentialCollector returns the credentials handed to one engine run.
type CredentialCollector interface {
	Collect() []string
}

// CollectorFunc adapts a function to CredentialCollector.
type CollectorFunc func() []string

func (f CollectorFunc) Collect() []string { return f() }

// Runner executes the analysis engine.
type Runner interface {
	Run(ctx context.Context, inv engine.Invocation) (*reports.Report, error)
}

// ReportFetcher reads a workspace's persisted report.
type ReportFetcher interface {
	Fetch(ctx context.Context, workspaceID string) (*reports.Report, error)
}

// Service orchestrates analysis runs and report retrieval.
type Service struct {
	Locator     Locator
	Credentials CredentialCollector
	Runner      Runner
	Reports     ReportFetcher
	Runs        runs.Repo
	Archive     *reports.Archive
	Queue       queue.Client
	Contention  string
	LineSink    engine.LineSink

	group  singleflight.Group
	mu     sync.Mutex
	active map[string]struct{}
}

// RunAnalysis runs the engine for a workspace and returns the resulting report.
// At most one run per workspace is in flight; see Contention.
func (s *Service) RunAnalysis(ctx context.Context, workspaceID string) (*reports.Report, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	if err := util.ValidateSegment(workspaceID); err != nil {
		return nil, newError(CodeInvalidWorkspace, "workspace id is invalid", err)
	}

	if s.Contention == PolicyReject {
		if !s.acquire(workspaceID) {
			metrics.IncRunRejected()
			telemetry.Info("analysis.rejected", map[string]any{
				"workspace_id": workspaceID,
				"request_id":   requestIDFromContext(ctx),
			})
			return nil, newError(CodeAnalysisInProgress, "an analysis is already running for this workspace", nil)
		}
	} else if s.isActive(workspaceID) {
		metrics.IncRunJoined()
		telemetry.Info("analysis.joined", map[string]any{
			"workspace_id": workspaceID,
			"request_id":   requestIDFromContext(ctx),
		})
	}

	// The run outlives the caller; a caller that gives up only stops waiting.
	detached := context.WithoutCancel(ctx)
	ch := s.group.DoChan(workspaceID, func() (any, error) {
		if s.Contention != PolicyReject {
			s.markActive(workspaceID)
		}
		defer s.release(workspaceID)
		return s.execute(detached, workspaceID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*reports.Report), nil
	case <-ctx.Done():
		return nil, newError(CodeAnalysisCanceled, "stopped waiting for analysis", ctx.Err())
	}
}

// FetchReport returns the last persisted report without running anything.
func (s *Service) FetchReport(ctx context.Context, workspaceID string) (*reports.Report, error) {
	rep, err := s.Reports.Fetch(ctx, strings.TrimSpace(workspaceID))
	if err != nil {
		return nil, classify(err)
	}
	return rep, nil
}

// ProcessWorkspace runs an analysis on behalf of the queue worker.
func (s *Service) ProcessWorkspace(ctx context.Context, workspaceID string) error {
	_, err := s.RunAnalysis(WithTrigger(ctx, runs.TriggerQueue), workspaceID)
	return err
}

// Active reports whether a run is in flight for the workspace.
func (s *Service) Active(workspaceID string) bool {
	return s.isActive(strings.TrimSpace(workspaceID))
}

// Enqueue schedules a run through the queue instead of running inline.
func (s *Service) Enqueue(ctx context.Context, workspaceID string) error {
	workspaceID = strings.TrimSpace(workspaceID)
	if err := util.ValidateSegment(workspaceID); err != nil {
		return newError(CodeInvalidWorkspace, "workspace id is invalid", err)
	}
	if s.Queue == nil {
		return ErrQueueNotConfigured
	}
	msg := queue.Message{
		WorkspaceID: workspaceID,
		RequestID:   requestIDFromContext(ctx),
		EnqueuedAt:  time.Now().UTC().Format(time.RFC3339),
		Version:     queue.MessageVersion,
	}
	if err := s.Queue.Send(ctx, msg); err != nil {
		telemetry.Error("analysis.enqueue_failed", map[string]any{
			"workspace_id": workspaceID,
			"request_id":   msg.RequestID,
			"error":        err.Error(),
		})
		return newError(CodeInternal, "failed to enqueue analysis", err)
	}
	telemetry.Info("analysis.enqueued", map[string]any{
		"workspace_id": workspaceID,
		"request_id":   msg.RequestID,
	})
	return nil
}

// ListRuns returns recorded runs for a workspace, newest first.
func (s *Service) ListRuns(ctx context.Context, workspaceID string, limit int) ([]runs.Run, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	if err := util.ValidateSegment(workspaceID); err != nil {
		return nil, newError(CodeInvalidWorkspace, "workspace id is invalid", err)
	}
	if s.Runs == nil {
		return []runs.Run{}, nil
	}
	list, err := s.Runs.ListByWorkspace(ctx, workspaceID, limit)
	if err != nil {
		return nil, newError(CodeInternal, "failed to list runs", err)
	}
	return list, nil
}

// RunReport returns the archived report of a specific run.
func (s *Service) RunReport(ctx context.Context, workspaceID, runID string) (*reports.Report, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	if err := util.ValidateSegment(workspaceID); err != nil {
		return nil, newError(CodeInvalidWorkspace, "workspace id is invalid", err)
	}
	if err := util.ValidateSegment(runID); err != nil || s.Archive == nil {
		return nil, newError(CodeReportNotFound, "no archived report for this run", reports.ErrNotFound)
	}
	if s.Runs != nil {
		if _, err := s.Runs.GetByID(ctx, workspaceID, runID); err != nil {
			if errors.Is(err, runs.ErrNotFound) {
				return nil, newError(CodeReportNotFound, "no archived report for this run", err)
			}
			return nil, newError(CodeInternal, "failed to load run", err)
		}
	}
	rep, err := s.Archive.Get(ctx, workspaceID, runID)
	if err != nil {
		return nil, classify(err)
	}
	return rep, nil
}

// execute performs one run: locate, collect, run, fetch.
func (s *Service) execute(ctx context.Context, workspaceID string) (*reports.Report, error) {
	started := time.Now()
	requestID := requestIDFromContext(ctx)

	arts, locErr := s.Locator.Locate(ctx, workspaceID)
	if locErr != nil && errors.Is(locErr, workspaces.ErrInvalidID) {
		return nil, classify(locErr)
	}

	var creds []string
	if locErr == nil {
		creds = s.Credentials.Collect()
	}

	run := runs.Run{
		ID:              runs.NewID(),
		WorkspaceID:     workspaceID,
		Status:          runs.StatusRunning,
		Trigger:         triggerFromContext(ctx),
		RequestID:       requestID,
		CredentialCount: len(creds),
		StartedAt:       started.UTC(),
	}
	s.recordStart(ctx, run)
	metrics.IncRunStarted()
	logStatus(run, runs.StatusRunning, nil)

	if locErr != nil {
		return nil, s.fail(ctx, run, started, classify(locErr))
	}
	if arts.Substituted {
		telemetry.Warn("analysis.source_code_substituted", map[string]any{
			"workspace_id": workspaceID,
			"run_id":       run.ID,
			"path":         arts.SourceCodePath,
		})
	}
	if len(creds) == 0 {
		telemetry.Warn("analysis.no_credentials", map[string]any{
			"workspace_id": workspaceID,
			"run_id":       run.ID,
		})
	}

	produced, err := s.Runner.Run(ctx, engine.Invocation{
		WorkspaceID:      workspaceID,
		RequirementsPath: arts.RequirementsPath,
		SourceCodePath:   arts.SourceCodePath,
		OutputDir:        arts.Workspace.Dir,
		Credentials:      creds,
		LineSink:         s.LineSink,
	})
	metrics.ObserveRunDuration(time.Since(started))
	if err != nil {
		return nil, s.fail(ctx, run, started, classify(err))
	}

	rep := produced
	if s.Reports != nil {
		rep, err = s.Reports.Fetch(ctx, workspaceID)
		if err != nil {
			return nil, s.fail(ctx, run, started, classify(err))
		}
	}

	archiveKey := ""
	if s.Archive != nil {
		key, err := s.Archive.Put(ctx, workspaceID, run.ID, rep)
		if err != nil {
			telemetry.Warn("analysis.archive_failed", map[string]any{
				"workspace_id": workspaceID,
				"run_id":       run.ID,
				"error":        err.Error(),
			})
		} else {
			archiveKey = key
		}
	}

	stats := rep.Statistics
	s.recordOutcome(ctx, run, runs.Outcome{
		Status:      runs.StatusSucceeded,
		Statistics:  &stats,
		ArchiveKey:  archiveKey,
		CompletedAt: time.Now().UTC(),
	})
	metrics.IncRunSucceeded()
	logStatus(run, runs.StatusSucceeded, map[string]any{
		"duration_ms":  time.Since(started).Milliseconds(),
		"total":        stats.TotalRequirements,
		"implemented":  stats.ImplementedCount,
		"coverage_pct": stats.CoveragePercentage,
	})
	return rep, nil
}

func (s *Service) fail(ctx context.Context, run runs.Run, started time.Time, err *Error) *Error {
	s.recordOutcome(ctx, run, runs.Outcome{
		Status:       runs.StatusFailed,
		ErrorCode:    string(err.Code),
		ErrorMessage: err.Error(),
		CompletedAt:  time.Now().UTC(),
	})
	metrics.IncRunFailed(string(err.Code))
	fields := map[string]any{
		"duration_ms": time.Since(started).Milliseconds(),
		"error_code":  string(err.Code),
		"error":       err.Error(),
	}
	if err.Err != nil {
		fields["cause"] = err.Err.Error()
	}
	logStatus(run, runs.StatusFailed, fields)
	return err
}

func (s *Service) recordStart(ctx context.Context, run runs.Run) {
	if s.Runs == nil {
		return
	}
	if err := s.Runs.Create(ctx, run); err != nil {
		telemetry.Warn("analysis.run_record_failed", map[string]any{
			"workspace_id": run.WorkspaceID,
			"run_id":       run.ID,
			"error":        err.Error(),
		})
	}
}

func (s *Service) recordOutcome(ctx context.Context, run runs.Run, outcome runs.Outcome) {
	if s.Runs == nil {
		return
	}
	if err := s.Runs.Complete(ctx, run.ID, outcome); err != nil {
		telemetry.Warn("analysis.run_record_failed", map[string]any{
			"workspace_id": run.WorkspaceID,
			"run_id":       run.ID,
			"error":        err.Error(),
		})
	}
}

func logStatus(run runs.Run, status string, extra map[string]any) {
	fields := map[string]any{
		"workspace_id": run.WorkspaceID,
		"run_id":       run.ID,
		"request_id":   run.RequestID,
		"trigger":      run.Trigger,
		"status":       status,
	}
	for k, v := range extra {
		fields[k] = v
	}
	if status == runs.StatusFailed {
		telemetry.Error("analysis.status", fields)
		return
	}
	telemetry.Info("analysis.status", fields)
}

func (s *Service) acquire(workspaceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		s.active = make(map[string]struct{})
	}
	if _, busy := s.active[workspaceID]; busy {
		return false
	}
	s.active[workspaceID] = struct{}{}
	return true
}

func (s *Service) markActive(workspaceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		s.active = make(map[string]struct{})
	}
	s.active[workspaceID] = struct{}{}
}

func (s *Service) release(workspaceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, workspaceID)
}

func (s *Service) isActive(workspaceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[workspaceID]
	return ok
}
