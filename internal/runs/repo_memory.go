package runs

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo stores runs in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu          sync.RWMutex
	byID        map[string]Run
	byWorkspace map[string][]string
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:        make(map[string]Run),
		byWorkspace: make(map[string][]string),
	}
}

// Create stores the run.
func (r *MemoryRepo) Create(ctx context.Context, run Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[run.ID] = run
	r.byWorkspace[run.WorkspaceID] = append(r.byWorkspace[run.WorkspaceID], run.ID)
	return nil
}

// Complete records the terminal state of a run.
func (r *MemoryRepo) Complete(ctx context.Context, runID string, outcome Outcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.byID[runID]
	if !ok {
		return ErrNotFound
	}
	run.Status = outcome.Status
	run.ErrorCode = outcome.ErrorCode
	run.ErrorMessage = outcome.ErrorMessage
	run.Statistics = outcome.Statistics
	run.ArchiveKey = outcome.ArchiveKey
	completed := outcome.CompletedAt
	run.CompletedAt = &completed
	r.byID[runID] = run
	return nil
}

// GetByID returns a run belonging to workspaceID.
func (r *MemoryRepo) GetByID(ctx context.Context, workspaceID, runID string) (Run, error) {
	if err := ctx.Err(); err != nil {
		return Run{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.byID[runID]
	if !ok || run.WorkspaceID != workspaceID {
		return Run{}, ErrNotFound
	}
	return run, nil
}

// ListByWorkspace returns runs for a workspace, newest first.
func (r *MemoryRepo) ListByWorkspace(ctx context.Context, workspaceID string, limit int) ([]Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	ids := r.byWorkspace[workspaceID]
	out := make([]Run, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.byID[id])
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit = clampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
