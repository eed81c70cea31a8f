package runs

import "context"

// Repo persists run history.
type Repo interface {
	Create(ctx context.Context, run Run) error
	Complete(ctx context.Context, runID string, outcome Outcome) error
	GetByID(ctx context.Context, workspaceID, runID string) (Run, error)
	ListByWorkspace(ctx context.Context, workspaceID string, limit int) ([]Run, error)
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
