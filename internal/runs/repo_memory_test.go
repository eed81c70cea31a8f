package runs

import (
	"context"
	"errors"
	"testing"
	"time"

	"compat-backend/internal/reports"
)

func TestMemoryRepoLifecycle(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"run-a", "run-b", "run-c"} {
		run := Run{ID: id, WorkspaceID: "ws-1", Status: StatusRunning, Trigger: TriggerHTTP, StartedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := repo.Create(ctx, run); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}
	if err := repo.Create(ctx, Run{ID: "other", WorkspaceID: "ws-2", StartedAt: base}); err != nil {
		t.Fatalf("Create other: %v", err)
	}

	stats := &reports.Statistics{TotalRequirements: 10, ImplementedCount: 7, CoveragePercentage: 70}
	if err := repo.Complete(ctx, "run-b", Outcome{Status: StatusSucceeded, Statistics: stats, CompletedAt: base.Add(time.Hour)}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	got, err := repo.GetByID(ctx, "ws-1", "run-b")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != StatusSucceeded || got.Statistics == nil || got.Statistics.ImplementedCount != 7 || got.CompletedAt == nil {
		t.Fatalf("unexpected completed run %+v", got)
	}

	list, err := repo.ListByWorkspace(ctx, "ws-1", 2)
	if err != nil {
		t.Fatalf("ListByWorkspace: %v", err)
	}
	if len(list) != 2 || list[0].ID != "run-c" || list[1].ID != "run-b" {
		t.Fatalf("unexpected list order %+v", list)
	}
}

func TestMemoryRepoNotFound(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	if err := repo.Create(ctx, Run{ID: "run-a", WorkspaceID: "ws-1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := repo.GetByID(ctx, "ws-2", "run-a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound across workspaces, got %v", err)
	}
	if err := repo.Complete(ctx, "missing", Outcome{Status: StatusFailed}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on complete, got %v", err)
	}
}
