package reports

import (
	"context"
	"errors"
	"testing"

	"compat-backend/internal/shared/storage/object/local"
)

func TestArchivePutAndGet(t *testing.T) {
	archive := NewArchive(local.New(t.TempDir()))
	rep := &Report{
		Statistics:   Statistics{TotalRequirements: 1, ImplementedCount: 1, CoveragePercentage: 100},
		Requirements: []Requirement{{Requirement: "Login", Status: StatusImplemented, ImplementationDetails: "auth.go"}},
	}

	key, err := archive.Put(context.Background(), "ws-1", "run-1", rep)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if key != "workspaces/ws-1/reports/run-1.json" {
		t.Fatalf("unexpected key %q", key)
	}

	got, err := archive.Get(context.Background(), "ws-1", "run-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Requirements[0].Requirement != "Login" || got.Statistics.CoveragePercentage != 100 {
		t.Fatalf("unexpected archived report %+v", got)
	}
}

func TestArchiveGetMissingRun(t *testing.T) {
	archive := NewArchive(local.New(t.TempDir()))
	if _, err := archive.Get(context.Background(), "ws-1", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNewArchiveNilStore(t *testing.T) {
	if NewArchive(nil) != nil {
		t.Fatalf("expected nil archive for nil store")
	}
}
