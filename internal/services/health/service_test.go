package health

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestStatusHealthy(t *testing.T) {
	svc := NewService(t.TempDir(), "python3", nil)
	svc.lookPath = func(name string) (string, error) { return "/usr/bin/" + name, nil }

	ok, checks := svc.Status(context.Background())
	if !ok {
		t.Fatalf("expected healthy, got %+v", checks)
	}
	if _, present := checks["database"]; present {
		t.Fatalf("database check must be skipped without a DB")
	}
	if checks["engine"].Detail != "/usr/bin/python3" {
		t.Fatalf("unexpected engine detail %q", checks["engine"].Detail)
	}
}

func TestStatusMissingEngine(t *testing.T) {
	svc := NewService(filepath.Join(t.TempDir(), "later"), "matcher", nil)
	svc.lookPath = func(string) (string, error) { return "", errors.New("not found") }

	ok, checks := svc.Status(context.Background())
	if ok {
		t.Fatalf("expected unhealthy")
	}
	if !checks["workspaces"].OK {
		t.Fatalf("missing workspaces dir is created lazily and must not fail health")
	}
}

func TestStatusWorkspacesIsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	svc := NewService(path, "sh", nil)
	svc.lookPath = func(name string) (string, error) { return name, nil }

	if ok, _ := svc.Status(context.Background()); ok {
		t.Fatalf("expected unhealthy when workspaces path is a file")
	}
}
