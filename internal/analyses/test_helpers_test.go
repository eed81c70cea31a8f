package analyses

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"compat-backend/internal/engine"
	"compat-backend/internal/reports"
	"compat-backend/internal/workspaces"
)

func writeWorkspaceFile(t *testing.T, root, workspaceID, name, body string) {
	t.Helper()
	dir := filepath.Join(root, workspaceID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func seedWorkspace(t *testing.T, root, workspaceID string) {
	t.Helper()
	writeWorkspaceFile(t, root, workspaceID, workspaces.RequirementsFile, "id,requirement\n1,Login\n")
	writeWorkspaceFile(t, root, workspaceID, workspaces.SourceCodeFile, `{"files":[]}`)
}

func writeEngineScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "engine.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

// reportJSON builds a report with total entries, the first implemented of which are implemented.
func reportJSON(total, implemented int) string {
	entries := make([]string, 0, total)
	for i := 0; i < total; i++ {
		status := "not_implemented"
		details := ""
		if i < implemented {
			status = "implemented"
			details = fmt.Sprintf("module_%d.go", i)
		}
		entries = append(entries, fmt.Sprintf(`{"requirement":"REQ-%d","status":"%s","implementation_details":"%s"}`, i+1, status, details))
	}
	stats := fmt.Sprintf(`{"total_requirements":%d,"implemented_count":%d,"missing_requirements":%d,"unknown_requirements":0,"coverage_percentage":%s}`,
		total, implemented, total-implemented, fmt.Sprint(reports.Coverage(implemented, total)))
	return `{"statistics":` + stats + `,"requirements":[` + strings.Join(entries, ",") + `]}`
}

type countingCollector struct {
	creds []string
	calls atomic.Int32
}

func (c *countingCollector) Collect() []string {
	c.calls.Add(1)
	return c.creds
}

// blockingRunner writes nothing; it returns rep once released.
type blockingRunner struct {
	rep     *reports.Report
	err     error
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
	once    sync.Once

	mu     sync.Mutex
	ctxErr error
}

func newBlockingRunner(rep *reports.Report) *blockingRunner {
	return &blockingRunner{
		rep:     rep,
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (r *blockingRunner) Run(ctx context.Context, inv engine.Invocation) (*reports.Report, error) {
	r.calls.Add(1)
	r.once.Do(func() { close(r.started) })
	<-r.release
	r.mu.Lock()
	r.ctxErr = ctx.Err()
	r.mu.Unlock()
	return r.rep, r.err
}

func (r *blockingRunner) observedCtxErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ctxErr
}

type stubRunner struct {
	rep   *reports.Report
	err   error
	calls atomic.Int32
}

func (r *stubRunner) Run(ctx context.Context, inv engine.Invocation) (*reports.Report, error) {
	r.calls.Add(1)
	return r.rep, r.err
}

func sampleReport() *reports.Report {
	reqs := []reports.Requirement{
		{Requirement: "Login", Status: reports.StatusImplemented, ImplementationDetails: "auth.go"},
		{Requirement: "Export", Status: reports.StatusNotImplemented},
	}
	return &reports.Report{Statistics: reports.Summarize(reqs), Requirements: reqs}
}

func writeFileAtomic(path, body string) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(body), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
