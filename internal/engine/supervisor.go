package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"compat-backend/internal/reports"
	"compat-backend/internal/shared/telemetry"
	"compat-backend/internal/workspaces"
)

const (
	defaultModulePathVar = "PYTHONPATH"
	defaultCredentialKey = "ANALYSIS_API_KEY"
	defaultWaitDelay     = 5 * time.Second

	// OutputTailBytes caps the stdout and stderr retained for diagnostics.
	OutputTailBytes = 64 << 10
)

// Supervisor launches the analysis engine as a child process and resolves
// its exit into a parsed report or a typed error.
type Supervisor struct {
	Command          string
	Args             []string
	Dir              string
	Timeout          time.Duration
	ModulePath       string
	ModulePathVar    string
	CredentialPrefix string
	// WaitDelay bounds how long Run waits for the output pipes to close after
	// the engine exits. Descendants still holding them are killed. Zero means 5s.
	WaitDelay time.Duration
}

// Invocation describes a single engine run.
type Invocation struct {
	WorkspaceID      string
	RequirementsPath string
	SourceCodePath   string
	OutputDir        string
	Credentials      []string
	LineSink         LineSink
}

// Run starts the engine, waits for it, and returns the report it wrote.
// It never retries.
func (s *Supervisor) Run(ctx context.Context, inv Invocation) (*reports.Report, error) {
	if s == nil || strings.TrimSpace(s.Command) == "" {
		return nil, ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCanceled, err)
	}

	reportPath := filepath.Join(inv.OutputDir, workspaces.ReportFile)
	before := statFile(reportPath)

	runCtx := ctx
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	cmd := exec.Command(s.Command, s.args(inv)...)
	cmd.Dir = s.Dir
	cmd.Env = s.env(os.Environ(), inv.Credentials)
	cmd.WaitDelay = s.waitDelay()
	setProcessGroup(cmd)

	fanout := &outputFanout{
		fields: map[string]any{"workspace_id": inv.WorkspaceID},
		sink:   inv.LineSink,
	}
	stdout := newTailBuffer(OutputTailBytes)
	stderr := newTailBuffer(OutputTailBytes)
	stdoutLines := newLineWriter("stdout", fanout.emit)
	stderrLines := newLineWriter("stderr", fanout.emit)
	cmd.Stdout = io.MultiWriter(stdout, stdoutLines)
	cmd.Stderr = io.MultiWriter(stderr, stderrLines)

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Command: s.Command, Err: err}
	}
	telemetry.Info("engine.started", map[string]any{
		"workspace_id": inv.WorkspaceID,
		"pid":          cmd.Process.Pid,
		"credentials":  len(inv.Credentials),
	})

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var waitErr error
	select {
	case <-runCtx.Done():
		killProcessGroup(cmd)
		<-done
		stdoutLines.Flush()
		stderrLines.Flush()
		fields := map[string]any{
			"workspace_id": inv.WorkspaceID,
			"duration_ms":  time.Since(started).Milliseconds(),
		}
		if ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			telemetry.Warn("engine.timeout", fields)
			return nil, fmt.Errorf("%w after %s", ErrTimeout, s.Timeout)
		}
		telemetry.Warn("engine.canceled", fields)
		return nil, fmt.Errorf("%w: %v", ErrCanceled, ctx.Err())
	case waitErr = <-done:
	}
	// Background helpers the engine left behind share its group.
	killProcessGroup(cmd)
	stdoutLines.Flush()
	stderrLines.Flush()

	exitCode := 0
	switch {
	case waitErr == nil:
	case errors.Is(waitErr, exec.ErrWaitDelay):
		// The engine itself exited 0; only a descendant kept the pipes open.
		telemetry.Warn("engine.pipes_held", map[string]any{
			"workspace_id":  inv.WorkspaceID,
			"wait_delay_ms": s.waitDelay().Milliseconds(),
		})
	default:
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return nil, fmt.Errorf("wait engine: %w", waitErr)
		}
		exitCode = exitErr.ExitCode()
	}
	telemetry.Info("engine.exited", map[string]any{
		"workspace_id": inv.WorkspaceID,
		"exit_code":    exitCode,
		"duration_ms":  time.Since(started).Milliseconds(),
	})
	if exitCode != 0 {
		telemetry.Warn("engine.failed", map[string]any{
			"workspace_id":     inv.WorkspaceID,
			"exit_code":        exitCode,
			"stdout_tail":      stdout.String(),
			"stdout_truncated": stdout.Truncated(),
			"stderr_truncated": stderr.Truncated(),
		})
		return nil, &ExecutionError{ExitCode: exitCode, Stderr: stderr.String(), Stdout: stdout.String()}
	}

	after := statFile(reportPath)
	if !after.exists || after.same(before) {
		return nil, ErrReportNotProduced
	}

	rep, err := reports.ReadFile(reportPath)
	if err != nil {
		if errors.Is(err, reports.ErrNotFound) {
			return nil, ErrReportNotProduced
		}
		return nil, err
	}
	return rep, nil
}

func (s *Supervisor) waitDelay() time.Duration {
	if s.WaitDelay > 0 {
		return s.WaitDelay
	}
	return defaultWaitDelay
}

func (s *Supervisor) args(inv Invocation) []string {
	args := make([]string, 0, len(s.Args)+8)
	args = append(args, s.Args...)
	args = append(args,
		"--requirements", inv.RequirementsPath,
		"--source-code", inv.SourceCodePath,
		"--output-dir", inv.OutputDir,
	)
	if len(inv.Credentials) > 0 {
		args = append(args, "--api-keys", strings.Join(inv.Credentials, ","))
	}
	return args
}

// env returns base plus one indexed variable per credential and the module
// search path. The parent's own <prefix> and <prefix>_<n> entries are dropped
// so the child sees exactly the pool it was handed, re-indexed from 0.
func (s *Supervisor) env(base []string, creds []string) []string {
	prefix := strings.TrimSpace(s.CredentialPrefix)
	if prefix == "" {
		prefix = defaultCredentialKey
	}
	env := make([]string, 0, len(base)+len(creds)+1)
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if isCredentialKey(key, prefix) {
			continue
		}
		env = append(env, kv)
	}
	for i, cred := range creds {
		env = append(env, prefix+"_"+strconv.Itoa(i)+"="+cred)
	}

	if modulePath := strings.TrimSpace(s.ModulePath); modulePath != "" {
		name := strings.TrimSpace(s.ModulePathVar)
		if name == "" {
			name = defaultModulePathVar
		}
		value := modulePath
		if existing := lookupEnv(base, name); existing != "" {
			value = modulePath + string(os.PathListSeparator) + existing
		}
		env = append(env, name+"="+value)
	}
	return env
}

func isCredentialKey(key, prefix string) bool {
	if key == prefix {
		return true
	}
	suffix, ok := strings.CutPrefix(key, prefix+"_")
	if !ok || suffix == "" {
		return false
	}
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func lookupEnv(env []string, key string) string {
	value := ""
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok && k == key {
			value = v
		}
	}
	return value
}

type fileStamp struct {
	exists  bool
	modTime time.Time
	size    int64
}

func (f fileStamp) same(other fileStamp) bool {
	return f.exists == other.exists && f.size == other.size && f.modTime.Equal(other.modTime)
}

func statFile(path string) fileStamp {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return fileStamp{}
	}
	return fileStamp{exists: true, modTime: info.ModTime(), size: info.Size()}
}
