package health

import (
	"context"
	"database/sql"
	"os"
	"os/exec"
	"time"
)

const dbPingTimeout = 2 * time.Second

// Check is the result of one dependency probe.
type Check struct {
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Service probes the dependencies an analysis run needs.
type Service struct {
	WorkspacesDir string
	EngineCommand string
	DB            *sql.DB

	lookPath func(string) (string, error)
}

// NewService constructs a health service.
func NewService(workspacesDir, engineCommand string, db *sql.DB) *Service {
	return &Service{
		WorkspacesDir: workspacesDir,
		EngineCommand: engineCommand,
		DB:            db,
		lookPath:      exec.LookPath,
	}
}

// Status runs every probe. ok is false when any probe fails.
func (s *Service) Status(ctx context.Context) (bool, map[string]Check) {
	checks := map[string]Check{
		"workspaces": s.checkWorkspaces(),
		"engine":     s.checkEngine(),
	}
	if s.DB != nil {
		checks["database"] = s.checkDB(ctx)
	}
	ok := true
	for _, c := range checks {
		ok = ok && c.OK
	}
	return ok, checks
}

func (s *Service) checkWorkspaces() Check {
	info, err := os.Stat(s.WorkspacesDir)
	if err != nil {
		if os.IsNotExist(err) {
			// Created lazily on the first analysis.
			return Check{OK: true, Detail: "not created yet"}
		}
		return Check{OK: false, Detail: err.Error()}
	}
	if !info.IsDir() {
		return Check{OK: false, Detail: "not a directory"}
	}
	return Check{OK: true}
}

func (s *Service) checkEngine() Check {
	if s.EngineCommand == "" {
		return Check{OK: false, Detail: "ENGINE_COMMAND is empty"}
	}
	lookPath := s.lookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	path, err := lookPath(s.EngineCommand)
	if err != nil {
		return Check{OK: false, Detail: err.Error()}
	}
	return Check{OK: true, Detail: path}
}

func (s *Service) checkDB(ctx context.Context) Check {
	pingCtx, cancel := context.WithTimeout(ctx, dbPingTimeout)
	defer cancel()
	if err := s.DB.PingContext(pingCtx); err != nil {
		return Check{OK: false, Detail: err.Error()}
	}
	return Check{OK: true}
}
