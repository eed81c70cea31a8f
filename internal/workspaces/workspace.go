package workspaces

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"compat-backend/internal/shared/util"
)

// Fixed artifact names inside a workspace directory.
const (
	RequirementsFile = "requirements.csv"
	SourceCodeFile   = "sourcecode.json"
	ReportFile       = "compatibility_report.json"
)

var ErrInvalidID = errors.New("invalid workspace id")

// Workspace identifies one analysis target and its artifact directory.
type Workspace struct {
	ID  string
	Dir string
}

// Resolver maps workspace identifiers onto directories under a root.
type Resolver struct {
	Root string
}

// NewResolver constructs a Resolver rooted at root.
func NewResolver(root string) *Resolver {
	return &Resolver{Root: root}
}

// Resolve returns the workspace for id without touching the filesystem.
func (r *Resolver) Resolve(id string) (Workspace, error) {
	id = strings.TrimSpace(id)
	if err := util.ValidateSegment(id); err != nil {
		return Workspace{}, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	dir, err := util.SafeJoin(r.Root, id)
	if err != nil {
		return Workspace{}, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return Workspace{ID: id, Dir: dir}, nil
}

// Ensure resolves id and creates its directory if absent.
func (r *Resolver) Ensure(id string) (Workspace, error) {
	ws, err := r.Resolve(id)
	if err != nil {
		return Workspace{}, err
	}
	if err := os.MkdirAll(ws.Dir, 0o755); err != nil {
		return Workspace{}, fmt.Errorf("create workspace dir: %w", err)
	}
	return ws, nil
}

// Path returns the absolute path of name inside the workspace.
func (w Workspace) Path(name string) string {
	p, err := util.SafeJoin(w.Dir, name)
	if err != nil {
		return ""
	}
	return p
}

// ReportPath is where the engine writes the compatibility report.
func (w Workspace) ReportPath() string {
	return w.Path(ReportFile)
}
