package workspaces

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"compat-backend/internal/shared/telemetry"
)

var (
	ErrRequirementsMissing = errors.New("requirements artifact missing")
	ErrSourceCodeMissing   = errors.New("source code artifact missing")
)

// Artifacts holds the resolved input paths for one workspace.
type Artifacts struct {
	Workspace        Workspace
	RequirementsPath string
	SourceCodePath   string
	// Substituted is true when the source code file was found by a fallback matcher.
	Substituted bool
}

// Matcher decides whether a directory entry can serve as the source code artifact.
type Matcher struct {
	Name  string
	Match func(name string) bool
}

// DefaultSourceMatchers is evaluated in order; the first matcher that
// accepts any entry wins.
var DefaultSourceMatchers = []Matcher{
	{Name: "exact", Match: func(name string) bool { return name == SourceCodeFile }},
	{Name: "sourcecode-json", Match: tokenWithSuffix("sourcecode", ".json")},
	{Name: "code-json", Match: tokenWithSuffix("code", ".json")},
}

func tokenWithSuffix(token, suffix string) func(string) bool {
	return func(name string) bool {
		lower := strings.ToLower(name)
		return strings.Contains(lower, token) && strings.HasSuffix(lower, suffix)
	}
}

// Locator resolves the input artifacts of a workspace.
type Locator struct {
	Resolver *Resolver
	Matchers []Matcher
}

// NewLocator constructs a Locator using the default source code matchers.
func NewLocator(resolver *Resolver) *Locator {
	return &Locator{Resolver: resolver, Matchers: DefaultSourceMatchers}
}

// Locate ensures the workspace directory exists and finds both inputs.
func (l *Locator) Locate(ctx context.Context, workspaceID string) (Artifacts, error) {
	if err := ctx.Err(); err != nil {
		return Artifacts{}, err
	}
	ws, err := l.Resolver.Ensure(workspaceID)
	if err != nil {
		return Artifacts{}, err
	}

	reqPath := ws.Path(RequirementsFile)
	if !isFile(reqPath) {
		return Artifacts{}, fmt.Errorf("%w: %s", ErrRequirementsMissing, RequirementsFile)
	}

	srcPath, matcher, err := l.findSourceCode(ws)
	if err != nil {
		return Artifacts{}, err
	}
	substituted := matcher != "exact"
	if substituted {
		telemetry.Warn("workspace.source_code_substituted", map[string]any{
			"workspace_id": ws.ID,
			"expected":     SourceCodeFile,
			"path":         srcPath,
			"matcher":      matcher,
		})
	}

	return Artifacts{
		Workspace:        ws,
		RequirementsPath: reqPath,
		SourceCodePath:   srcPath,
		Substituted:      substituted,
	}, nil
}

func (l *Locator) findSourceCode(ws Workspace) (string, string, error) {
	matchers := l.Matchers
	if len(matchers) == 0 {
		matchers = DefaultSourceMatchers
	}

	// os.ReadDir returns entries sorted by name, so "first match" is stable.
	entries, err := os.ReadDir(ws.Dir)
	if err != nil {
		return "", "", fmt.Errorf("list workspace dir: %w", err)
	}

	for _, m := range matchers {
		for _, entry := range entries {
			if !entry.Type().IsRegular() && !isSymlinkToFile(ws, entry) {
				continue
			}
			if m.Match(entry.Name()) {
				return ws.Path(entry.Name()), m.Name, nil
			}
		}
	}
	return "", "", fmt.Errorf("%w: %s", ErrSourceCodeMissing, SourceCodeFile)
}

func isSymlinkToFile(ws Workspace, entry fs.DirEntry) bool {
	if entry.Type()&fs.ModeSymlink == 0 {
		return false
	}
	return isFile(ws.Path(entry.Name()))
}

func isFile(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
