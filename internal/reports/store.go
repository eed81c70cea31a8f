package reports

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"compat-backend/internal/workspaces"
)

// Parse decodes a report document. Empty input is corrupt, not absent.
func Parse(data []byte) (*Report, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty report file", ErrCorrupt)
	}
	if bytes.Equal(trimmed, []byte("null")) {
		return nil, fmt.Errorf("%w: null document", ErrCorrupt)
	}
	var rep Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &rep, nil
}

// ReadFile loads and parses the report at path.
func ReadFile(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("read report: %w", err)
	}
	return Parse(data)
}

// Store serves persisted reports. It never writes; the engine owns the file.
type Store struct {
	Resolver *workspaces.Resolver
}

// NewStore constructs a Store.
func NewStore(resolver *workspaces.Resolver) *Store {
	return &Store{Resolver: resolver}
}

// Fetch returns the most recently persisted report for a workspace.
func (s *Store) Fetch(ctx context.Context, workspaceID string) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ws, err := s.Resolver.Resolve(workspaceID)
	if err != nil {
		return nil, err
	}
	return ReadFile(ws.ReportPath())
}
