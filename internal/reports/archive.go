package reports

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"

	"compat-backend/internal/shared/storage/object"
)

const archiveContentType = "application/json"

// Archive keeps a copy of every successful report in an object store,
// keyed by run, so earlier results survive the workspace file being overwritten.
type Archive struct {
	Store object.ObjectStore
}

// NewArchive returns nil when store is nil so callers can treat the archive as optional.
func NewArchive(store object.ObjectStore) *Archive {
	if store == nil {
		return nil
	}
	return &Archive{Store: store}
}

// Key is the storage key of a run's archived report.
func Key(workspaceID, runID string) string {
	return path.Join("workspaces", workspaceID, "reports", runID+".json")
}

// Put stores rep under the run's key.
func (a *Archive) Put(ctx context.Context, workspaceID, runID string, rep *Report) (string, error) {
	if rep == nil {
		return "", errors.New("nil report")
	}
	data, err := json.Marshal(rep)
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	key := Key(workspaceID, runID)
	if _, err := a.Store.SaveWithKey(ctx, key, archiveContentType, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("archive report: %w", err)
	}
	return key, nil
}

// Get loads an archived report.
func (a *Archive) Get(ctx context.Context, workspaceID, runID string) (*Report, error) {
	body, err := a.Store.Open(ctx, Key(workspaceID, runID))
	if err != nil {
		if errors.Is(err, object.ErrNotFound) {
			return nil, fmt.Errorf("%w: run %s", ErrNotFound, runID)
		}
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read archived report: %w", err)
	}
	return Parse(data)
}
