package bootstrap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"compat-backend/internal/runs"
	"compat-backend/internal/shared/config"
)

func devConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		Env:                "dev",
		WorkspacesDir:      filepath.Join(dir, "workspaces"),
		EngineCommand:      "sh",
		CredentialPrefix:   "ANALYSIS_API_KEY",
		CredentialSlots:    10,
		AnalysisContention: config.ContentionWait,
		ObjectStoreType:    "local",
		LocalStoreDir:      filepath.Join(dir, "data"),
	}
}

func TestBuildDevUsesMemoryRepos(t *testing.T) {
	app, err := Build(devConfig(t))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if app.DB != nil {
		t.Fatalf("expected no database in dev without DATABASE_URL")
	}
	if _, ok := app.Runs.(*runs.MemoryRepo); !ok {
		t.Fatalf("expected memory run repo, got %T", app.Runs)
	}
	if app.AnalysesService.Archive == nil {
		t.Fatalf("expected archive with local object store")
	}
	if app.Queue != nil {
		t.Fatalf("expected no queue without RA_SQS_QUEUE_URL")
	}
	if app.Router == nil {
		t.Fatalf("expected router")
	}

	w := httptest.NewRecorder()
	app.Router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/workspaces/ws-empty/analysis", nil))
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for a workspace without requirements, got %d: %s", w.Code, w.Body.String())
	}
}

func TestBuildWithoutObjectStore(t *testing.T) {
	cfg := devConfig(t)
	cfg.ObjectStoreType = "none"

	app, err := BuildWith(context.Background(), cfg, Options{SkipRouter: true})
	if err != nil {
		t.Fatalf("BuildWith: %v", err)
	}
	if app.Store != nil || app.AnalysesService.Archive != nil {
		t.Fatalf("expected archive disabled")
	}
	if app.Router != nil {
		t.Fatalf("expected no router")
	}
}

func TestBuildProductionRequiresDatabase(t *testing.T) {
	cfg := devConfig(t)
	cfg.Env = "production"

	if _, err := Build(cfg); err == nil {
		t.Fatalf("expected error without DATABASE_URL in production")
	}
}

func TestBuildS3RequiresBucket(t *testing.T) {
	cfg := devConfig(t)
	cfg.ObjectStoreType = "s3"

	if _, err := Build(cfg); err == nil {
		t.Fatalf("expected error without S3_BUCKET")
	}
}
