package analyses

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"compat-backend/internal/engine"
	"compat-backend/internal/queue"
	"compat-backend/internal/reports"
	"compat-backend/internal/runs"
	"compat-backend/internal/shared/server/middleware"
	"compat-backend/internal/workspaces"
)

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func setupAnalysisRouter(t *testing.T, runner Runner) (*gin.Engine, *Service, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	root := t.TempDir()
	resolver := workspaces.NewResolver(root)
	svc := &Service{
		Locator:     workspaces.NewLocator(resolver),
		Credentials: CollectorFunc(func() []string { return nil }),
		Runner:      runner,
		Reports:     reports.NewStore(resolver),
		Runs:        runs.NewMemoryRepo(),
	}
	handler := NewHandler(svc, nil)

	router := gin.New()
	router.Use(middleware.RequestID())
	api := router.Group("/api/v1")
	handler.RegisterRoutes(api)
	return router, svc, root
}

func doRequest(router *gin.Engine, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

// writingRunner writes the report into the workspace the way the engine does.
type writingRunner struct {
	body string
}

func (w writingRunner) Run(ctx context.Context, inv engine.Invocation) (*reports.Report, error) {
	path := inv.OutputDir + "/" + workspaces.ReportFile
	if err := writeFileAtomic(path, w.body); err != nil {
		return nil, err
	}
	return reports.ReadFile(path)
}

func TestRunAnalysisEndpointReturnsReport(t *testing.T) {
	router, _, root := setupAnalysisRouter(t, writingRunner{body: reportJSON(10, 7)})
	seedWorkspace(t, root, "ws-1")

	resp := doRequest(router, http.MethodPost, "/api/v1/workspaces/ws-1/analysis")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var body struct {
		Success      bool   `json:"success"`
		WorkspaceID  string `json:"workspaceId"`
		Statistics   map[string]any
		Requirements []struct {
			Requirement string `json:"requirement"`
			Status      string `json:"status"`
			Details     string `json:"details"`
		} `json:"requirements"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !body.Success || body.WorkspaceID != "ws-1" {
		t.Fatalf("unexpected envelope %+v", body)
	}
	if body.Statistics["coverage_percentage"] != float64(70) {
		t.Fatalf("expected coverage 70, got %v", body.Statistics["coverage_percentage"])
	}
	if len(body.Requirements) != 10 || body.Requirements[0].Details != "module_0.go" {
		t.Fatalf("unexpected requirements %+v", body.Requirements)
	}
}

func TestRunAnalysisEndpointErrorStatuses(t *testing.T) {
	cases := []struct {
		name   string
		runner Runner
		seed   bool
		status int
		code   Code
	}{
		{name: "requirements missing", runner: &stubRunner{}, seed: false, status: http.StatusUnprocessableEntity, code: CodeRequirementsMissing},
		{name: "execution error", runner: &stubRunner{err: &engine.ExecutionError{ExitCode: 1, Stderr: "boom"}}, seed: true, status: http.StatusBadGateway, code: CodeProcessExecutionError},
		{name: "timeout", runner: &stubRunner{err: engine.ErrTimeout}, seed: true, status: http.StatusGatewayTimeout, code: CodeProcessTimeout},
		{name: "not produced", runner: &stubRunner{err: engine.ErrReportNotProduced}, seed: true, status: http.StatusBadGateway, code: CodeReportNotProduced},
		{name: "spawn", runner: &stubRunner{err: &engine.SpawnError{Command: "x"}}, seed: true, status: http.StatusInternalServerError, code: CodeProcessSpawnError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router, _, root := setupAnalysisRouter(t, tc.runner)
			if tc.seed {
				seedWorkspace(t, root, "ws-1")
			}
			resp := doRequest(router, http.MethodPost, "/api/v1/workspaces/ws-1/analysis")
			if resp.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, resp.Code, resp.Body.String())
			}
			if got := decodeError(t, resp).Error.Code; got != string(tc.code) {
				t.Fatalf("expected code %s, got %s", tc.code, got)
			}
		})
	}
}

func TestRunAnalysisEndpointInvalidWorkspace(t *testing.T) {
	router, _, _ := setupAnalysisRouter(t, &stubRunner{})

	resp := doRequest(router, http.MethodPost, "/api/v1/workspaces/.hidden/analysis")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestGetReportEndpoint(t *testing.T) {
	router, _, root := setupAnalysisRouter(t, &stubRunner{})

	resp := doRequest(router, http.MethodGet, "/api/v1/workspaces/ws-1/report")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any run, got %d", resp.Code)
	}
	if got := decodeError(t, resp).Error.Code; got != string(CodeReportNotFound) {
		t.Fatalf("expected report_not_found, got %s", got)
	}

	writeWorkspaceFile(t, root, "ws-1", workspaces.ReportFile, reportJSON(4, 1))
	resp = doRequest(router, http.MethodGet, "/api/v1/workspaces/ws-1/report")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestRunAnalysisAsync(t *testing.T) {
	router, svc, root := setupAnalysisRouter(t, &stubRunner{})
	seedWorkspace(t, root, "ws-1")

	resp := doRequest(router, http.MethodPost, "/api/v1/workspaces/ws-1/analysis?async=true")
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without queue, got %d", resp.Code)
	}

	var (
		mu       sync.Mutex
		messages []queue.Message
	)
	svc.Queue = queue.ClientFunc(func(ctx context.Context, msg queue.Message) error {
		mu.Lock()
		defer mu.Unlock()
		messages = append(messages, msg)
		return nil
	})
	resp = doRequest(router, http.MethodPost, "/api/v1/workspaces/ws-1/analysis?async=true")
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.Code, resp.Body.String())
	}
	if len(messages) != 1 || messages[0].WorkspaceID != "ws-1" || messages[0].RequestID == "" {
		t.Fatalf("unexpected queued messages %+v", messages)
	}
}

func TestListRunsEndpoint(t *testing.T) {
	router, _, root := setupAnalysisRouter(t, writingRunner{body: reportJSON(2, 1)})
	seedWorkspace(t, root, "ws-1")

	if resp := doRequest(router, http.MethodPost, "/api/v1/workspaces/ws-1/analysis"); resp.Code != http.StatusOK {
		t.Fatalf("run: %d %s", resp.Code, resp.Body.String())
	}

	resp := doRequest(router, http.MethodGet, "/api/v1/workspaces/ws-1/runs")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body struct {
		Active bool      `json:"active"`
		Runs   []RunView `json:"runs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Active || len(body.Runs) != 1 || body.Runs[0].Status != runs.StatusSucceeded {
		t.Fatalf("unexpected runs body %+v", body)
	}

	resp = doRequest(router, http.MethodGet, "/api/v1/workspaces/ws-1/runs/"+body.Runs[0].ID+"/report")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without archive, got %d", resp.Code)
	}
}

func TestStatusForCoversAllCodes(t *testing.T) {
	want := map[Code]int{
		CodeRequirementsMissing:   http.StatusUnprocessableEntity,
		CodeSourceCodeMissing:     http.StatusUnprocessableEntity,
		CodeInvalidWorkspace:      http.StatusBadRequest,
		CodeAnalysisInProgress:    http.StatusConflict,
		CodeReportNotFound:        http.StatusNotFound,
		CodeProcessSpawnError:     http.StatusInternalServerError,
		CodeProcessExecutionError: http.StatusBadGateway,
		CodeReportNotProduced:     http.StatusBadGateway,
		CodeReportCorrupt:         http.StatusBadGateway,
		CodeProcessTimeout:        http.StatusGatewayTimeout,
		CodeAnalysisCanceled:      http.StatusServiceUnavailable,
		CodeInternal:              http.StatusInternalServerError,
	}
	for code, status := range want {
		if got := StatusFor(code); got != status {
			t.Fatalf("StatusFor(%s) = %d, want %d", code, got, status)
		}
	}
}

func TestRunAnalysisInProgressSetsRetryAfter(t *testing.T) {
	runner := newBlockingRunner(sampleReport())
	router, svc, root := setupAnalysisRouter(t, runner)
	svc.Contention = PolicyReject
	seedWorkspace(t, root, "ws-1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		doRequest(router, http.MethodPost, "/api/v1/workspaces/ws-1/analysis")
	}()
	<-runner.started

	resp := doRequest(router, http.MethodPost, "/api/v1/workspaces/ws-1/analysis")
	close(runner.release)
	<-done

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
	if resp.Header().Get("Retry-After") != "30" {
		t.Fatalf("expected Retry-After 30, got %q", resp.Header().Get("Retry-After"))
	}
	if body := decodeError(t, resp); body.Error.Code != string(CodeAnalysisInProgress) {
		t.Fatalf("unexpected code %q", body.Error.Code)
	}
}
