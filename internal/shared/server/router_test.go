package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"compat-backend/internal/services/health"
	"compat-backend/internal/shared/config"
)

func TestAddr(t *testing.T) {
	cases := map[string]string{"": ":8080", "9000": ":9000", ":7000": ":7000"}
	for in, want := range cases {
		if got := Addr(in); got != want {
			t.Fatalf("Addr(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHealthReportsChecks(t *testing.T) {
	r := NewRouter(RouterDeps{
		Config: config.Config{Env: "dev"},
		Health: health.NewService(t.TempDir(), "sh", nil),
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		OK     bool                    `json:"ok"`
		Checks map[string]health.Check `json:"checks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.OK || !body.Checks["engine"].OK {
		t.Fatalf("unexpected health %+v", body)
	}
	if w.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestHealthUnavailableWhenEngineMissing(t *testing.T) {
	r := NewRouter(RouterDeps{
		Health: health.NewService(t.TempDir(), "compat-engine-that-does-not-exist", nil),
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r := NewRouter(RouterDeps{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil))

	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "analysis_runs_started_total") {
		t.Fatalf("unexpected metrics response %d: %s", w.Code, w.Body.String())
	}
}

func TestAnalysisRateLimitDisabled(t *testing.T) {
	if AnalysisRateLimit(config.Config{}) != nil {
		t.Fatalf("expected no limiter without a budget")
	}
	if AnalysisRateLimit(config.Config{AnalysisRatePerMin: 6, AnalysisRateBurst: 3}) == nil {
		t.Fatalf("expected a limiter")
	}
}
