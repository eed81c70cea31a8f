package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"compat-backend/internal/shared/telemetry"
)

func TestLoggingIncludesRequiredFields(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	prev := telemetry.SetOutput(&buf)
	t.Cleanup(func() { telemetry.SetOutput(prev) })

	router := gin.New()
	router.Use(RequestID(), Logging())
	router.POST("/api/v1/workspaces/:id/analysis", func(c *gin.Context) {
		c.Set("workspaceId", c.Param("id"))
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/workspaces/ws-1/analysis", nil)
	req.Header.Set("X-Request-Id", "req-123")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	last := lines[len(lines)-1]
	var payload map[string]any
	if err := json.Unmarshal([]byte(last), &payload); err != nil {
		t.Fatalf("decode log json: %v", err)
	}

	if payload["msg"] != "request.complete" {
		t.Fatalf("unexpected msg %v", payload["msg"])
	}
	required := []string{"request_id", "workspace_id", "duration_ms", "status", "route"}
	for _, key := range required {
		if _, ok := payload[key]; !ok {
			t.Fatalf("expected %s in log payload: %v", key, payload)
		}
	}
	if payload["request_id"] != "req-123" {
		t.Fatalf("expected propagated request id, got %v", payload["request_id"])
	}
	if resp.Header().Get("X-Request-Id") != "req-123" {
		t.Fatalf("expected X-Request-Id echoed")
	}
}
