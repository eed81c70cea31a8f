package analyses

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"compat-backend/internal/shared/server/middleware"
	"compat-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the analyses service.
type Handler struct {
	Svc *Service
	// AnalysisLimit guards the run endpoint; nil means unlimited.
	AnalysisLimit gin.HandlerFunc
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service, analysisLimit gin.HandlerFunc) *Handler {
	return &Handler{Svc: svc, AnalysisLimit: analysisLimit}
}

// RegisterRoutes attaches analysis routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	run := []gin.HandlerFunc{}
	if h.AnalysisLimit != nil {
		run = append(run, h.AnalysisLimit)
	}
	run = append(run, h.runAnalysis)

	rg.POST("/workspaces/:id/analysis", run...)
	rg.GET("/workspaces/:id/report", h.getReport)
	rg.GET("/workspaces/:id/runs", h.listRuns)
	rg.GET("/workspaces/:id/runs/:runId/report", h.getRunReport)
}

func (h *Handler) runAnalysis(c *gin.Context) {
	workspaceID := c.Param("id")
	c.Set("workspaceId", workspaceID)
	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))

	if async, _ := strconv.ParseBool(c.Query("async")); async {
		if err := h.Svc.Enqueue(ctx, workspaceID); err != nil {
			if errors.Is(err, ErrQueueNotConfigured) {
				respond.Error(c, http.StatusServiceUnavailable, "queue_not_configured", "asynchronous analysis is not available", nil)
				return
			}
			writeError(c, err)
			return
		}
		respond.Accepted(c, gin.H{
			"queued":      true,
			"workspaceId": workspaceID,
		})
		return
	}

	rep, err := h.Svc.RunAnalysis(ctx, workspaceID)
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, NewReportResponse(workspaceID, rep))
}

func (h *Handler) getReport(c *gin.Context) {
	workspaceID := c.Param("id")
	c.Set("workspaceId", workspaceID)

	rep, err := h.Svc.FetchReport(c.Request.Context(), workspaceID)
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, NewReportResponse(workspaceID, rep))
}

func (h *Handler) listRuns(c *gin.Context) {
	workspaceID := c.Param("id")
	c.Set("workspaceId", workspaceID)

	limit := 20
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}

	list, err := h.Svc.ListRuns(c.Request.Context(), workspaceID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, gin.H{
		"workspaceId": workspaceID,
		"active":      h.Svc.Active(workspaceID),
		"runs":        NewRunViews(list),
	})
}

func (h *Handler) getRunReport(c *gin.Context) {
	workspaceID := c.Param("id")
	runID := c.Param("runId")
	c.Set("workspaceId", workspaceID)
	c.Set("runId", runID)

	rep, err := h.Svc.RunReport(c.Request.Context(), workspaceID, runID)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := NewReportResponse(workspaceID, rep)
	resp.RunID = runID
	respond.OK(c, resp)
}

// inProgressRetry is the Retry-After hint sent with analysis_in_progress.
const inProgressRetry = 30 * time.Second

func writeError(c *gin.Context, err error) {
	tagged := classify(err)
	if tagged.Code == CodeAnalysisInProgress {
		respond.RetryAfter(c, inProgressRetry)
	}
	respond.Error(c, StatusFor(tagged.Code), string(tagged.Code), tagged.Error(), nil)
}

// StatusFor maps an error code onto an HTTP status.
func StatusFor(code Code) int {
	switch code {
	case CodeRequirementsMissing, CodeSourceCodeMissing:
		return http.StatusUnprocessableEntity
	case CodeInvalidWorkspace:
		return http.StatusBadRequest
	case CodeAnalysisInProgress:
		return http.StatusConflict
	case CodeReportNotFound:
		return http.StatusNotFound
	case CodeProcessExecutionError, CodeReportNotProduced, CodeReportCorrupt:
		return http.StatusBadGateway
	case CodeProcessTimeout:
		return http.StatusGatewayTimeout
	case CodeAnalysisCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
