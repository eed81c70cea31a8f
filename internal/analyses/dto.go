package analyses

import (
	"time"

	"compat-backend/internal/reports"
	"compat-backend/internal/runs"
)

// RequirementView is one report entry as served over HTTP.
type RequirementView struct {
	Requirement string `json:"requirement" yaml:"requirement"`
	Status      string `json:"status" yaml:"status"`
	Details     string `json:"details" yaml:"details"`
}

// ReportResponse is the body returned for a report.
type ReportResponse struct {
	Success      bool               `json:"success" yaml:"success"`
	WorkspaceID  string             `json:"workspaceId" yaml:"workspaceId"`
	RunID        string             `json:"runId,omitempty" yaml:"runId,omitempty"`
	Statistics   reports.Statistics `json:"statistics" yaml:"statistics"`
	Requirements []RequirementView  `json:"requirements" yaml:"requirements"`
}

// NewReportResponse shapes a report for clients.
func NewReportResponse(workspaceID string, rep *reports.Report) ReportResponse {
	views := make([]RequirementView, 0, len(rep.Requirements))
	for _, r := range rep.Requirements {
		views = append(views, RequirementView{
			Requirement: r.Requirement,
			Status:      string(r.Status),
			Details:     r.ImplementationDetails,
		})
	}
	return ReportResponse{
		Success:      true,
		WorkspaceID:  workspaceID,
		Statistics:   rep.Statistics,
		Requirements: views,
	}
}

// RunView is one run history entry.
type RunView struct {
	ID              string              `json:"id" yaml:"id"`
	Status          string              `json:"status" yaml:"status"`
	Trigger         string              `json:"trigger" yaml:"trigger"`
	CredentialCount int                 `json:"credentialCount" yaml:"credentialCount"`
	ErrorCode       string              `json:"errorCode,omitempty" yaml:"errorCode,omitempty"`
	ErrorMessage    string              `json:"errorMessage,omitempty" yaml:"errorMessage,omitempty"`
	Statistics      *reports.Statistics `json:"statistics,omitempty" yaml:"statistics,omitempty"`
	Archived        bool                `json:"archived" yaml:"archived"`
	StartedAt       time.Time           `json:"startedAt" yaml:"startedAt"`
	CompletedAt     *time.Time          `json:"completedAt,omitempty" yaml:"completedAt,omitempty"`
}

// NewRunViews shapes run history for clients.
func NewRunViews(list []runs.Run) []RunView {
	out := make([]RunView, 0, len(list))
	for _, r := range list {
		out = append(out, RunView{
			ID:              r.ID,
			Status:          r.Status,
			Trigger:         r.Trigger,
			CredentialCount: r.CredentialCount,
			ErrorCode:       r.ErrorCode,
			ErrorMessage:    r.ErrorMessage,
			Statistics:      r.Statistics,
			Archived:        r.ArchiveKey != "",
			StartedAt:       r.StartedAt,
			CompletedAt:     r.CompletedAt,
		})
	}
	return out
}
