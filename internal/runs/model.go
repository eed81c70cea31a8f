package runs

import (
	"time"

	"github.com/google/uuid"

	"compat-backend/internal/reports"
)

const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

const (
	TriggerHTTP  = "http"
	TriggerQueue = "queue"
	TriggerCLI   = "cli"
)

// Run is the audit record of one analysis attempt on a workspace.
type Run struct {
	ID              string              `json:"id"`
	WorkspaceID     string              `json:"workspaceId"`
	Status          string              `json:"status"`
	Trigger         string              `json:"trigger"`
	RequestID       string              `json:"requestId,omitempty"`
	CredentialCount int                 `json:"credentialCount"`
	ErrorCode       string              `json:"errorCode,omitempty"`
	ErrorMessage    string              `json:"errorMessage,omitempty"`
	Statistics      *reports.Statistics `json:"statistics,omitempty"`
	ArchiveKey      string              `json:"archiveKey,omitempty"`
	StartedAt       time.Time           `json:"startedAt"`
	CompletedAt     *time.Time          `json:"completedAt,omitempty"`
}

// Outcome is the terminal state written when a run finishes.
type Outcome struct {
	Status       string
	ErrorCode    string
	ErrorMessage string
	Statistics   *reports.Statistics
	ArchiveKey   string
	CompletedAt  time.Time
}

// NewID returns a fresh run identifier.
func NewID() string {
	return uuid.NewString()
}
