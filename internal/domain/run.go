package domain

import (
	"errors"
	"strings"
	"time"
)

// RunStatus is the canonical lifecycle status of a generation run.
type RunStatus string

const (
	RunStatusCreated   RunStatus = "created"
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusBlocked   RunStatus = "blocked"
	RunStatusStale     RunStatus = "stale"
)

// NormalizeRunStatus maps free-form status values to canonical statuses.
func NormalizeRunStatus(value string) RunStatus {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(RunStatusCreated), "pending":
		return RunStatusCreated
	case string(RunStatusQueued):
		return RunStatusQueued
	case string(RunStatusRunning):
		return RunStatusRunning
	case string(RunStatusSucceeded):
		return RunStatusSucceeded
	case string(RunStatusFailed):
		return RunStatusFailed
	case string(RunStatusBlocked):
		return RunStatusBlocked
	case string(RunStatusStale):
		return RunStatusStale
	default:
		return ""
	}
}

// IsTerminal reports whether the reconciler may still move the run.
// A failed run whose message is ErrMsgHistoryEmpty is retryable within
// the grace window and so is not treated as terminal here.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusBlocked, RunStatusStale:
		return true
	default:
		return false
	}
}

// Error messages written by the submitter and reconciler.
const (
	ErrMsgPromptIDMissing = "prompt_id_missing"
	ErrMsgComfyFailed     = "comfy_failed"
	ErrMsgHistoryEmpty    = "history_empty"
	ErrMsgHistoryMissing  = "history_missing"
)

// Metadata is a loosely-typed JSON object column.
type Metadata map[string]any

// Run tracks one generation request from creation to terminal status.
type Run struct {
	ID           string
	RecipeID     string
	Status       RunStatus
	PromptID     string
	Request      Metadata
	Workflow     Graph
	History      Metadata
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
}

func (r Run) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("run id is required")
	}
	if NormalizeRunStatus(string(r.Status)) == "" {
		return errors.New("status is required")
	}
	if r.Status == RunStatusCreated && strings.TrimSpace(r.PromptID) != "" {
		return errors.New("prompt id must be empty before submission")
	}
	if r.Status != RunStatusCreated && !r.Status.IsTerminal() && strings.TrimSpace(r.PromptID) == "" {
		return errors.New("prompt id is required after submission")
	}
	return nil
}
