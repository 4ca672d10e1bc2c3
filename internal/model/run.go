package model

import "time"

// RunStatus is the lifecycle of one import run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusAborted   RunStatus = "aborted"
	RunStatusFailed    RunStatus = "failed"
)

// ImportRun records one end-to-end execution of the import pipeline:
// which file, which owner, the frozen policy snapshot, and the final
// report. Failed runs are re-imported from scratch; there is no mid-run
// resume.
type ImportRun struct {
	ID         string        `json:"id"`
	OwnerID    string        `json:"owner_id"`
	GroupID    string        `json:"group_id,omitempty"`
	Source     string        `json:"source"`
	Policy     ImportConfig  `json:"policy"`
	Status     RunStatus     `json:"status"`
	Report     *ImportReport `json:"report,omitempty"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}
