package store

import (
	"context"

	"github.com/relaycrm/import-cli/internal/model"
)

// RunFilter specifies criteria for listing import runs.
type RunFilter struct {
	Status  model.RunStatus `json:"status,omitempty"`
	OwnerID string          `json:"owner_id,omitempty"`
	Limit   int             `json:"limit,omitempty"`
	Offset  int             `json:"offset,omitempty"`
}

// Store persists import runs and named import policies. Connection
// lifecycle belongs to the caller; both backends share their handle
// with the client store.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *model.ImportRun) error
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	CompleteRun(ctx context.Context, runID string, status model.RunStatus, report *model.ImportReport, runErr string) error
	GetRun(ctx context.Context, runID string) (*model.ImportRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.ImportRun, error)

	// Policies
	SavePolicy(ctx context.Context, cfg *model.ImportConfig) error
	GetPolicy(ctx context.Context, ownerID, name string) (*model.ImportConfig, error)
	ListPolicies(ctx context.Context, ownerID string) ([]model.ImportConfig, error)
	DeletePolicy(ctx context.Context, ownerID, name string) error

	// Lifecycle
	Migrate(ctx context.Context) error
}
