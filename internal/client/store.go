// Package client persists the CRM client base: clients with their phone
// sets, regions, groups, and the duplicate-candidate query the import
// pipeline matches against.
package client

import (
	"context"

	"github.com/relaycrm/import-cli/internal/model"
)

// CandidateQuery bounds one duplicate search. Scopes are OR'd together;
// the criteria decides which of Phones/NameFolded apply.
type CandidateQuery struct {
	OwnerID        string
	CurrentGroupID string
	Scopes         []model.Scope
	Criteria       model.MatchCriteria
	Phones         []string
	NameFolded     string
}

// Merge is the field-level mutation applied to one matched client. Zero
// values leave the field alone. The whole merge, group action included,
// commits in a single transaction so a half-applied row never persists.
type Merge struct {
	SetName     string
	SetRegionID string
	AddPhones   []string
	SetStatus   model.ClientStatus
	GroupAction model.GroupAction
	GroupID     string
}

// Store defines persistence operations for the client base.
type Store interface {
	// FindCandidates returns clients matching the query, most recently
	// updated first. Phones are loaded; group memberships are not.
	FindCandidates(ctx context.Context, q CandidateQuery) ([]model.Client, error)

	// GetClient fetches one client with phones and group memberships.
	// Returns (nil, nil) when the id is unknown.
	GetClient(ctx context.Context, id string) (*model.Client, error)

	// CreateClient inserts a client with its phones and group
	// memberships in one transaction. A missing ID is generated;
	// CreatedAt/UpdatedAt are set.
	CreateClient(ctx context.Context, c *model.Client) error

	// MergeClient applies a merge to an existing client in one
	// transaction and touches updated_at even when the merge is empty.
	MergeClient(ctx context.Context, id string, m Merge) error

	// AddToGroup inserts a group membership, silently keeping an
	// existing one.
	AddToGroup(ctx context.Context, clientID, groupID string) error

	// EnsureRegion returns the owner's region of that name, creating it
	// when absent. The bool reports whether a create happened. Safe
	// under concurrent imports: names are unique per owner after
	// folding, and a lost insert race falls back to fetching.
	EnsureRegion(ctx context.Context, ownerID, name string) (model.Region, bool, error)

	// EnsureGroup mirrors EnsureRegion for groups.
	EnsureGroup(ctx context.Context, ownerID, name string) (model.Group, bool, error)

	// Migrate creates the schema.
	Migrate(ctx context.Context) error
}
