package model

// PlanAction is the concrete decision for one row.
type PlanAction string

const (
	PlanCreate PlanAction = "create"
	PlanUpdate PlanAction = "update"
	PlanSkip   PlanAction = "skip"
)

// NewClient describes the insert half of a create plan. RegionName is the
// raw candidate region; the orchestrator resolves it to a region id so the
// plan itself stays free of store lookups.
type NewClient struct {
	Name       string       `json:"name,omitempty"`
	Phones     []string     `json:"phones"`
	RegionName string       `json:"region_name,omitempty"`
	Status     ClientStatus `json:"status"`
}

// GroupPlan is the group membership change requested for one row.
type GroupPlan struct {
	Action  GroupAction `json:"action"`
	GroupID string      `json:"group_id,omitempty"`
}

// ResolutionPlan is a declarative, store-independent description of the
// mutation (or non-mutation) for one row. The policy engine produces it
// without touching the store so it can be tested against fixtures alone.
//
// For updates, zero values mean "leave alone": empty SetName keeps the
// name, empty SetRegionName keeps the region, empty SetStatus keeps the
// status, and an empty AddPhones adds nothing.
type ResolutionPlan struct {
	Action PlanAction `json:"action"`

	// Create fields.
	Create *NewClient `json:"create,omitempty"`

	// Update fields.
	ClientID      string       `json:"client_id,omitempty"`
	SetName       string       `json:"set_name,omitempty"`
	SetRegionName string       `json:"set_region_name,omitempty"`
	AddPhones     []string     `json:"add_phones,omitempty"`
	SetStatus     ClientStatus `json:"set_status,omitempty"`
	Group         GroupPlan    `json:"group"`

	// Skip fields.
	SkipReason string `json:"skip_reason,omitempty"`
}
