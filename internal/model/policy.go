package model

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Scope names a slice of the client base visible to duplicate search.
type Scope string

const (
	ScopeNone         Scope = "none"
	ScopeCurrentGroup Scope = "current_group"
	ScopeOwnerGroups  Scope = "owner_groups"
	ScopeAllUsers     Scope = "all_users"
)

// MatchCriteria selects the field-equality rule for duplicate detection.
type MatchCriteria string

const (
	MatchByPhone        MatchCriteria = "phone"
	MatchByPhoneAndName MatchCriteria = "phone_and_name"
	MatchByName         MatchCriteria = "name"
)

// DuplicateAction is the policy applied when a duplicate is found.
type DuplicateAction string

const (
	DuplicateSkip   DuplicateAction = "skip"
	DuplicateUpdate DuplicateAction = "update"
	DuplicateCreate DuplicateAction = "create"
)

// NoDuplicateAction is the policy applied when no duplicate is found.
type NoDuplicateAction string

const (
	NoDuplicateCreate NoDuplicateAction = "create"
	NoDuplicateSkip   NoDuplicateAction = "skip"
)

// ErrorHandling controls what a validation failure does to the run.
type ErrorHandling string

const (
	ErrorHandlingStop ErrorHandling = "stop"
	ErrorHandlingSkip ErrorHandling = "skip"
	ErrorHandlingWarn ErrorHandling = "warn"
)

// NewClientStatus decides which status newly written clients receive.
// FromFile takes the status column of the source row, falling back to NEW.
type NewClientStatus string

const (
	NewClientStatusNew      NewClientStatus = "NEW"
	NewClientStatusOld      NewClientStatus = "OLD"
	NewClientStatusFromFile NewClientStatus = "from_file"
)

// GroupAction is the group membership mutation applied on update. Add and
// move cannot both be requested; the single enum replaces the legacy pair
// of checkboxes.
type GroupAction string

const (
	GroupActionNone GroupAction = "none"
	GroupActionAdd  GroupAction = "add"
	GroupActionMove GroupAction = "move"
)

// SearchScope bounds duplicate search and names the match criterion.
type SearchScope struct {
	Scopes        []Scope       `json:"scopes" yaml:"scopes"`
	MatchCriteria MatchCriteria `json:"match_criteria" yaml:"match_criteria"`
}

// Has reports whether the scope set contains s.
func (sc SearchScope) Has(s Scope) bool {
	for _, v := range sc.Scopes {
		if v == s {
			return true
		}
	}
	return false
}

// Validate rejects empty scope sets, unknown values, and `none` combined
// with any other scope.
func (sc SearchScope) Validate() error {
	return validation.ValidateStruct(&sc,
		validation.Field(&sc.Scopes,
			validation.Required,
			validation.Each(validation.In(ScopeNone, ScopeCurrentGroup, ScopeOwnerGroups, ScopeAllUsers)),
			validation.By(noneIsExclusive),
		),
		validation.Field(&sc.MatchCriteria,
			validation.Required,
			validation.In(MatchByPhone, MatchByPhoneAndName, MatchByName),
		),
	)
}

func noneIsExclusive(value interface{}) error {
	scopes, ok := value.([]Scope)
	if !ok {
		return validation.NewError("validation_scopes_type", "scopes must be a scope list")
	}
	for _, s := range scopes {
		if s == ScopeNone && len(scopes) > 1 {
			return validation.NewError("validation_scope_none_exclusive", "scope none cannot be combined with other scopes")
		}
	}
	return nil
}

// DuplicatePolicy governs the merge applied to a matched client.
type DuplicatePolicy struct {
	DefaultAction DuplicateAction `json:"default_action" yaml:"default_action"`
	UpdateName    bool            `json:"update_name" yaml:"update_name"`
	UpdateRegion  bool            `json:"update_region" yaml:"update_region"`
	AddPhones     bool            `json:"add_phones" yaml:"add_phones"`
	GroupAction   GroupAction     `json:"group_action" yaml:"group_action"`
}

// Validate checks the action and group action enums.
func (dp DuplicatePolicy) Validate() error {
	return validation.ValidateStruct(&dp,
		validation.Field(&dp.DefaultAction,
			validation.Required,
			validation.In(DuplicateSkip, DuplicateUpdate, DuplicateCreate),
		),
		validation.Field(&dp.GroupAction,
			validation.Required,
			validation.In(GroupActionNone, GroupActionAdd, GroupActionMove),
		),
	)
}

// ValidationPolicy lists required fields and the failure mode.
type ValidationPolicy struct {
	RequireName   bool          `json:"require_name" yaml:"require_name"`
	RequirePhone  bool          `json:"require_phone" yaml:"require_phone"`
	RequireRegion bool          `json:"require_region" yaml:"require_region"`
	ErrorHandling ErrorHandling `json:"error_handling" yaml:"error_handling"`
}

// Validate checks the error handling enum.
func (vp ValidationPolicy) Validate() error {
	return validation.ValidateStruct(&vp,
		validation.Field(&vp.ErrorHandling,
			validation.Required,
			validation.In(ErrorHandlingStop, ErrorHandlingSkip, ErrorHandlingWarn),
		),
	)
}

// AdditionalPolicy carries status handling for written clients.
type AdditionalPolicy struct {
	NewClientStatus NewClientStatus `json:"new_client_status" yaml:"new_client_status"`
	UpdateStatus    bool            `json:"update_status" yaml:"update_status"`
}

// Validate checks the status enum.
func (ap AdditionalPolicy) Validate() error {
	return validation.ValidateStruct(&ap,
		validation.Field(&ap.NewClientStatus,
			validation.Required,
			validation.In(NewClientStatusNew, NewClientStatusOld, NewClientStatusFromFile),
		),
	)
}

// ImportConfig is one named, owned import policy. A run snapshots the
// config at start; edits made while a run is in flight never reach it.
type ImportConfig struct {
	ID                string            `json:"id,omitempty" yaml:"id,omitempty"`
	OwnerID           string            `json:"owner_id,omitempty" yaml:"owner_id,omitempty"`
	Name              string            `json:"name" yaml:"name"`
	SearchScope       SearchScope       `json:"search_scope" yaml:"search_scope"`
	DuplicateAction   DuplicatePolicy   `json:"duplicate_action" yaml:"duplicate_action"`
	NoDuplicateAction NoDuplicateAction `json:"no_duplicate_action" yaml:"no_duplicate_action"`
	Validation        ValidationPolicy  `json:"validation" yaml:"validation"`
	Additional        AdditionalPolicy  `json:"additional" yaml:"additional"`
	CreatedAt         time.Time         `json:"created_at,omitempty" yaml:"-"`
	UpdatedAt         time.Time         `json:"updated_at,omitempty" yaml:"-"`
}

// Validate runs the full policy check. It is called once before a run
// starts; rows never re-validate the config.
func (c ImportConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Name, validation.Required, validation.Length(1, 128)),
		validation.Field(&c.SearchScope),
		validation.Field(&c.DuplicateAction),
		validation.Field(&c.NoDuplicateAction,
			validation.Required,
			validation.In(NoDuplicateCreate, NoDuplicateSkip),
		),
		validation.Field(&c.Validation),
		validation.Field(&c.Additional),
	)
}

// Clone returns an independent copy, safe to freeze for one run.
func (c ImportConfig) Clone() ImportConfig {
	out := c
	out.SearchScope.Scopes = append([]Scope(nil), c.SearchScope.Scopes...)
	return out
}

// DefaultImportConfig is the policy used when the caller supplies none:
// match by phone across the owner's groups, update duplicates by adding
// phones, create everything else as NEW, skip invalid rows.
func DefaultImportConfig() ImportConfig {
	return ImportConfig{
		Name: "default",
		SearchScope: SearchScope{
			Scopes:        []Scope{ScopeOwnerGroups},
			MatchCriteria: MatchByPhone,
		},
		DuplicateAction: DuplicatePolicy{
			DefaultAction: DuplicateUpdate,
			AddPhones:     true,
			GroupAction:   GroupActionNone,
		},
		NoDuplicateAction: NoDuplicateCreate,
		Validation: ValidationPolicy{
			RequirePhone:  true,
			ErrorHandling: ErrorHandlingSkip,
		},
		Additional: AdditionalPolicy{
			NewClientStatus: NewClientStatusNew,
		},
	}
}
