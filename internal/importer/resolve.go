package importer

import (
	"github.com/relaycrm/import-cli/internal/model"
)

// Resolve turns one validated, matched candidate into a resolution plan.
// It is pure: every store effect stays with the orchestrator, so the
// whole policy table can be tested against fixtures alone.
//
// groupID is the run's current group. It is the target of group actions
// on update and the group newly created clients join; empty means the
// run has no group context and every group action degrades to none.
func Resolve(cfg model.ImportConfig, cand model.Candidate, match model.MatchResult, groupID string) model.ResolutionPlan {
	if !match.Found() {
		if cfg.NoDuplicateAction == model.NoDuplicateSkip {
			return model.ResolutionPlan{
				Action:     model.PlanSkip,
				SkipReason: "no duplicate found",
				Group:      model.GroupPlan{Action: model.GroupActionNone},
			}
		}
		return createPlan(cfg, cand, groupID)
	}

	switch cfg.DuplicateAction.DefaultAction {
	case model.DuplicateSkip:
		return model.ResolutionPlan{
			Action:     model.PlanSkip,
			SkipReason: "duplicate of client " + match.Client.ID,
			Group:      model.GroupPlan{Action: model.GroupActionNone},
		}
	case model.DuplicateCreate:
		return createPlan(cfg, cand, groupID)
	}

	existing := match.Client
	plan := model.ResolutionPlan{
		Action:   model.PlanUpdate,
		ClientID: existing.ID,
		Group:    model.GroupPlan{Action: model.GroupActionNone},
	}

	dp := cfg.DuplicateAction
	if dp.UpdateName && existing.Name == "" && cand.Name != "" {
		plan.SetName = cand.Name
	}
	if dp.UpdateRegion && cand.Region != "" {
		plan.SetRegionName = cand.Region
	}
	if dp.AddPhones {
		for _, p := range cand.Phones {
			if !existing.HasPhone(p) {
				plan.AddPhones = append(plan.AddPhones, p)
			}
		}
	}
	if cfg.Additional.UpdateStatus {
		plan.SetStatus = statusFor(cfg.Additional.NewClientStatus, cand.Status)
	}
	if dp.GroupAction != model.GroupActionNone && groupID != "" {
		plan.Group = model.GroupPlan{Action: dp.GroupAction, GroupID: groupID}
	}

	return plan
}

func createPlan(cfg model.ImportConfig, cand model.Candidate, groupID string) model.ResolutionPlan {
	plan := model.ResolutionPlan{
		Action: model.PlanCreate,
		Create: &model.NewClient{
			Name:       cand.Name,
			Phones:     cand.Phones,
			RegionName: cand.Region,
			Status:     statusFor(cfg.Additional.NewClientStatus, cand.Status),
		},
		Group: model.GroupPlan{Action: model.GroupActionNone},
	}
	if groupID != "" {
		plan.Group = model.GroupPlan{Action: model.GroupActionAdd, GroupID: groupID}
	}
	return plan
}

// statusFor resolves the configured status for a written client.
// from_file takes the row's status column, falling back to NEW when the
// row carries none.
func statusFor(policy model.NewClientStatus, rowStatus model.ClientStatus) model.ClientStatus {
	switch policy {
	case model.NewClientStatusOld:
		return model.ClientStatusOld
	case model.NewClientStatusFromFile:
		if rowStatus != "" {
			return rowStatus
		}
		return model.ClientStatusNew
	default:
		return model.ClientStatusNew
	}
}
