package importer

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/relaycrm/import-cli/internal/client"
	"github.com/relaycrm/import-cli/internal/model"
	"github.com/relaycrm/import-cli/internal/normalize"
)

// Locator runs duplicate search for one candidate against the client
// store. It only reads; writes belong to the orchestrator.
type Locator struct {
	store client.Store
}

// NewLocator wraps a client store for duplicate search.
func NewLocator(store client.Store) *Locator {
	return &Locator{store: store}
}

// Locate returns the winning duplicate for the candidate, if any. The
// store orders candidates most recently updated first, so the first hit
// wins ties. Scope none short-circuits without touching the store, as
// does a criterion whose fields are absent from the row.
func (l *Locator) Locate(ctx context.Context, scope model.SearchScope, ownerID, groupID string, cand model.Candidate) (model.MatchResult, error) {
	if scope.Has(model.ScopeNone) {
		return model.MatchResult{}, nil
	}

	needPhones := scope.MatchCriteria == model.MatchByPhone || scope.MatchCriteria == model.MatchByPhoneAndName
	needName := scope.MatchCriteria == model.MatchByName || scope.MatchCriteria == model.MatchByPhoneAndName
	if needPhones && len(cand.Phones) == 0 {
		return model.MatchResult{}, nil
	}
	if needName && cand.Name == "" {
		return model.MatchResult{}, nil
	}

	q := client.CandidateQuery{
		OwnerID:        ownerID,
		CurrentGroupID: groupID,
		Scopes:         scope.Scopes,
		Criteria:       scope.MatchCriteria,
	}
	if needPhones {
		q.Phones = cand.Phones
	}
	if needName {
		q.NameFolded = normalize.FoldName(cand.Name)
	}

	found, err := l.store.FindCandidates(ctx, q)
	if err != nil {
		return model.MatchResult{}, eris.Wrap(err, "importer: find candidates")
	}
	if len(found) == 0 {
		return model.MatchResult{}, nil
	}
	return model.MatchResult{Client: &found[0], MatchedBy: scope.MatchCriteria}, nil
}
