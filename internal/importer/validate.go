package importer

import (
	"github.com/rotisserie/eris"

	"github.com/relaycrm/import-cli/internal/model"
)

// Validate checks a normalized candidate against the required-field
// policy. Fields are checked in a fixed order: name, then phone, then
// region; the first missing field fails the row. A phone cell whose
// tokens all failed normalization counts as missing.
func Validate(vp model.ValidationPolicy, cand model.Candidate) error {
	if vp.RequireName && cand.Name == "" {
		return eris.New("required field name is empty")
	}
	if vp.RequirePhone && len(cand.Phones) == 0 {
		return eris.New("required field phone is empty or has no valid numbers")
	}
	if vp.RequireRegion && cand.Region == "" {
		return eris.New("required field region is empty")
	}
	return nil
}
