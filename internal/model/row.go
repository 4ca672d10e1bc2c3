package model

// ImportRow is one raw spreadsheet record. It lives only for the duration
// of a single run; Line is the 1-based line in the source file, header
// included.
type ImportRow struct {
	Line   int    `json:"line"`
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	Region string `json:"region"`
	Status string `json:"status,omitempty"`
}

// Candidate is the normalized projection of an ImportRow. Empty Name or
// Region means absent; Phones holds only tokens that survived
// normalization.
type Candidate struct {
	Name   string       `json:"name,omitempty"`
	Phones []string     `json:"phones"`
	Region string       `json:"region,omitempty"`
	Status ClientStatus `json:"status,omitempty"`
}

// MatchResult is the outcome of duplicate search: at most one existing
// client plus the criterion that matched it.
type MatchResult struct {
	Client    *Client       `json:"client,omitempty"`
	MatchedBy MatchCriteria `json:"matched_by,omitempty"`
}

// Found reports whether a duplicate was located.
func (m MatchResult) Found() bool {
	return m.Client != nil
}
