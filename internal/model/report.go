package model

// RowState is the lifecycle position of one row inside the pipeline.
// Rows advance Normalized → Validated → Matched → Resolved → Applied and
// terminate early as Skipped or Errored.
type RowState string

const (
	RowStateNormalized RowState = "normalized"
	RowStateValidated  RowState = "validated"
	RowStateMatched    RowState = "matched"
	RowStateResolved   RowState = "resolved"
	RowStateApplied    RowState = "applied"
	RowStateSkipped    RowState = "skipped"
	RowStateErrored    RowState = "errored"
)

// ImportOutcome is the per-row verdict surfaced in the report.
type ImportOutcome string

const (
	OutcomeCreated ImportOutcome = "created"
	OutcomeUpdated ImportOutcome = "updated"
	OutcomeSkipped ImportOutcome = "skipped"
	OutcomeErrored ImportOutcome = "errored"
)

// RowError is one reportable failure, carrying the offending row's visible
// fields so a human can find and fix the source line.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
	Name    string `json:"name,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Region  string `json:"region,omitempty"`
}

// RowWarning is a non-fatal note attached to the report.
type RowWarning struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// RowResult is the terminal record for one processed row.
type RowResult struct {
	Row     int           `json:"row"`
	State   RowState      `json:"state"`
	Outcome ImportOutcome `json:"outcome"`
	Err     *RowError     `json:"error,omitempty"`
}

// ImportReport aggregates one run. The error list is complete; showing
// only the first N entries is the presentation layer's business.
type ImportReport struct {
	Total          int          `json:"total"`
	Created        int          `json:"created"`
	Updated        int          `json:"updated"`
	Skipped        int          `json:"skipped"`
	Errors         int          `json:"errors"`
	RegionsCreated int          `json:"regions_created"`
	Aborted        bool         `json:"aborted,omitempty"`
	RowErrors      []RowError   `json:"row_errors,omitempty"`
	Warnings       []RowWarning `json:"warnings,omitempty"`
}
