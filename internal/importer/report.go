package importer

import (
	"fmt"
	"strings"

	"github.com/relaycrm/import-cli/internal/model"
)

// Summary is the one-line outcome tally used in logs and terminal output.
func Summary(r *model.ImportReport) string {
	s := fmt.Sprintf("total=%d created=%d updated=%d skipped=%d errors=%d regions_created=%d",
		r.Total, r.Created, r.Updated, r.Skipped, r.Errors, r.RegionsCreated)
	if r.Aborted {
		s += " aborted=true"
	}
	return s
}

// FormatErrors renders up to limit row errors, one per line, with the
// offending row's visible fields so a human can find the source line.
// The remainder collapses to a count; limit <= 0 shows everything.
func FormatErrors(r *model.ImportReport, limit int) string {
	if len(r.RowErrors) == 0 {
		return ""
	}

	shown := r.RowErrors
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}

	var b strings.Builder
	for _, e := range shown {
		fmt.Fprintf(&b, "row %d: %s", e.Row, e.Message)
		if e.Name != "" {
			fmt.Fprintf(&b, " name=%q", e.Name)
		}
		if e.Phone != "" {
			fmt.Fprintf(&b, " phone=%q", e.Phone)
		}
		if e.Region != "" {
			fmt.Fprintf(&b, " region=%q", e.Region)
		}
		b.WriteByte('\n')
	}
	if rest := len(r.RowErrors) - len(shown); rest > 0 {
		fmt.Fprintf(&b, "... and %d more\n", rest)
	}
	return b.String()
}

// FormatWarnings renders up to limit warnings in the same shape as
// FormatErrors.
func FormatWarnings(r *model.ImportReport, limit int) string {
	if len(r.Warnings) == 0 {
		return ""
	}

	shown := r.Warnings
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}

	var b strings.Builder
	for _, w := range shown {
		fmt.Fprintf(&b, "row %d: %s\n", w.Row, w.Message)
	}
	if rest := len(r.Warnings) - len(shown); rest > 0 {
		fmt.Fprintf(&b, "... and %d more\n", rest)
	}
	return b.String()
}
