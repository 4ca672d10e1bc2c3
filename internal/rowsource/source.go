// Package rowsource streams spreadsheet rows from local files and remote
// URLs into the import pipeline.
package rowsource

import (
	"context"
	"strings"

	"github.com/relaycrm/import-cli/internal/model"
)

// Columns maps 0-based source columns to row fields. A negative index
// marks the field as absent from the file.
type Columns struct {
	Name   int `json:"name" yaml:"name" mapstructure:"name"`
	Phone  int `json:"phone" yaml:"phone" mapstructure:"phone"`
	Region int `json:"region" yaml:"region" mapstructure:"region"`
	Status int `json:"status" yaml:"status" mapstructure:"status"`
}

// DefaultColumns is the conventional name, phone, region, status layout.
func DefaultColumns() Columns {
	return Columns{Name: 0, Phone: 1, Region: 2, Status: 3}
}

// Options configures a row source.
type Options struct {
	Columns    Columns
	HasHeader  bool
	Delimiter  rune   // CSV only; default ','
	LazyQuotes bool   // CSV only
	SheetIndex int    // XLSX only
	SheetName  string // XLSX only; overrides SheetIndex
}

// Source is a lazy, finite, non-restartable stream of import rows in
// file order. The error channel carries at most one error; both
// channels close when the stream ends. Line numbers are 1-based and
// count the header, so a row's number matches what the user sees in
// their spreadsheet.
type Source interface {
	Rows(ctx context.Context) (<-chan model.ImportRow, <-chan error)
}

func cell(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func rowFromRecord(line int, record []string, cols Columns) model.ImportRow {
	return model.ImportRow{
		Line:   line,
		Name:   cell(record, cols.Name),
		Phone:  cell(record, cols.Phone),
		Region: cell(record, cols.Region),
		Status: cell(record, cols.Status),
	}
}
