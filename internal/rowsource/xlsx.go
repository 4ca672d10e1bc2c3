package rowsource

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/relaycrm/import-cli/internal/model"
)

// XLSXSource streams rows from one sheet of an XLSX workbook.
type XLSXSource struct {
	path string
	opts Options
}

// NewXLSX creates an XLSXSource for the workbook at path.
func NewXLSX(path string, opts Options) *XLSXSource {
	return &XLSXSource{path: path, opts: opts}
}

func (s *XLSXSource) Rows(ctx context.Context) (<-chan model.ImportRow, <-chan error) {
	rowCh := make(chan model.ImportRow, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		f, err := xlsx.OpenFile(s.path)
		if err != nil {
			errCh <- eris.Wrap(err, "rowsource: open xlsx")
			return
		}

		sheet, err := sheetFor(f, s.opts)
		if err != nil {
			errCh <- err
			return
		}

		for i, row := range sheet.Rows {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "rowsource: context cancelled")
				return
			}

			line := i + 1
			if line == 1 && s.opts.HasHeader {
				continue
			}

			select {
			case rowCh <- rowFromRecord(line, rowToStrings(row), s.opts.Columns):
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "rowsource: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

func sheetFor(f *xlsx.File, opts Options) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("rowsource: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}

	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("rowsource: sheet index %d out of range (workbook has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}

	return f.Sheets[opts.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
