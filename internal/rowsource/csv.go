package rowsource

import (
	"context"
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"

	"github.com/relaycrm/import-cli/internal/model"
)

// CSVSource streams rows from CSV text. The reader is consumed exactly
// once; the caller owns closing it.
type CSVSource struct {
	r    io.Reader
	opts Options
}

// NewCSV creates a CSVSource over r.
func NewCSV(r io.Reader, opts Options) *CSVSource {
	return &CSVSource{r: r, opts: opts}
}

func (s *CSVSource) Rows(ctx context.Context) (<-chan model.ImportRow, <-chan error) {
	rowCh := make(chan model.ImportRow, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(s.r)
		if s.opts.Delimiter != 0 {
			reader.Comma = s.opts.Delimiter
		}
		reader.LazyQuotes = s.opts.LazyQuotes
		reader.FieldsPerRecord = -1 // allow variable fields

		line := 0
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "rowsource: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrapf(err, "rowsource: read csv line %d", line+1)
				return
			}
			line++

			if line == 1 && s.opts.HasHeader {
				continue
			}

			select {
			case rowCh <- rowFromRecord(line, record, s.opts.Columns):
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "rowsource: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}
