package filestages

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/dcshock/scrapepipe/pipeline"
)

type csvConfig struct {
	comma  rune
	raw    bool
	header []string
}

// CSVOption configures ParseCSV.
type CSVOption func(*csvConfig)

// RawRows makes ParseCSV yield every row, the header row included, as a
// []string instead of a record.
func RawRows() CSVOption {
	return func(c *csvConfig) { c.raw = true }
}

// Comma sets the field delimiter. The default is ','.
func Comma(r rune) CSVOption {
	return func(c *csvConfig) { c.comma = r }
}

// Header supplies the column names for tables without a header row.
func Header(columns ...string) CSVOption {
	return func(c *csvConfig) { c.header = columns }
}

// ParseCSV returns a stage that reads a table from its input (see readerOf)
// and yields one *pipeline.Record per row, keyed by the header. Short rows
// get nil for the missing columns; a row longer than the header fails the
// run. Rows are read as downstream pulls them.
func ParseCSV(opts ...CSVOption) pipeline.Stage {
	cfg := csvConfig{comma: ','}
	for _, opt := range opts {
		opt(&cfg)
	}
	return pipeline.FlatMap("parse_csv", func(ctx context.Context, input any) iter.Seq2[any, error] {
		return func(yield func(any, error) bool) {
			r, err := readerOf(input)
			if err != nil {
				yield(nil, fmt.Errorf("parse_csv: %w", err))
				return
			}
			cr := csv.NewReader(r)
			cr.Comma = cfg.comma
			cr.FieldsPerRecord = -1

			header := cfg.header
			for line := 1; ; line++ {
				row, err := cr.Read()
				if errors.Is(err, io.EOF) {
					return
				}
				if err != nil {
					yield(nil, fmt.Errorf("parse_csv: %w", err))
					return
				}
				if line == 1 && len(row) > 0 {
					row[0] = strings.TrimPrefix(row[0], "\ufeff")
				}
				if cfg.raw {
					if !yield(row, nil) {
						return
					}
					continue
				}
				if header == nil {
					header = row
					continue
				}
				if len(row) > len(header) {
					yield(nil, fmt.Errorf("parse_csv: line %d has %d fields, header has %d", line, len(row), len(header)))
					return
				}
				rec := pipeline.NewRecord()
				for i, col := range header {
					if i < len(row) {
						rec.Set(col, row[i])
					} else {
						rec.Set(col, nil)
					}
				}
				if !yield(rec, nil) {
					return
				}
			}
		}
	})
}
