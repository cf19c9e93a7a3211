package source

import (
	"encoding/csv"
	"fmt"
	"io"

	"ev-analytics-platform/internal/models"
)

// csvRowReader decodes CSV from any stream into raw rows. Shared by the
// local-file and S3 variants.
type csvRowReader struct {
	rc      io.ReadCloser
	reader  *csv.Reader
	columns []string
}

// newCSVRowReader consumes the header row immediately so a malformed header
// surfaces at open time rather than on the first Next.
func newCSVRowReader(rc io.ReadCloser) (*csvRowReader, error) {
	r := csv.NewReader(rc)
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	headers, err := r.Read()
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("reading csv header: %w", err)
	}

	return &csvRowReader{
		rc:      rc,
		reader:  r,
		columns: canonicalColumns(headers),
	}, nil
}

func (c *csvRowReader) Next() (models.RawRow, error) {
	record, err := c.reader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("reading csv row: %w", err)
	}

	row := make(models.RawRow, len(c.columns))
	for i, col := range c.columns {
		if i < len(record) {
			row[col] = record[i]
		}
	}
	return row, nil
}

func (c *csvRowReader) Close() error {
	return c.rc.Close()
}
