package source

import (
	"context"
	"fmt"
	"os"
)

// LocalSource reads raw rows from a CSV file on disk.
type LocalSource struct {
	path string
}

// NewLocalSource creates a source backed by the CSV file at path.
func NewLocalSource(path string) *LocalSource {
	return &LocalSource{path: path}
}

func (s *LocalSource) Name() string {
	return "local:" + s.path
}

// Open opens the file and positions the reader past the header row. A
// missing or unreadable file is a SourceUnavailable condition.
func (s *LocalSource) Open(ctx context.Context) (RowReader, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrSourceUnavailable, s.path, err)
	}
	reader, err := newCSVRowReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return reader, nil
}
