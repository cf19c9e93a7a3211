package source

import (
	"context"
	"errors"

	"ev-analytics-platform/internal/models"
)

// ErrSourceUnavailable classifies open failures: missing file, bad
// credentials, unreachable bucket. These are fatal to a pipeline run; the
// core does not retry them.
var ErrSourceUnavailable = errors.New("record source unavailable")

// Kind selects which source variant a run reads from.
type Kind string

const (
	KindLocal Kind = "local"
	KindS3    Kind = "s3"
)

// RowReader is a finite, single-pass sequence of raw rows. Next returns
// io.EOF once the sequence is exhausted. Re-opening the source restarts the
// sequence from the beginning; a reader itself is not restartable.
type RowReader interface {
	Next() (models.RawRow, error)
	Close() error
}

// Source abstracts where raw rows come from. The rest of the pipeline is
// source-agnostic: local files and remote objects expose the same contract.
type Source interface {
	Name() string
	Open(ctx context.Context) (RowReader, error)
}
