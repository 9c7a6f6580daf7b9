package ports

import (
	"context"

	"github.com/xoelrdgz/evewatch/internal/domain"
)

// LineSource delivers batches of complete lines appended to the watched log.
// One batch corresponds to one change notification (or one poll pass).
type LineSource interface {
	Start(ctx context.Context) (<-chan domain.LineBatch, <-chan error)
	Stop() error
}

// RecordDecoder decodes a single EVE line. Errors are per-line and never fatal.
type RecordDecoder interface {
	Decode(line string) (*domain.LogRecord, error)
}
