package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// ExportResult summarizes one ledger snapshot export.
type ExportResult struct {
	Prefix      string
	Lots        int
	RealizedPnL int
	At          time.Time
}

// Exporter writes ledger snapshots to cold storage.
type Exporter interface {
	Export(ctx context.Context, at time.Time) (ExportResult, error)
}
