package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/alanyoungcy/lotwise/internal/domain"
)

// snapshotLayout names each export folder by its UTC time.
const snapshotLayout = "20060102T150405Z"

const ndjson = "application/x-ndjson"

// Exporter writes point-in-time ledger snapshots as JSON Lines objects:
//
//	<prefix>/<20060102T150405Z>/lots.jsonl
//	<prefix>/<20060102T150405Z>/realized_pnl.jsonl
//	<prefix>/<20060102T150405Z>/manifest.json
type Exporter struct {
	writer domain.BlobWriter
	ledger domain.LedgerReader
	audit  domain.AuditStore
	prefix string
	logger *slog.Logger
}

// NewExporter creates an Exporter. audit may be nil.
func NewExporter(
	writer domain.BlobWriter,
	ledger domain.LedgerReader,
	audit domain.AuditStore,
	prefix string,
	logger *slog.Logger,
) *Exporter {
	if prefix == "" {
		prefix = "snapshots"
	}
	return &Exporter{
		writer: writer,
		ledger: ledger,
		audit:  audit,
		prefix: prefix,
		logger: logger.With(slog.String("component", "exporter")),
	}
}

type manifest struct {
	At          time.Time `json:"at"`
	Lots        int       `json:"lots"`
	RealizedPnL int       `json:"realized_pnl"`
	Objects     []string  `json:"objects"`
}

// Export reads every lot and realized pnl record and uploads them under a
// folder named for at. The manifest is written last so a folder without one
// is an incomplete export.
func (e *Exporter) Export(ctx context.Context, at time.Time) (domain.ExportResult, error) {
	at = at.UTC()
	dir := path.Join(e.prefix, at.Format(snapshotLayout))

	lots, err := e.ledger.ListLots(ctx, domain.LotFilter{})
	if err != nil {
		return domain.ExportResult{}, fmt.Errorf("s3blob: export lots: %w", err)
	}
	realized, err := e.ledger.ListRealized(ctx, domain.PnLFilter{})
	if err != nil {
		return domain.ExportResult{}, fmt.Errorf("s3blob: export realized pnl: %w", err)
	}

	lotsPath := path.Join(dir, "lots.jsonl")
	if err := putJSONL(ctx, e.writer, lotsPath, lots); err != nil {
		return domain.ExportResult{}, err
	}
	pnlPath := path.Join(dir, "realized_pnl.jsonl")
	if err := putJSONL(ctx, e.writer, pnlPath, realized); err != nil {
		return domain.ExportResult{}, err
	}

	m, err := json.Marshal(manifest{
		At:          at,
		Lots:        len(lots),
		RealizedPnL: len(realized),
		Objects:     []string{lotsPath, pnlPath},
	})
	if err != nil {
		return domain.ExportResult{}, fmt.Errorf("s3blob: marshal manifest: %w", err)
	}
	if err := e.writer.Put(ctx, path.Join(dir, "manifest.json"), bytes.NewReader(m), "application/json"); err != nil {
		return domain.ExportResult{}, fmt.Errorf("s3blob: export manifest: %w", err)
	}

	res := domain.ExportResult{
		Prefix:      dir,
		Lots:        len(lots),
		RealizedPnL: len(realized),
		At:          at,
	}
	e.logger.InfoContext(ctx, "ledger snapshot exported",
		slog.String("prefix", dir),
		slog.Int("lots", res.Lots),
		slog.Int("realized_pnl", res.RealizedPnL),
	)

	if e.audit != nil {
		if err := e.audit.Log(ctx, "ledger.export", map[string]any{
			"prefix":       dir,
			"lots":         res.Lots,
			"realized_pnl": res.RealizedPnL,
		}); err != nil {
			e.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	return res, nil
}

// putJSONL uploads items as one JSON object per line. Payloads larger than a
// multipart part go through the multipart uploader.
func putJSONL[T any](ctx context.Context, w domain.BlobWriter, key string, items []T) error {
	data, err := marshalJSONL(items)
	if err != nil {
		return fmt.Errorf("s3blob: encode %s: %w", key, err)
	}
	if int64(len(data)) > MinPartSize {
		err = w.PutMultipart(ctx, key, bytes.NewReader(data), MinPartSize)
	} else {
		err = w.Put(ctx, key, bytes.NewReader(data), ndjson)
	}
	if err != nil {
		return fmt.Errorf("s3blob: upload %s: %w", key, err)
	}
	return nil
}

func marshalJSONL[T any](items []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range items {
		if err := enc.Encode(items[i]); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Exporter = (*Exporter)(nil)
