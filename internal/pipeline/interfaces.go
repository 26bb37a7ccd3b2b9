package pipeline

import (
	"context"

	"github.com/dvloznov/finance-ledger/internal/domain"
)

// EntryLoader reads a batch of parsed statement entries from a source such
// as a local path or a gs:// URI.
type EntryLoader interface {
	Load(ctx context.Context, source string) ([]domain.ParsedEntry, error)
}

// LedgerExporter mirrors committed transactions to an analytics sink.
// This interface enables mocking of the BigQuery exporter in tests.
type LedgerExporter interface {
	ExportTransactions(ctx context.Context, txs []*domain.Transaction) error
}
