// Package bigquery mirrors the ledger to BigQuery for analytics and keeps
// the export dataset's schema migrated.
package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/logger"
)

const (
	transactionsTable = "transactions"
	splitsTable       = "splits"
)

// Exporter streams committed transactions and their splits into a
// BigQuery dataset. It holds a shared client to avoid creating a new
// connection for each export.
type Exporter struct {
	client    *bigquery.Client
	projectID string
	datasetID string
	now       func() time.Time
}

// NewExporter creates an Exporter with its own BigQuery client.
func NewExporter(ctx context.Context, projectID, datasetID string) (*Exporter, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewExporter: creating client: %w", err)
	}
	return NewExporterWithClient(client, projectID, datasetID), nil
}

// NewExporterWithClient creates an Exporter on the provided client.
func NewExporterWithClient(client *bigquery.Client, projectID, datasetID string) *Exporter {
	return &Exporter{
		client:    client,
		projectID: projectID,
		datasetID: datasetID,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Close closes the BigQuery client connection.
func (e *Exporter) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

// ExportTransactions appends one row per transaction and one per split.
// Every export of a transaction adds new rows; the latest_* views keep the
// most recent export of each transaction.
func (e *Exporter) ExportTransactions(ctx context.Context, txs []*domain.Transaction) error {
	log := logger.FromContext(ctx)

	txSavers, splitSavers := exportSavers(txs, e.now())
	if err := e.put(ctx, transactionsTable, txSavers); err != nil {
		return err
	}
	if err := e.put(ctx, splitsTable, splitSavers); err != nil {
		return err
	}

	log.Info().
		Str("dataset", e.datasetID).
		Int("transactions", len(txSavers)).
		Int("splits", len(splitSavers)).
		Msg("Inserted ledger rows into BigQuery")
	return nil
}

func (e *Exporter) put(ctx context.Context, table string, savers []*bigquery.StructSaver) error {
	if len(savers) == 0 {
		return nil
	}

	// Use fully qualified table name to avoid project ID issues
	inserter := e.client.DatasetInProject(e.projectID, e.datasetID).Table(table).Inserter()
	if err := inserter.Put(ctx, savers); err != nil {
		return fmt.Errorf("ExportTransactions: inserting %s rows: %w", table, err)
	}
	return nil
}

// exportSavers builds the insert payloads for txs.
func exportSavers(txs []*domain.Transaction, exportedAt time.Time) (txSavers, splitSavers []*bigquery.StructSaver) {
	for _, tx := range txs {
		txSavers = append(txSavers, &bigquery.StructSaver{
			Struct:   NewTransactionRow(tx, exportedAt),
			InsertID: insertID(tx.Key, exportedAt),
		})
		for _, row := range NewSplitRows(tx, exportedAt) {
			splitSavers = append(splitSavers, &bigquery.StructSaver{
				Struct:   row,
				InsertID: insertID(row.SplitKey, exportedAt),
			})
		}
	}
	return txSavers, splitSavers
}

// insertID is stable across retries of one export, so BigQuery's
// best-effort deduplication drops rows resent by the client.
func insertID(key string, exportedAt time.Time) string {
	return fmt.Sprintf("%s@%d", key, exportedAt.UnixNano())
}
