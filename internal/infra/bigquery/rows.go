package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/dvloznov/finance-ledger/internal/domain"
)

type TransactionRow struct {
	TransactionKey string `bigquery:"transaction_key"` // REQUIRED
	TenantID       int64  `bigquery:"tenant_id"`       // REQUIRED

	TransactionDate civil.Date `bigquery:"transaction_date"` // REQUIRED

	Payee  string   `bigquery:"payee"`  // REQUIRED STRING
	Amount *big.Rat `bigquery:"amount"` // REQUIRED NUMERIC

	Memo       bigquery.NullString `bigquery:"memo"`        // NULLABLE
	Source     bigquery.NullString `bigquery:"source"`      // NULLABLE
	ExternalID bigquery.NullString `bigquery:"external_id"` // NULLABLE

	SplitCount int64 `bigquery:"split_count"`

	CreatedTS  time.Time `bigquery:"created_ts"`
	ExportedTS time.Time `bigquery:"exported_ts"`
}

type SplitRow struct {
	SplitKey       string `bigquery:"split_key"`       // REQUIRED
	TransactionKey string `bigquery:"transaction_key"` // REQUIRED
	TenantID       int64  `bigquery:"tenant_id"`       // REQUIRED

	// Denormalized from the parent for partitioning.
	TransactionDate civil.Date `bigquery:"transaction_date"`

	Amount    *big.Rat            `bigquery:"amount"`   // REQUIRED NUMERIC
	Category  string              `bigquery:"category"` // REQUIRED STRING
	Memo      bigquery.NullString `bigquery:"memo"`     // NULLABLE
	SortOrder int64               `bigquery:"sort_order"`

	ExportedTS time.Time `bigquery:"exported_ts"`
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}

// NewTransactionRow maps a ledger transaction to its export row.
func NewTransactionRow(tx *domain.Transaction, exportedAt time.Time) *TransactionRow {
	return &TransactionRow{
		TransactionKey:  tx.Key,
		TenantID:        tx.TenantID,
		TransactionDate: civil.DateOf(tx.Date),
		Payee:           tx.Payee,
		Amount:          tx.Amount.Rat(),
		Memo:            nullString(tx.Memo),
		Source:          nullString(tx.Source),
		ExternalID:      nullString(tx.ExternalID),
		SplitCount:      int64(len(tx.Splits)),
		CreatedTS:       tx.CreatedAt,
		ExportedTS:      exportedAt,
	}
}

// NewSplitRows maps the splits of a ledger transaction to export rows.
func NewSplitRows(tx *domain.Transaction, exportedAt time.Time) []*SplitRow {
	rows := make([]*SplitRow, 0, len(tx.Splits))
	for _, sp := range tx.Splits {
		rows = append(rows, &SplitRow{
			SplitKey:        sp.Key,
			TransactionKey:  tx.Key,
			TenantID:        tx.TenantID,
			TransactionDate: civil.DateOf(tx.Date),
			Amount:          sp.Amount.Rat(),
			Category:        sp.Category,
			Memo:            nullString(sp.Memo),
			SortOrder:       int64(sp.Order),
			ExportedTS:      exportedAt,
		})
	}
	return rows
}
