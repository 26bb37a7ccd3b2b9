package bigquery

import (
	"math/big"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-ledger/internal/domain"
)

var exportedAt = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func sampleTransaction() *domain.Transaction {
	return &domain.Transaction{
		TenantID:  7,
		Key:       "tx-1",
		Date:      time.Date(2024, 5, 30, 0, 0, 0, 0, time.UTC),
		Payee:     "Garden Centre",
		Amount:    decimal.RequireFromString("-45.50"),
		Source:    "may.json",
		CreatedAt: time.Date(2024, 5, 31, 10, 0, 0, 0, time.UTC),
		Splits: []domain.Split{
			{Key: "sp-1", Amount: decimal.RequireFromString("-30.25"), Category: "Garden", Order: 0},
			{Key: "sp-2", Amount: decimal.RequireFromString("-15.25"), Category: "Home", Memo: "pots", Order: 1},
		},
	}
}

func TestNewTransactionRow(t *testing.T) {
	row := NewTransactionRow(sampleTransaction(), exportedAt)

	assert.Equal(t, "tx-1", row.TransactionKey)
	assert.EqualValues(t, 7, row.TenantID)
	assert.Equal(t, civil.Date{Year: 2024, Month: time.May, Day: 30}, row.TransactionDate)
	assert.Zero(t, row.Amount.Cmp(big.NewRat(-91, 2)))
	assert.False(t, row.Memo.Valid)
	assert.True(t, row.Source.Valid)
	assert.Equal(t, "may.json", row.Source.StringVal)
	assert.False(t, row.ExternalID.Valid)
	assert.EqualValues(t, 2, row.SplitCount)
	assert.Equal(t, exportedAt, row.ExportedTS)
}

func TestNewSplitRows(t *testing.T) {
	rows := NewSplitRows(sampleTransaction(), exportedAt)
	require.Len(t, rows, 2)

	assert.Equal(t, "sp-2", rows[1].SplitKey)
	assert.Equal(t, "tx-1", rows[1].TransactionKey)
	assert.Equal(t, "Home", rows[1].Category)
	assert.Equal(t, "pots", rows[1].Memo.StringVal)
	assert.EqualValues(t, 1, rows[1].SortOrder)
	assert.Zero(t, rows[1].Amount.Cmp(big.NewRat(-61, 4)))
	assert.Equal(t, civil.Date{Year: 2024, Month: time.May, Day: 30}, rows[1].TransactionDate)
}

func TestExportSavers(t *testing.T) {
	uncategorized := sampleTransaction()
	uncategorized.Key = "tx-2"
	uncategorized.Splits = nil

	txSavers, splitSavers := exportSavers([]*domain.Transaction{sampleTransaction(), uncategorized}, exportedAt)
	require.Len(t, txSavers, 2)
	require.Len(t, splitSavers, 2)

	assert.Equal(t, insertID("tx-1", exportedAt), txSavers[0].InsertID)
	assert.NotEqual(t, insertID("tx-1", exportedAt), insertID("tx-1", exportedAt.Add(time.Second)))
}

func TestReadMigrations(t *testing.T) {
	migs, err := ReadMigrations("my-project", "ledger_export")
	require.NoError(t, err)
	require.Len(t, migs, 2)

	assert.Equal(t, 1, migs[0].Version)
	assert.Equal(t, "ledger_export", migs[0].Name)
	assert.Contains(t, migs[0].SQL, "`my-project.ledger_export.transactions`")
	assert.Contains(t, migs[0].SQL, "`my-project.ledger_export.splits`")
	assert.False(t, strings.Contains(migs[1].SQL, "{{"), "placeholders must be replaced")

	other, err := ReadMigrations("other-project", "finance")
	require.NoError(t, err)
	assert.Equal(t, migs[0].Checksum, other[0].Checksum)
}
