package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the persisted form of a calendar day.
const DateLayout = "2006-01-02"

// Transaction is a committed ledger entry. It is created only by the commit
// engine; staging never writes here.
type Transaction struct {
	ID       int64 // storage-only
	TenantID int64
	Key      string

	Date   time.Time // calendar day, UTC midnight
	Payee  string
	Amount decimal.Decimal

	Memo       string // optional
	Source     string // optional
	ExternalID string // optional, e.g. an OFX FITID

	CreatedAt time.Time

	Splits []Split
}

// Split allocates part of a transaction amount to a category.
type Split struct {
	ID            int64 // storage-only
	TransactionID int64
	Key           string

	Amount   decimal.Decimal
	Category string
	Memo     string
	Order    int // strictly increasing per transaction, gaps allowed
}

// Day truncates t to a UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SplitTotal returns the sum of all split amounts.
func SplitTotal(splits []Split) decimal.Decimal {
	total := decimal.Zero
	for _, s := range splits {
		total = total.Add(s.Amount)
	}
	return total
}

// CheckSplits enforces the ledger invariant: a transaction with at least one
// split must have split amounts summing exactly to its amount, and split
// orders must be strictly increasing.
func CheckSplits(amount decimal.Decimal, splits []Split) error {
	if len(splits) == 0 {
		return nil
	}
	for i := 1; i < len(splits); i++ {
		if splits[i].Order <= splits[i-1].Order {
			return Validationf("split orders must be strictly increasing (%d after %d)", splits[i].Order, splits[i-1].Order)
		}
	}
	if total := SplitTotal(splits); !total.Equal(amount) {
		return InvalidSplitTotal(amount, total)
	}
	return nil
}
