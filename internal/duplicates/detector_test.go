package duplicates

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/dvloznov/finance-ledger/internal/store/inmemory"
	"github.com/dvloznov/finance-ledger/internal/store/storetest"
)

func day(s string) time.Time {
	d, _ := time.Parse(domain.DateLayout, s)
	return d
}

func seed(t *testing.T, s *inmemory.Store, tenantID int64, key, date, payee, amount, extID string) {
	t.Helper()
	require.NoError(t, s.InsertTransaction(context.Background(), &domain.Transaction{
		TenantID: tenantID, Key: key, Date: day(date), Payee: payee,
		Amount: decimal.RequireFromString(amount), ExternalID: extID,
	}))
}

func TestClassify(t *testing.T) {
	s := inmemory.NewStore()
	tenantID := storetest.CreateTenant(t, s)
	other := storetest.CreateTenant(t, s)

	seed(t, s, tenantID, "tx-fitid", "2024-01-10", "Employer Ltd", "2500.00", "FITID-001")
	seed(t, s, tenantID, "tx-coffee-1", "2024-01-11", "STARBUCKS", "-3.50", "")
	seed(t, s, tenantID, "tx-coffee-2", "2024-01-11", "Starbucks", "-3.5", "")
	seed(t, s, tenantID, "tx-blank", "2024-01-12", "Corner Shop", "-1.00", "")
	seed(t, s, other, "tx-other", "2024-01-13", "Gym", "-30.00", "FITID-900")

	tests := []struct {
		name     string
		c        Candidate
		wantKind domain.DuplicateKind
		wantKey  string
	}{
		{
			name:     "exact external id",
			c:        Candidate{Date: day("2024-02-01"), Payee: "Something else", Amount: decimal.RequireFromString("1"), ExternalID: "FITID-001"},
			wantKind: domain.DuplicateExact,
			wantKey:  "tx-fitid",
		},
		{
			name:     "exact wins over probable",
			c:        Candidate{Date: day("2024-01-11"), Payee: "starbucks", Amount: decimal.RequireFromString("-3.50"), ExternalID: "FITID-001"},
			wantKind: domain.DuplicateExact,
			wantKey:  "tx-fitid",
		},
		{
			name:     "probable picks lowest id",
			c:        Candidate{Date: day("2024-01-11"), Payee: "starbucks", Amount: decimal.RequireFromString("-3.500")},
			wantKind: domain.DuplicateProbable,
			wantKey:  "tx-coffee-1",
		},
		{
			name:     "unknown external id falls through to probable",
			c:        Candidate{Date: day("2024-01-11"), Payee: "Starbucks", Amount: decimal.RequireFromString("-3.50"), ExternalID: "FITID-404"},
			wantKind: domain.DuplicateProbable,
			wantKey:  "tx-coffee-1",
		},
		{
			name:     "blank external id never matches blank ids",
			c:        Candidate{Date: day("2024-03-01"), Payee: "Corner Shop", Amount: decimal.RequireFromString("-1.00"), ExternalID: "   "},
			wantKind: domain.DuplicateNone,
		},
		{
			name:     "different amount",
			c:        Candidate{Date: day("2024-01-11"), Payee: "Starbucks", Amount: decimal.RequireFromString("-3.51")},
			wantKind: domain.DuplicateNone,
		},
		{
			name:     "different date",
			c:        Candidate{Date: day("2024-01-12"), Payee: "Starbucks", Amount: decimal.RequireFromString("-3.50")},
			wantKind: domain.DuplicateNone,
		},
		{
			name:     "payee must match exactly apart from case",
			c:        Candidate{Date: day("2024-01-11"), Payee: "Starbucks #1", Amount: decimal.RequireFromString("-3.50")},
			wantKind: domain.DuplicateNone,
		},
		{
			name:     "other tenant is invisible",
			c:        Candidate{Date: day("2024-01-13"), Payee: "Gym", Amount: decimal.RequireFromString("-30.00"), ExternalID: "FITID-900"},
			wantKind: domain.DuplicateNone,
		},
	}

	d := NewDetector(s)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.Classify(context.Background(), tenantID, tt.c)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantKey, got.TransactionKey)

			again, err := d.Classify(context.Background(), tenantID, tt.c)
			require.NoError(t, err)
			assert.Equal(t, got, again, "classification must be deterministic")
		})
	}
}

// failingLedger lets tests inject storage failures.
type failingLedger struct {
	store.LedgerStore
	FirstByExternalIDFunc func(ctx context.Context, tenantID int64, externalID string) (*domain.Transaction, error)
	ListByDateFunc        func(ctx context.Context, tenantID int64, day time.Time) ([]*domain.Transaction, error)
}

func (f *failingLedger) FirstByExternalID(ctx context.Context, tenantID int64, externalID string) (*domain.Transaction, error) {
	return f.FirstByExternalIDFunc(ctx, tenantID, externalID)
}

func (f *failingLedger) ListByDate(ctx context.Context, tenantID int64, day time.Time) ([]*domain.Transaction, error) {
	return f.ListByDateFunc(ctx, tenantID, day)
}

func TestClassify_StorageErrors(t *testing.T) {
	boom := domain.Infrastructure("test", errors.New("connection reset"))

	ledger := &failingLedger{
		FirstByExternalIDFunc: func(context.Context, int64, string) (*domain.Transaction, error) {
			return nil, boom
		},
		ListByDateFunc: func(context.Context, int64, time.Time) ([]*domain.Transaction, error) {
			return nil, boom
		},
	}
	d := NewDetector(ledger)

	_, err := d.Classify(context.Background(), 1, Candidate{ExternalID: "x"})
	assert.ErrorIs(t, err, domain.ErrInfrastructure)

	_, err = d.Classify(context.Background(), 1, Candidate{})
	assert.ErrorIs(t, err, domain.ErrInfrastructure)
}
