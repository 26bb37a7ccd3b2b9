package inmemory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/dvloznov/finance-ledger/internal/store/storetest"
)

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return NewStore() })
}

func TestGetTransactionReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	tenantID := storetest.CreateTenant(t, s)

	tx := &domain.Transaction{TenantID: tenantID, Key: "tx-1", Payee: "Tesco",
		Splits: []domain.Split{{Key: "s-1", Category: "Groceries"}}}
	require.NoError(t, s.InsertTransaction(ctx, tx))

	got, err := s.GetTransaction(ctx, tenantID, "tx-1")
	require.NoError(t, err)
	got.Payee = "changed"
	got.Splits[0].Category = "changed"

	again, err := s.GetTransaction(ctx, tenantID, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "Tesco", again.Payee)
	assert.Equal(t, "Groceries", again.Splits[0].Category)
}

func TestRunInTxCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewStore()
	called := false
	err := s.RunInTx(ctx, func(store.Store) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrInfrastructure)
	assert.False(t, called)
}
