// Package storetest holds a conformance suite that every store.Store
// implementation must pass.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/store"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// Run executes the conformance suite.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"Tenants", testTenants},
		{"Roles", testRoles},
		{"TransactionRoundTrip", testTransactionRoundTrip},
		{"FirstByExternalID", testFirstByExternalID},
		{"ListByDate", testListByDate},
		{"UpdateTransactionAndSplits", testUpdateTransactionAndSplits},
		{"TenantIsolation", testTenantIsolation},
		{"Rules", testRules},
		{"ConcurrentRuleMatches", testConcurrentRuleMatches},
		{"Staging", testStaging},
		{"FinishStaged", testFinishStaged},
		{"RunInTxRollback", testRunInTxRollback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { s.Close() })
			tt.fn(t, s)
		})
	}
}

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func date(s string) time.Time {
	d, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

// CreateTenant inserts a tenant with a random key and returns its ID.
func CreateTenant(t *testing.T, s store.Store) int64 {
	t.Helper()
	tenant := &domain.Tenant{Key: uuid.NewString(), Name: "Household", CreatedAt: baseTime}
	require.NoError(t, s.CreateTenant(context.Background(), tenant))
	return tenant.ID
}

func newTransaction(tenantID int64, day, payee, amount, externalID string) *domain.Transaction {
	return &domain.Transaction{
		TenantID:   tenantID,
		Key:        uuid.NewString(),
		Date:       date(day),
		Payee:      payee,
		Amount:     decimal.RequireFromString(amount),
		ExternalID: externalID,
		CreatedAt:  baseTime,
	}
}

func testTenants(t *testing.T, s store.Store) {
	ctx := context.Background()

	tenant := &domain.Tenant{Key: "home", Name: "Home", Description: "shared budget", CreatedAt: baseTime}
	require.NoError(t, s.CreateTenant(ctx, tenant))
	assert.NotZero(t, tenant.ID)

	got, err := s.GetTenant(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, "home", got.Key)
	assert.Equal(t, "shared budget", got.Description)

	err = s.CreateTenant(ctx, &domain.Tenant{Key: "home", Name: "Again", CreatedAt: baseTime})
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = s.GetTenant(ctx, tenant.ID+1000)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testRoles(t *testing.T, s store.Store) {
	ctx := context.Background()
	tenantID := CreateTenant(t, s)

	role, err := s.RoleOf(ctx, "alice", tenantID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleNone, role)

	require.NoError(t, s.AssignRole(ctx, domain.RoleAssignment{UserID: "alice", TenantID: tenantID, Role: domain.RoleViewer}))
	require.NoError(t, s.AssignRole(ctx, domain.RoleAssignment{UserID: "alice", TenantID: tenantID, Role: domain.RoleEditor}))

	role, err = s.RoleOf(ctx, "alice", tenantID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleEditor, role)

	err = s.AssignRole(ctx, domain.RoleAssignment{UserID: "bob", TenantID: tenantID + 1000, Role: domain.RoleOwner})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testTransactionRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	tenantID := CreateTenant(t, s)

	tx := newTransaction(tenantID, "2024-03-05", "Tesco", "-42.10", "ext-1")
	tx.Memo = "weekly shop"
	tx.Source = "statement.csv"
	tx.Splits = []domain.Split{
		{Key: uuid.NewString(), Amount: decimal.RequireFromString("-30.00"), Category: "Groceries", Order: 0},
		{Key: uuid.NewString(), Amount: decimal.RequireFromString("-12.10"), Category: "Household", Memo: "bleach", Order: 1},
	}
	require.NoError(t, s.InsertTransaction(ctx, tx))
	assert.NotZero(t, tx.ID)
	for _, sp := range tx.Splits {
		assert.NotZero(t, sp.ID)
		assert.Equal(t, tx.ID, sp.TransactionID)
	}

	got, err := s.GetTransaction(ctx, tenantID, tx.Key)
	require.NoError(t, err)
	assert.Equal(t, "Tesco", got.Payee)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("-42.1")))
	assert.True(t, got.Date.Equal(date("2024-03-05")))
	assert.Equal(t, "weekly shop", got.Memo)
	assert.Equal(t, "statement.csv", got.Source)
	assert.Equal(t, "ext-1", got.ExternalID)
	require.Len(t, got.Splits, 2)
	assert.Equal(t, "Groceries", got.Splits[0].Category)
	assert.Equal(t, "bleach", got.Splits[1].Memo)
	assert.NoError(t, domain.CheckSplits(got.Amount, got.Splits))

	dup := newTransaction(tenantID, "2024-03-05", "Tesco", "-1", "")
	dup.Key = tx.Key
	assert.ErrorIs(t, s.InsertTransaction(ctx, dup), domain.ErrConflict)

	_, err = s.GetTransaction(ctx, tenantID, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testFirstByExternalID(t *testing.T, s store.Store) {
	ctx := context.Background()
	tenantID := CreateTenant(t, s)

	first := newTransaction(tenantID, "2024-03-01", "A", "1", "dup")
	second := newTransaction(tenantID, "2024-03-02", "B", "2", "dup")
	require.NoError(t, s.InsertTransaction(ctx, first))
	require.NoError(t, s.InsertTransaction(ctx, second))
	require.NoError(t, s.InsertTransaction(ctx, newTransaction(tenantID, "2024-03-03", "C", "3", "")))

	got, err := s.FirstByExternalID(ctx, tenantID, "dup")
	require.NoError(t, err)
	assert.Equal(t, first.Key, got.Key)

	for _, id := range []string{"", "   ", "missing"} {
		_, err := s.FirstByExternalID(ctx, tenantID, id)
		assert.ErrorIs(t, err, domain.ErrNotFound, "external id %q", id)
	}
}

func testListByDate(t *testing.T, s store.Store) {
	ctx := context.Background()
	tenantID := CreateTenant(t, s)

	a := newTransaction(tenantID, "2024-03-05", "A", "1", "")
	b := newTransaction(tenantID, "2024-03-05", "B", "2", "")
	c := newTransaction(tenantID, "2024-03-06", "C", "3", "")
	for _, tx := range []*domain.Transaction{a, b, c} {
		require.NoError(t, s.InsertTransaction(ctx, tx))
	}

	got, err := s.ListByDate(ctx, tenantID, date("2024-03-05").Add(15*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, a.Key, got[0].Key)
	assert.Equal(t, b.Key, got[1].Key)

	got, err = s.ListTransactions(ctx, tenantID, date("2024-03-01"), date("2024-03-31"))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, c.Key, got[2].Key)

	got, err = s.ListByDate(ctx, tenantID, date("2024-03-07"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testUpdateTransactionAndSplits(t *testing.T, s store.Store) {
	ctx := context.Background()
	tenantID := CreateTenant(t, s)

	tx := newTransaction(tenantID, "2024-03-05", "Tesco", "-10", "")
	tx.Splits = []domain.Split{{Key: uuid.NewString(), Amount: decimal.RequireFromString("-10"), Category: "Groceries"}}
	require.NoError(t, s.InsertTransaction(ctx, tx))

	tx.Payee = "Tesco Express"
	tx.Amount = decimal.RequireFromString("-12")
	tx.Date = date("2024-03-06")
	require.NoError(t, s.UpdateTransaction(ctx, tx))

	splits := []domain.Split{
		{Key: uuid.NewString(), Amount: decimal.RequireFromString("-8"), Category: "Groceries", Order: 0},
		{Key: uuid.NewString(), Amount: decimal.RequireFromString("-4"), Category: "Snacks", Order: 1},
	}
	require.NoError(t, s.ReplaceSplits(ctx, tenantID, tx.Key, splits))

	got, err := s.GetTransaction(ctx, tenantID, tx.Key)
	require.NoError(t, err)
	assert.Equal(t, "Tesco Express", got.Payee)
	assert.True(t, got.Date.Equal(date("2024-03-06")))
	require.Len(t, got.Splits, 2)
	assert.Equal(t, "Snacks", got.Splits[1].Category)
	assert.NoError(t, domain.CheckSplits(got.Amount, got.Splits))

	missing := newTransaction(tenantID, "2024-03-05", "X", "1", "")
	assert.ErrorIs(t, s.UpdateTransaction(ctx, missing), domain.ErrNotFound)
	assert.ErrorIs(t, s.ReplaceSplits(ctx, tenantID, missing.Key, nil), domain.ErrNotFound)
}

func testTenantIsolation(t *testing.T, s store.Store) {
	ctx := context.Background()
	t1 := CreateTenant(t, s)
	t2 := CreateTenant(t, s)

	tx := newTransaction(t1, "2024-03-05", "Tesco", "-10", "ext-1")
	require.NoError(t, s.InsertTransaction(ctx, tx))
	rule := &domain.PayeeRule{TenantID: t1, Key: uuid.NewString(), Pattern: "tesco", Category: "Groceries",
		CreatedAt: baseTime, ModifiedAt: baseTime}
	require.NoError(t, s.InsertRule(ctx, rule))

	_, err := s.GetTransaction(ctx, t2, tx.Key)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.FirstByExternalID(ctx, t2, "ext-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.GetRule(ctx, t2, rule.Key)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, s.RecordRuleMatch(ctx, t2, rule.Key, baseTime), domain.ErrNotFound)

	listed, err := s.ListByDate(ctx, t2, date("2024-03-05"))
	require.NoError(t, err)
	assert.Empty(t, listed)
	rules, err := s.ListRules(ctx, t2)
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func testRules(t *testing.T, s store.Store) {
	ctx := context.Background()
	tenantID := CreateTenant(t, s)

	r := &domain.PayeeRule{TenantID: tenantID, Key: uuid.NewString(), Pattern: "^TESCO", IsRegex: true,
		Category: "Groceries", CreatedAt: baseTime, ModifiedAt: baseTime}
	require.NoError(t, s.InsertRule(ctx, r))
	assert.NotZero(t, r.ID)

	got, err := s.GetRule(ctx, tenantID, r.Key)
	require.NoError(t, err)
	assert.True(t, got.IsRegex)
	assert.Nil(t, got.LastUsedAt)
	assert.Zero(t, got.MatchCount)

	r.Pattern = "sainsbury"
	r.IsRegex = false
	r.Category = "Food"
	r.ModifiedAt = baseTime.Add(time.Hour)
	require.NoError(t, s.UpdateRule(ctx, r))

	used := baseTime.Add(2 * time.Hour)
	require.NoError(t, s.RecordRuleMatch(ctx, tenantID, r.Key, used))

	got, err = s.GetRule(ctx, tenantID, r.Key)
	require.NoError(t, err)
	assert.Equal(t, "sainsbury", got.Pattern)
	assert.False(t, got.IsRegex)
	assert.Equal(t, "Food", got.Category)
	assert.EqualValues(t, 1, got.MatchCount)
	require.NotNil(t, got.LastUsedAt)
	assert.True(t, got.LastUsedAt.Equal(used))

	other := &domain.PayeeRule{TenantID: tenantID, Key: uuid.NewString(), Pattern: "amazon",
		Category: "Shopping", CreatedAt: baseTime, ModifiedAt: baseTime}
	require.NoError(t, s.InsertRule(ctx, other))

	rules, err := s.ListRules(ctx, tenantID)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, r.Key, rules[0].Key)

	require.NoError(t, s.DeleteRule(ctx, tenantID, r.Key))
	assert.ErrorIs(t, s.DeleteRule(ctx, tenantID, r.Key), domain.ErrNotFound)
	assert.ErrorIs(t, s.UpdateRule(ctx, r), domain.ErrNotFound)
	assert.ErrorIs(t, s.RecordRuleMatch(ctx, tenantID, r.Key, used), domain.ErrNotFound)
}

func testConcurrentRuleMatches(t *testing.T, s store.Store) {
	ctx := context.Background()
	tenantID := CreateTenant(t, s)

	r := &domain.PayeeRule{TenantID: tenantID, Key: uuid.NewString(), Pattern: "tesco",
		Category: "Groceries", CreatedAt: baseTime, ModifiedAt: baseTime}
	require.NoError(t, s.InsertRule(ctx, r))

	const workers = 25
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			return s.RecordRuleMatch(gctx, tenantID, r.Key, baseTime)
		})
	}
	require.NoError(t, g.Wait())

	got, err := s.GetRule(ctx, tenantID, r.Key)
	require.NoError(t, err)
	assert.EqualValues(t, workers, got.MatchCount)
}

func newStaged(tenantID int64, key string) *domain.StagedEntry {
	return &domain.StagedEntry{
		TenantID:   tenantID,
		Key:        key,
		Date:       date("2024-03-05"),
		Payee:      "Tesco",
		Amount:     decimal.RequireFromString("-42.10"),
		IsSelected: true,
		Duplicate:  domain.Verdict{Kind: domain.DuplicateNone},
		CreatedAt:  baseTime,
	}
}

func testStaging(t *testing.T, s store.Store) {
	ctx := context.Background()
	tenantID := CreateTenant(t, s)

	b := newStaged(tenantID, "b")
	a := newStaged(tenantID, "a")
	a.IsSelected = false
	a.Duplicate = domain.Verdict{Kind: domain.DuplicateExact, TransactionKey: "tx-1"}
	a.ExternalID = "ext-9"
	require.NoError(t, s.InsertStaged(ctx, []*domain.StagedEntry{b, a}))
	assert.NotZero(t, a.ID)

	listed, err := s.ListStaged(ctx, tenantID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "a", listed[0].Key)
	assert.Equal(t, domain.DuplicateExact, listed[0].Duplicate.Kind)
	assert.Equal(t, "tx-1", listed[0].Duplicate.TransactionKey)
	assert.Equal(t, "ext-9", listed[0].ExternalID)
	assert.False(t, listed[0].IsSelected)
	assert.True(t, listed[1].Amount.Equal(decimal.RequireFromString("-42.1")))

	require.NoError(t, s.SetSelected(ctx, tenantID, "a", true))
	require.NoError(t, s.SetSuggestion(ctx, tenantID, "a", "Groceries", "rule-1", false))

	got, err := s.GetStaged(ctx, tenantID, "a")
	require.NoError(t, err)
	assert.True(t, got.IsSelected)
	assert.Equal(t, "Groceries", got.SuggestedCategory)
	assert.Equal(t, "rule-1", got.MatchedRuleKey)
	assert.False(t, got.ManualCategory)

	require.NoError(t, s.SetSuggestion(ctx, tenantID, "a", "", "", true))
	got, err = s.GetStaged(ctx, tenantID, "a")
	require.NoError(t, err)
	assert.Empty(t, got.SuggestedCategory)
	assert.Empty(t, got.MatchedRuleKey)
	assert.True(t, got.ManualCategory)

	assert.ErrorIs(t, s.InsertStaged(ctx, []*domain.StagedEntry{newStaged(tenantID, "a")}), domain.ErrConflict)
	assert.ErrorIs(t, s.SetSelected(ctx, tenantID, "zzz", true), domain.ErrNotFound)

	other := CreateTenant(t, s)
	_, err = s.GetStaged(ctx, other, "a")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testFinishStaged(t *testing.T, s store.Store) {
	ctx := context.Background()
	tenantID := CreateTenant(t, s)
	require.NoError(t, s.InsertStaged(ctx, []*domain.StagedEntry{newStaged(tenantID, "k")}))

	_, err := s.GetOutcome(ctx, tenantID, "k")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	o := domain.Outcome{TenantID: tenantID, EntryKey: "k", State: domain.EntryCommitted, TransactionKey: "tx-1", DecidedAt: baseTime}
	require.NoError(t, s.FinishStaged(ctx, o))

	_, err = s.GetStaged(ctx, tenantID, "k")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, err := s.GetOutcome(ctx, tenantID, "k")
	require.NoError(t, err)
	assert.Equal(t, domain.EntryCommitted, got.State)
	assert.Equal(t, "tx-1", got.TransactionKey)

	o.State = domain.EntryDiscarded
	assert.ErrorIs(t, s.FinishStaged(ctx, o), domain.ErrNotFound)

	o.State = domain.EntryStaged
	assert.Error(t, s.FinishStaged(ctx, o))
}

func testRunInTxRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	tenantID := CreateTenant(t, s)

	tx := newTransaction(tenantID, "2024-03-05", "Tesco", "-10", "")
	boom := errors.New("boom")
	err := s.RunInTx(ctx, func(view store.Store) error {
		if err := view.InsertTransaction(ctx, tx); err != nil {
			return err
		}
		if err := view.InsertStaged(ctx, []*domain.StagedEntry{newStaged(tenantID, "rolled-back")}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetTransaction(ctx, tenantID, tx.Key)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.GetStaged(ctx, tenantID, "rolled-back")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	committed := newTransaction(tenantID, "2024-03-05", "Tesco", "-10", "")
	require.NoError(t, s.RunInTx(ctx, func(view store.Store) error {
		return view.InsertTransaction(ctx, committed)
	}))
	_, err = s.GetTransaction(ctx, tenantID, committed.Key)
	assert.NoError(t, err)
}
