package staging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-ledger/internal/categorize"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/duplicates"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/dvloznov/finance-ledger/internal/store/inmemory"
	"github.com/dvloznov/finance-ledger/internal/store/storetest"
)

var fixedNow = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store    *inmemory.Store
	engine   *categorize.Engine
	area     *Area
	tenantID int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := inmemory.NewStore()
	engine := categorize.NewEngine(s)
	return &fixture{
		store:    s,
		engine:   engine,
		area:     NewArea(s, duplicates.NewDetector(s), engine, WithClock(func() time.Time { return fixedNow })),
		tenantID: storetest.CreateTenant(t, s),
	}
}

func parsed(date, payee, amount, extID string) domain.ParsedEntry {
	d, _ := time.Parse(domain.DateLayout, date)
	return domain.ParsedEntry{Date: d, Payee: payee, Amount: decimal.RequireFromString(amount), ExternalID: extID, Source: "statement.json"}
}

func TestStageBatch_ExactDuplicateStartsUnselected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	existing := &domain.Transaction{TenantID: f.tenantID, Key: "tx-existing", Date: parsed("2024-01-02", "", "0", "").Date,
		Payee: "Employer", Amount: decimal.RequireFromString("2500"), ExternalID: "FITID-001"}
	require.NoError(t, f.store.InsertTransaction(ctx, existing))

	staged, err := f.area.StageBatch(ctx, f.tenantID, []domain.ParsedEntry{
		parsed("2024-01-02", "Employer", "2500", "FITID-001"),
	})
	require.NoError(t, err)
	require.Len(t, staged, 1)

	got, err := f.area.Get(ctx, f.tenantID, staged[0].Key)
	require.NoError(t, err)
	assert.Equal(t, domain.DuplicateExact, got.Duplicate.Kind)
	assert.Equal(t, "tx-existing", got.Duplicate.TransactionKey)
	assert.False(t, got.IsSelected)
}

func TestStageBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.store.InsertTransaction(ctx, &domain.Transaction{
		TenantID: f.tenantID, Key: "tx-coffee", Date: parsed("2024-01-03", "", "0", "").Date,
		Payee: "COSTA", Amount: decimal.RequireFromString("-2.80"),
	}))
	rule, err := f.engine.CreateRule(ctx, f.tenantID, categorize.RuleInput{Pattern: "^costa", IsRegex: true, Category: "Coffee"})
	require.NoError(t, err)

	staged, err := f.area.StageBatch(ctx, f.tenantID, []domain.ParsedEntry{
		parsed("2024-01-03", "Costa", "-2.80", ""),
		parsed("2024-01-04", "Unknown Shop", "-9.99", ""),
		parsed("2024-01-05", "Costa Coffee", "-3.10", "FITID-777"),
	})
	require.NoError(t, err)
	require.Len(t, staged, 3)

	probable := staged[0]
	assert.Equal(t, domain.DuplicateProbable, probable.Duplicate.Kind)
	assert.Equal(t, "tx-coffee", probable.Duplicate.TransactionKey)
	assert.True(t, probable.IsSelected)
	assert.Equal(t, "Coffee", probable.SuggestedCategory)
	assert.Equal(t, rule.Key, probable.MatchedRuleKey)

	assert.Equal(t, domain.DuplicateNone, staged[1].Duplicate.Kind)
	assert.True(t, staged[1].IsSelected)
	assert.Empty(t, staged[1].SuggestedCategory)

	listed, err := f.area.List(ctx, f.tenantID)
	require.NoError(t, err)
	require.Len(t, listed, 3)
	for i := range staged {
		assert.Equal(t, staged[i].Key, listed[i].Key, "list follows staging order")
	}

	r, err := f.store.GetRule(ctx, f.tenantID, rule.Key)
	require.NoError(t, err)
	assert.Zero(t, r.MatchCount, "staging must not touch rule statistics")

	again, err := f.area.StageBatch(ctx, f.tenantID, []domain.ParsedEntry{parsed("2024-01-03", "Costa", "-2.80", "")})
	require.NoError(t, err)
	assert.Equal(t, probable.Duplicate, again[0].Duplicate, "classification is deterministic")
}

func TestStageBatch_Empty(t *testing.T) {
	f := newFixture(t)
	staged, err := f.area.StageBatch(context.Background(), f.tenantID, nil)
	require.NoError(t, err)
	assert.Empty(t, staged)
}

// failingClassifier fails on the nth call.
type failingClassifier struct {
	calls     int
	failOn    int
	delegated duplicates.Classifier
}

func (c *failingClassifier) Classify(ctx context.Context, tenantID int64, cand duplicates.Candidate) (domain.Verdict, error) {
	c.calls++
	if c.calls == c.failOn {
		return domain.Verdict{}, domain.Infrastructure("Classify", errors.New("ledger unavailable"))
	}
	return c.delegated.Classify(ctx, tenantID, cand)
}

func TestStageBatch_IsAtomic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	area := NewArea(f.store, &failingClassifier{failOn: 2, delegated: duplicates.NewDetector(f.store)}, f.engine)

	_, err := area.StageBatch(ctx, f.tenantID, []domain.ParsedEntry{
		parsed("2024-01-03", "A", "-1", ""),
		parsed("2024-01-03", "B", "-2", ""),
	})
	assert.ErrorIs(t, err, domain.ErrInfrastructure)

	listed, err := f.area.List(ctx, f.tenantID)
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func stageOne(t *testing.T, f *fixture) string {
	t.Helper()
	staged, err := f.area.StageBatch(context.Background(), f.tenantID, []domain.ParsedEntry{parsed("2024-02-01", "Tesco", "-12.00", "")})
	require.NoError(t, err)
	return staged[0].Key
}

func TestToggleSelection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	key := stageOne(t, f)

	require.NoError(t, f.area.ToggleSelection(ctx, f.tenantID, key, false))
	got, err := f.area.Get(ctx, f.tenantID, key)
	require.NoError(t, err)
	assert.False(t, got.IsSelected)

	other := storetest.CreateTenant(t, f.store)
	assert.ErrorIs(t, f.area.ToggleSelection(ctx, other, key, true), domain.ErrNotFound)
	assert.ErrorIs(t, f.area.ToggleSelection(ctx, f.tenantID, "missing", true), domain.ErrNotFound)

	results := f.area.DiscardBatch(ctx, f.tenantID, []string{key})
	require.Len(t, results, 1)
	require.False(t, results[0].Failed())
	assert.ErrorIs(t, f.area.ToggleSelection(ctx, f.tenantID, key, true), domain.ErrConflict)
}

func TestDiscardBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	discardMe := stageOne(t, f)
	committed := stageOne(t, f)

	require.NoError(t, f.store.FinishStaged(ctx, domain.Outcome{
		TenantID: f.tenantID, EntryKey: committed, State: domain.EntryCommitted, TransactionKey: "tx-1", DecidedAt: fixedNow,
	}))

	results := f.area.DiscardBatch(ctx, f.tenantID, []string{discardMe, committed, "never-staged"})
	require.Len(t, results, 3)
	assert.Equal(t, domain.ResultDiscarded, results[0].Status)
	assert.Equal(t, domain.KindConflict, results[1].Kind())
	assert.Equal(t, domain.KindNotFound, results[2].Kind())

	again := f.area.DiscardBatch(ctx, f.tenantID, []string{discardMe})
	require.Len(t, again, 1)
	assert.Equal(t, domain.KindNotFound, again[0].Kind())

	txs, err := f.store.ListTransactions(ctx, f.tenantID, fixedNow.AddDate(-1, 0, 0), fixedNow)
	require.NoError(t, err)
	assert.Empty(t, txs, "discard has no ledger effect")
}

func TestDiscardBatch_CancelledContext(t *testing.T) {
	f := newFixture(t)
	key := stageOne(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := f.area.DiscardBatch(ctx, f.tenantID, []string{key, "other"})
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, domain.KindInfrastructure, r.Kind())
	}

	_, err := f.area.Get(context.Background(), f.tenantID, key)
	assert.NoError(t, err, "entry must still be staged")
}

func TestRecategorize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	key := stageOne(t, f)

	before, err := f.area.Get(ctx, f.tenantID, key)
	require.NoError(t, err)
	assert.False(t, before.ManualCategory)

	got, err := f.area.Recategorize(ctx, f.tenantID, key, RecategorizeInput{Category: "Groceries"})
	require.NoError(t, err)
	assert.Equal(t, "Groceries", got.SuggestedCategory)
	assert.Empty(t, got.MatchedRuleKey)
	assert.True(t, got.ManualCategory)

	rules, err := f.engine.ListRules(ctx, f.tenantID)
	require.NoError(t, err)
	assert.Empty(t, rules)

	got, err = f.area.Recategorize(ctx, f.tenantID, key, RecategorizeInput{Category: "Food", Remember: true})
	require.NoError(t, err)
	assert.Equal(t, "Food", got.SuggestedCategory)
	require.NotEmpty(t, got.MatchedRuleKey)

	rule, err := f.store.GetRule(ctx, f.tenantID, got.MatchedRuleKey)
	require.NoError(t, err)
	assert.Equal(t, "Tesco", rule.Pattern)
	assert.False(t, rule.IsRegex)

	stored, err := f.area.Get(ctx, f.tenantID, key)
	require.NoError(t, err)
	assert.Equal(t, "Food", stored.SuggestedCategory)
	assert.True(t, stored.ManualCategory)

	cleared, err := f.area.Recategorize(ctx, f.tenantID, key, RecategorizeInput{})
	require.NoError(t, err)
	assert.Empty(t, cleared.SuggestedCategory)
	assert.Empty(t, cleared.MatchedRuleKey)
	assert.True(t, cleared.ManualCategory)

	_, err = f.area.Recategorize(ctx, f.tenantID, key, RecategorizeInput{Remember: true})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.area.Recategorize(ctx, f.tenantID, "missing", RecategorizeInput{Category: "X"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRequireStaged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	key := stageOne(t, f)

	_, err := RequireStaged(ctx, f.store, f.tenantID, key)
	require.NoError(t, err)

	require.NoError(t, f.store.RunInTx(ctx, func(tx store.Store) error {
		return tx.FinishStaged(ctx, domain.Outcome{TenantID: f.tenantID, EntryKey: key, State: domain.EntryDiscarded, DecidedAt: fixedNow})
	}))
	_, err = RequireStaged(ctx, f.store, f.tenantID, key)
	assert.ErrorIs(t, err, domain.ErrConflict)
}
