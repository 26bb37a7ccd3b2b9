package inmemory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/store"
)

// Store is an in-memory implementation of store.Store.
// It is safe for concurrent use. Data is lost on restart; for persistence use
// the sqlstore package.
type Store struct {
	mu   *sync.RWMutex
	st   *state
	inTx bool // set on transactional views, which already hold mu
}

type roleKey struct {
	userID   string
	tenantID int64
}

type state struct {
	nextID   int64
	tenants  map[int64]domain.Tenant
	roles    map[roleKey]domain.Role
	txs      map[string]domain.Transaction
	rules    map[string]domain.PayeeRule
	staged   map[string]domain.StagedEntry
	outcomes map[string]domain.Outcome
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		mu: &sync.RWMutex{},
		st: &state{
			tenants:  make(map[int64]domain.Tenant),
			roles:    make(map[roleKey]domain.Role),
			txs:      make(map[string]domain.Transaction),
			rules:    make(map[string]domain.PayeeRule),
			staged:   make(map[string]domain.StagedEntry),
			outcomes: make(map[string]domain.Outcome),
		},
	}
}

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) rlock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

func (st *state) id() int64 {
	st.nextID++
	return st.nextID
}

func (st *state) clone() *state {
	c := &state{
		nextID:   st.nextID,
		tenants:  make(map[int64]domain.Tenant, len(st.tenants)),
		roles:    make(map[roleKey]domain.Role, len(st.roles)),
		txs:      make(map[string]domain.Transaction, len(st.txs)),
		rules:    make(map[string]domain.PayeeRule, len(st.rules)),
		staged:   make(map[string]domain.StagedEntry, len(st.staged)),
		outcomes: make(map[string]domain.Outcome, len(st.outcomes)),
	}
	for k, v := range st.tenants {
		c.tenants[k] = v
	}
	for k, v := range st.roles {
		c.roles[k] = v
	}
	for k, v := range st.txs {
		c.txs[k] = copyTx(v)
	}
	for k, v := range st.rules {
		c.rules[k] = v
	}
	for k, v := range st.staged {
		c.staged[k] = v
	}
	for k, v := range st.outcomes {
		c.outcomes[k] = v
	}
	return c
}

func copyTx(tx domain.Transaction) domain.Transaction {
	tx.Splits = append([]domain.Split(nil), tx.Splits...)
	return tx
}

// RunInTx implements store.Store. The view holds the write lock for the
// duration of fn; on error the state is restored from a snapshot.
func (s *Store) RunInTx(ctx context.Context, fn func(tx store.Store) error) error {
	if err := ctx.Err(); err != nil {
		return domain.Infrastructure("RunInTx", err)
	}
	if s.inTx {
		return fn(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	view := &Store{mu: s.mu, st: s.st, inTx: true}
	if err := fn(view); err != nil {
		*s.st = *snapshot
		return err
	}
	return nil
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

// CreateTenant implements store.TenantStore.
func (s *Store) CreateTenant(ctx context.Context, t *domain.Tenant) error {
	defer s.lock()()

	for _, existing := range s.st.tenants {
		if existing.Key == t.Key {
			return domain.Conflictf("tenant key %q already exists", t.Key)
		}
	}
	t.ID = s.st.id()
	s.st.tenants[t.ID] = *t
	return nil
}

// GetTenant implements store.TenantStore.
func (s *Store) GetTenant(ctx context.Context, tenantID int64) (*domain.Tenant, error) {
	defer s.rlock()()

	t, ok := s.st.tenants[tenantID]
	if !ok {
		return nil, domain.NotFoundf("tenant %d", tenantID)
	}
	return &t, nil
}

// AssignRole implements store.TenantStore.
func (s *Store) AssignRole(ctx context.Context, a domain.RoleAssignment) error {
	defer s.lock()()

	if _, ok := s.st.tenants[a.TenantID]; !ok {
		return domain.NotFoundf("tenant %d", a.TenantID)
	}
	s.st.roles[roleKey{a.UserID, a.TenantID}] = a.Role
	return nil
}

// RoleOf implements store.TenantStore.
func (s *Store) RoleOf(ctx context.Context, userID string, tenantID int64) (domain.Role, error) {
	defer s.rlock()()
	return s.st.roles[roleKey{userID, tenantID}], nil
}

// InsertTransaction implements store.LedgerStore.
func (s *Store) InsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	defer s.lock()()

	if _, exists := s.st.txs[tx.Key]; exists {
		return domain.Conflictf("transaction key %q already exists", tx.Key)
	}
	tx.ID = s.st.id()
	for i := range tx.Splits {
		tx.Splits[i].ID = s.st.id()
		tx.Splits[i].TransactionID = tx.ID
	}
	s.st.txs[tx.Key] = copyTx(*tx)
	return nil
}

func (st *state) tx(tenantID int64, key string) (domain.Transaction, bool) {
	tx, ok := st.txs[key]
	if !ok || tx.TenantID != tenantID {
		return domain.Transaction{}, false
	}
	return tx, true
}

// GetTransaction implements store.LedgerStore.
func (s *Store) GetTransaction(ctx context.Context, tenantID int64, key string) (*domain.Transaction, error) {
	defer s.rlock()()

	tx, ok := s.st.tx(tenantID, key)
	if !ok {
		return nil, domain.NotFoundf("transaction %q", key)
	}
	c := copyTx(tx)
	return &c, nil
}

// FirstByExternalID implements store.LedgerStore.
func (s *Store) FirstByExternalID(ctx context.Context, tenantID int64, externalID string) (*domain.Transaction, error) {
	defer s.rlock()()

	if strings.TrimSpace(externalID) == "" {
		return nil, domain.NotFoundf("blank external id")
	}
	var best *domain.Transaction
	for _, tx := range s.st.txs {
		if tx.TenantID != tenantID || tx.ExternalID != externalID {
			continue
		}
		if best == nil || tx.ID < best.ID {
			c := copyTx(tx)
			best = &c
		}
	}
	if best == nil {
		return nil, domain.NotFoundf("transaction with external id %q", externalID)
	}
	return best, nil
}

// ListByDate implements store.LedgerStore.
func (s *Store) ListByDate(ctx context.Context, tenantID int64, day time.Time) ([]*domain.Transaction, error) {
	day = domain.Day(day)
	return s.ListTransactions(ctx, tenantID, day, day)
}

// ListTransactions implements store.LedgerStore.
func (s *Store) ListTransactions(ctx context.Context, tenantID int64, from, to time.Time) ([]*domain.Transaction, error) {
	defer s.rlock()()

	from, to = domain.Day(from), domain.Day(to)
	var result []*domain.Transaction
	for _, tx := range s.st.txs {
		if tx.TenantID != tenantID || tx.Date.Before(from) || tx.Date.After(to) {
			continue
		}
		c := copyTx(tx)
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// UpdateTransaction implements store.LedgerStore.
func (s *Store) UpdateTransaction(ctx context.Context, tx *domain.Transaction) error {
	defer s.lock()()

	existing, ok := s.st.tx(tx.TenantID, tx.Key)
	if !ok {
		return domain.NotFoundf("transaction %q", tx.Key)
	}
	existing.Date = tx.Date
	existing.Payee = tx.Payee
	existing.Amount = tx.Amount
	existing.Memo = tx.Memo
	s.st.txs[tx.Key] = existing
	return nil
}

// ReplaceSplits implements store.LedgerStore.
func (s *Store) ReplaceSplits(ctx context.Context, tenantID int64, txKey string, splits []domain.Split) error {
	defer s.lock()()

	tx, ok := s.st.tx(tenantID, txKey)
	if !ok {
		return domain.NotFoundf("transaction %q", txKey)
	}
	tx.Splits = make([]domain.Split, len(splits))
	for i, sp := range splits {
		sp.ID = s.st.id()
		sp.TransactionID = tx.ID
		tx.Splits[i] = sp
	}
	s.st.txs[txKey] = tx
	return nil
}

// InsertRule implements store.RuleStore.
func (s *Store) InsertRule(ctx context.Context, r *domain.PayeeRule) error {
	defer s.lock()()

	if _, exists := s.st.rules[r.Key]; exists {
		return domain.Conflictf("rule key %q already exists", r.Key)
	}
	r.ID = s.st.id()
	s.st.rules[r.Key] = *r
	return nil
}

func (st *state) rule(tenantID int64, key string) (domain.PayeeRule, bool) {
	r, ok := st.rules[key]
	if !ok || r.TenantID != tenantID {
		return domain.PayeeRule{}, false
	}
	return r, true
}

// GetRule implements store.RuleStore.
func (s *Store) GetRule(ctx context.Context, tenantID int64, key string) (*domain.PayeeRule, error) {
	defer s.rlock()()

	r, ok := s.st.rule(tenantID, key)
	if !ok {
		return nil, domain.NotFoundf("rule %q", key)
	}
	return &r, nil
}

// ListRules implements store.RuleStore.
func (s *Store) ListRules(ctx context.Context, tenantID int64) ([]*domain.PayeeRule, error) {
	defer s.rlock()()

	var result []*domain.PayeeRule
	for _, r := range s.st.rules {
		if r.TenantID != tenantID {
			continue
		}
		c := r
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// UpdateRule implements store.RuleStore.
func (s *Store) UpdateRule(ctx context.Context, r *domain.PayeeRule) error {
	defer s.lock()()

	existing, ok := s.st.rule(r.TenantID, r.Key)
	if !ok {
		return domain.NotFoundf("rule %q", r.Key)
	}
	existing.Pattern = r.Pattern
	existing.IsRegex = r.IsRegex
	existing.Category = r.Category
	existing.ModifiedAt = r.ModifiedAt
	s.st.rules[r.Key] = existing
	return nil
}

// DeleteRule implements store.RuleStore.
func (s *Store) DeleteRule(ctx context.Context, tenantID int64, key string) error {
	defer s.lock()()

	if _, ok := s.st.rule(tenantID, key); !ok {
		return domain.NotFoundf("rule %q", key)
	}
	delete(s.st.rules, key)
	return nil
}

// RecordRuleMatch implements store.RuleStore. The increment happens under the
// store's write lock, so concurrent callers never lose updates.
func (s *Store) RecordRuleMatch(ctx context.Context, tenantID int64, key string, usedAt time.Time) error {
	defer s.lock()()

	r, ok := s.st.rule(tenantID, key)
	if !ok {
		return domain.NotFoundf("rule %q", key)
	}
	r.MatchCount++
	used := usedAt
	r.LastUsedAt = &used
	s.st.rules[key] = r
	return nil
}

// InsertStaged implements store.StagingStore.
func (s *Store) InsertStaged(ctx context.Context, entries []*domain.StagedEntry) error {
	defer s.lock()()

	for _, e := range entries {
		if _, exists := s.st.staged[e.Key]; exists {
			return domain.Conflictf("staged entry key %q already exists", e.Key)
		}
	}
	for _, e := range entries {
		e.ID = s.st.id()
		s.st.staged[e.Key] = *e
	}
	return nil
}

func (st *state) entry(tenantID int64, key string) (domain.StagedEntry, bool) {
	e, ok := st.staged[key]
	if !ok || e.TenantID != tenantID {
		return domain.StagedEntry{}, false
	}
	return e, true
}

// GetStaged implements store.StagingStore.
func (s *Store) GetStaged(ctx context.Context, tenantID int64, key string) (*domain.StagedEntry, error) {
	defer s.rlock()()

	e, ok := s.st.entry(tenantID, key)
	if !ok {
		return nil, domain.NotFoundf("staged entry %q", key)
	}
	return &e, nil
}

// ListStaged implements store.StagingStore.
func (s *Store) ListStaged(ctx context.Context, tenantID int64) ([]*domain.StagedEntry, error) {
	defer s.rlock()()

	var result []*domain.StagedEntry
	for _, e := range s.st.staged {
		if e.TenantID != tenantID {
			continue
		}
		c := e
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}

// SetSelected implements store.StagingStore.
func (s *Store) SetSelected(ctx context.Context, tenantID int64, key string, selected bool) error {
	defer s.lock()()

	e, ok := s.st.entry(tenantID, key)
	if !ok {
		return domain.NotFoundf("staged entry %q", key)
	}
	e.IsSelected = selected
	s.st.staged[key] = e
	return nil
}

// SetSuggestion implements store.StagingStore.
func (s *Store) SetSuggestion(ctx context.Context, tenantID int64, key, category, ruleKey string, manual bool) error {
	defer s.lock()()

	e, ok := s.st.entry(tenantID, key)
	if !ok {
		return domain.NotFoundf("staged entry %q", key)
	}
	e.SuggestedCategory = category
	e.MatchedRuleKey = ruleKey
	e.ManualCategory = manual
	s.st.staged[key] = e
	return nil
}

// FinishStaged implements store.StagingStore.
func (s *Store) FinishStaged(ctx context.Context, o domain.Outcome) error {
	defer s.lock()()

	if !o.State.Terminal() {
		return fmt.Errorf("FinishStaged: state %q is not terminal", o.State)
	}
	if _, ok := s.st.entry(o.TenantID, o.EntryKey); !ok {
		return domain.NotFoundf("staged entry %q", o.EntryKey)
	}
	delete(s.st.staged, o.EntryKey)
	s.st.outcomes[o.EntryKey] = o
	return nil
}

// GetOutcome implements store.StagingStore.
func (s *Store) GetOutcome(ctx context.Context, tenantID int64, key string) (*domain.Outcome, error) {
	defer s.rlock()()

	o, ok := s.st.outcomes[key]
	if !ok || o.TenantID != tenantID {
		return nil, domain.NotFoundf("outcome for entry %q", key)
	}
	return &o, nil
}

// Ensure Store implements store.Store interface.
var _ store.Store = (*Store)(nil)
