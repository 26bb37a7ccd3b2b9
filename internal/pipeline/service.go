// Package pipeline is the guarded entry point to statement import: every
// operation checks the caller's tenant role before touching staging, rules
// or the ledger.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/finance-ledger/internal/authz"
	"github.com/dvloznov/finance-ledger/internal/categorize"
	"github.com/dvloznov/finance-ledger/internal/commit"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/duplicates"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/dvloznov/finance-ledger/internal/staging"
	"github.com/dvloznov/finance-ledger/internal/store"
)

// Service composes the staging area, categorization engine and commit
// engine behind the tenant authorization guard.
type Service struct {
	store   store.Store
	rules   *categorize.Engine
	staging *staging.Area
	commits *commit.Engine
}

type options struct {
	now func() time.Time
}

// Option configures a Service.
type Option func(*options)

// WithClock overrides time.Now in every component, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func New(s store.Store, opts ...Option) *Service {
	o := options{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(&o)
	}

	rules := categorize.NewEngine(s, categorize.WithClock(o.now))
	return &Service{
		store:   s,
		rules:   rules,
		staging: staging.NewArea(s, duplicates.NewDetector(s), rules, staging.WithClock(o.now)),
		commits: commit.NewEngine(s, rules, commit.WithClock(o.now)),
	}
}

// ResolveCaller looks up the user's role in the tenant. A user without a
// role gets a Caller that every action rejects with ErrNotFound.
func (s *Service) ResolveCaller(ctx context.Context, userID string, tenantID int64) (authz.Caller, error) {
	role, err := s.store.RoleOf(ctx, userID, tenantID)
	if err != nil {
		return authz.Caller{}, fmt.Errorf("ResolveCaller: %w", err)
	}
	return authz.Caller{UserID: userID, TenantID: tenantID, Role: role}, nil
}

func (s *Service) authorize(ctx context.Context, c authz.Caller, action authz.Action) error {
	if err := c.Authorize(action); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().
			Str("user_id", c.UserID).
			Int64("tenant_id", c.TenantID).
			Str("role", string(c.Role)).
			Str("action", string(action)).
			Str("error_kind", string(domain.KindOf(err))).
			Msg("Access denied")
		return err
	}
	return nil
}

// AssignRole grants userID a role in the caller's tenant. Only owners may
// manage roles.
func (s *Service) AssignRole(ctx context.Context, c authz.Caller, userID string, role domain.Role) error {
	log := logger.FromContext(ctx)

	if err := s.authorize(ctx, c, authz.ActionManageRoles); err != nil {
		return fmt.Errorf("AssignRole: %w", err)
	}
	if _, ok := authz.RoleHierarchy[role]; !ok {
		return domain.Validationf("AssignRole: unknown role %q", role)
	}
	if err := s.store.AssignRole(ctx, domain.RoleAssignment{UserID: userID, TenantID: c.TenantID, Role: role}); err != nil {
		return fmt.Errorf("AssignRole: %w", err)
	}

	log.Info().
		Int64("tenant_id", c.TenantID).
		Str("user_id", userID).
		Str("role", string(role)).
		Str("granted_by", c.UserID).
		Msg("Assigned role")
	return nil
}

// StageBatch stages parsed entries for review.
func (s *Service) StageBatch(ctx context.Context, c authz.Caller, entries []domain.ParsedEntry) ([]*domain.StagedEntry, error) {
	if err := s.authorize(ctx, c, authz.ActionStage); err != nil {
		return nil, fmt.Errorf("StageBatch: %w", err)
	}
	return s.staging.StageBatch(ctx, c.TenantID, entries)
}

// ToggleSelection marks a staged entry for inclusion in the next commit.
func (s *Service) ToggleSelection(ctx context.Context, c authz.Caller, key string, selected bool) error {
	if err := s.authorize(ctx, c, authz.ActionToggle); err != nil {
		return fmt.Errorf("ToggleSelection: %w", err)
	}
	return s.staging.ToggleSelection(ctx, c.TenantID, key, selected)
}

// DiscardBatch drops staged entries. When the guard denies the call every
// entry fails with the denial, which is also returned as the error.
func (s *Service) DiscardBatch(ctx context.Context, c authz.Caller, keys []string) ([]domain.EntryResult, error) {
	if err := s.authorize(ctx, c, authz.ActionDiscard); err != nil {
		return domain.FailAll(keys, err), fmt.Errorf("DiscardBatch: %w", err)
	}
	return s.staging.DiscardBatch(ctx, c.TenantID, keys), nil
}

// CommitSelected commits staged entries to the ledger. When the guard
// denies the call every entry fails with the denial, which is also
// returned as the error.
func (s *Service) CommitSelected(ctx context.Context, c authz.Caller, keys []string) ([]domain.EntryResult, error) {
	if err := s.authorize(ctx, c, authz.ActionCommit); err != nil {
		return domain.FailAll(keys, err), fmt.Errorf("CommitSelected: %w", err)
	}
	return s.commits.CommitSelected(ctx, c.TenantID, keys), nil
}

// Recategorize overrides the suggested category of a staged entry.
func (s *Service) Recategorize(ctx context.Context, c authz.Caller, key string, in staging.RecategorizeInput) (*domain.StagedEntry, error) {
	if err := s.authorize(ctx, c, authz.ActionRecategorize); err != nil {
		return nil, fmt.Errorf("Recategorize: %w", err)
	}
	return s.staging.Recategorize(ctx, c.TenantID, key, in)
}

func (s *Service) CreateRule(ctx context.Context, c authz.Caller, in categorize.RuleInput) (*domain.PayeeRule, error) {
	if err := s.authorize(ctx, c, authz.ActionManageRules); err != nil {
		return nil, fmt.Errorf("CreateRule: %w", err)
	}
	return s.rules.CreateRule(ctx, c.TenantID, in)
}

func (s *Service) UpdateRule(ctx context.Context, c authz.Caller, key string, in categorize.RuleInput) (*domain.PayeeRule, error) {
	if err := s.authorize(ctx, c, authz.ActionManageRules); err != nil {
		return nil, fmt.Errorf("UpdateRule: %w", err)
	}
	return s.rules.UpdateRule(ctx, c.TenantID, key, in)
}

func (s *Service) DeleteRule(ctx context.Context, c authz.Caller, key string) error {
	if err := s.authorize(ctx, c, authz.ActionManageRules); err != nil {
		return fmt.Errorf("DeleteRule: %w", err)
	}
	return s.rules.DeleteRule(ctx, c.TenantID, key)
}

// ReplaceSplits swaps the splits of a committed transaction.
func (s *Service) ReplaceSplits(ctx context.Context, c authz.Caller, txKey string, splits []commit.SplitInput) (*domain.Transaction, error) {
	if err := s.authorize(ctx, c, authz.ActionEditLedger); err != nil {
		return nil, fmt.Errorf("ReplaceSplits: %w", err)
	}
	return s.commits.ReplaceSplits(ctx, c.TenantID, txKey, splits)
}

// UpdateTransaction edits a committed transaction.
func (s *Service) UpdateTransaction(ctx context.Context, c authz.Caller, txKey string, edit commit.TransactionEdit) (*domain.Transaction, error) {
	if err := s.authorize(ctx, c, authz.ActionEditLedger); err != nil {
		return nil, fmt.Errorf("UpdateTransaction: %w", err)
	}
	return s.commits.UpdateTransaction(ctx, c.TenantID, txKey, edit)
}

func (s *Service) ListStaged(ctx context.Context, c authz.Caller) ([]*domain.StagedEntry, error) {
	if err := s.authorize(ctx, c, authz.ActionRead); err != nil {
		return nil, fmt.Errorf("ListStaged: %w", err)
	}
	return s.staging.List(ctx, c.TenantID)
}

func (s *Service) GetStaged(ctx context.Context, c authz.Caller, key string) (*domain.StagedEntry, error) {
	if err := s.authorize(ctx, c, authz.ActionRead); err != nil {
		return nil, fmt.Errorf("GetStaged: %w", err)
	}
	return s.staging.Get(ctx, c.TenantID, key)
}

// PreviewCategory reports the category the rules would suggest for payee
// without recording a match.
func (s *Service) PreviewCategory(ctx context.Context, c authz.Caller, payee string) (categorize.Suggestion, error) {
	if err := s.authorize(ctx, c, authz.ActionRead); err != nil {
		return categorize.Suggestion{}, fmt.Errorf("PreviewCategory: %w", err)
	}
	return s.rules.Suggest(ctx, c.TenantID, payee, categorize.Preview)
}

// ListRules returns the tenant's rules in evaluation order.
func (s *Service) ListRules(ctx context.Context, c authz.Caller) ([]*domain.PayeeRule, error) {
	if err := s.authorize(ctx, c, authz.ActionRead); err != nil {
		return nil, fmt.Errorf("ListRules: %w", err)
	}
	return s.rules.ListRules(ctx, c.TenantID)
}

// ListTransactions returns ledger transactions dated within [from, to].
func (s *Service) ListTransactions(ctx context.Context, c authz.Caller, from, to time.Time) ([]*domain.Transaction, error) {
	if err := s.authorize(ctx, c, authz.ActionRead); err != nil {
		return nil, fmt.Errorf("ListTransactions: %w", err)
	}
	if to.Before(from) {
		return nil, domain.Validationf("ListTransactions: range end %s is before start %s",
			to.Format(domain.DateLayout), from.Format(domain.DateLayout))
	}
	return s.store.ListTransactions(ctx, c.TenantID, domain.Day(from), domain.Day(to))
}

func (s *Service) GetTransaction(ctx context.Context, c authz.Caller, txKey string) (*domain.Transaction, error) {
	if err := s.authorize(ctx, c, authz.ActionRead); err != nil {
		return nil, fmt.Errorf("GetTransaction: %w", err)
	}
	return s.store.GetTransaction(ctx, c.TenantID, txKey)
}

// ExportLedger sends the transactions dated within [from, to] to exporter
// and returns how many were sent.
func (s *Service) ExportLedger(ctx context.Context, c authz.Caller, from, to time.Time, exporter LedgerExporter) (int, error) {
	log := logger.FromContext(ctx)

	if err := s.authorize(ctx, c, authz.ActionExportLedger); err != nil {
		return 0, fmt.Errorf("ExportLedger: %w", err)
	}
	txs, err := s.store.ListTransactions(ctx, c.TenantID, domain.Day(from), domain.Day(to))
	if err != nil {
		return 0, fmt.Errorf("ExportLedger: %w", err)
	}
	if len(txs) == 0 {
		return 0, nil
	}
	if err := exporter.ExportTransactions(ctx, txs); err != nil {
		return 0, fmt.Errorf("ExportLedger: %w", domain.Infrastructure("exporting transactions", err))
	}

	log.Info().
		Int64("tenant_id", c.TenantID).
		Int("transactions", len(txs)).
		Msg("Exported ledger")
	return len(txs), nil
}
