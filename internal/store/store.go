package store

import (
	"context"
	"time"

	"github.com/dvloznov/finance-ledger/internal/domain"
)

// TenantStore reads tenants and role assignments. Writes exist for workspace
// setup, which is owned by the tenant-management collaborator.
type TenantStore interface {
	// CreateTenant inserts a tenant and fills in its ID.
	CreateTenant(ctx context.Context, t *domain.Tenant) error

	// GetTenant returns ErrNotFound for an unknown id.
	GetTenant(ctx context.Context, tenantID int64) (*domain.Tenant, error)

	// AssignRole upserts a role for (userID, tenantID).
	AssignRole(ctx context.Context, a domain.RoleAssignment) error

	// RoleOf returns RoleNone when the user has no role in the tenant.
	RoleOf(ctx context.Context, userID string, tenantID int64) (domain.Role, error)
}

// LedgerStore persists transactions and their splits.
type LedgerStore interface {
	// InsertTransaction inserts tx and tx.Splits, filling in IDs.
	InsertTransaction(ctx context.Context, tx *domain.Transaction) error

	// GetTransaction returns the transaction with its splits ordered by Order.
	GetTransaction(ctx context.Context, tenantID int64, key string) (*domain.Transaction, error)

	// FirstByExternalID returns the lowest-id transaction with the given
	// non-empty external id, or ErrNotFound.
	FirstByExternalID(ctx context.Context, tenantID int64, externalID string) (*domain.Transaction, error)

	// ListByDate returns transactions on the given day ordered by id.
	ListByDate(ctx context.Context, tenantID int64, day time.Time) ([]*domain.Transaction, error)

	// ListTransactions returns transactions with from <= date <= to, ordered by date then id.
	ListTransactions(ctx context.Context, tenantID int64, from, to time.Time) ([]*domain.Transaction, error)

	// UpdateTransaction overwrites the mutable fields (date, payee, amount, memo).
	UpdateTransaction(ctx context.Context, tx *domain.Transaction) error

	// ReplaceSplits deletes all splits of the transaction and inserts splits.
	ReplaceSplits(ctx context.Context, tenantID int64, txKey string, splits []domain.Split) error
}

// RuleStore persists payee matching rules.
type RuleStore interface {
	InsertRule(ctx context.Context, r *domain.PayeeRule) error
	GetRule(ctx context.Context, tenantID int64, key string) (*domain.PayeeRule, error)
	ListRules(ctx context.Context, tenantID int64) ([]*domain.PayeeRule, error)

	// UpdateRule overwrites pattern, regex flag, category and ModifiedAt.
	UpdateRule(ctx context.Context, r *domain.PayeeRule) error
	DeleteRule(ctx context.Context, tenantID int64, key string) error

	// RecordRuleMatch atomically increments MatchCount and sets LastUsedAt.
	// It is a single storage-level update, never a read-modify-write.
	RecordRuleMatch(ctx context.Context, tenantID int64, key string, usedAt time.Time) error
}

// StagingStore persists staged entries and the outcome markers of entries
// that reached a terminal state.
type StagingStore interface {
	InsertStaged(ctx context.Context, entries []*domain.StagedEntry) error

	// GetStaged returns ErrNotFound unless the entry is currently staged in the tenant.
	GetStaged(ctx context.Context, tenantID int64, key string) (*domain.StagedEntry, error)

	// ListStaged returns staged entries ordered by key.
	ListStaged(ctx context.Context, tenantID int64) ([]*domain.StagedEntry, error)

	SetSelected(ctx context.Context, tenantID int64, key string, selected bool) error

	// SetSuggestion records a category for a staged entry. manual marks it as
	// a reviewer's choice rather than a rule suggestion.
	SetSuggestion(ctx context.Context, tenantID int64, key, category, ruleKey string, manual bool) error

	// FinishStaged deletes the staged row and records the outcome. It fails
	// with ErrNotFound when no staged row was deleted.
	FinishStaged(ctx context.Context, o domain.Outcome) error

	// GetOutcome returns ErrNotFound for keys that never left the Staged state.
	GetOutcome(ctx context.Context, tenantID int64, key string) (*domain.Outcome, error)
}

// Store is the full persistence surface used by the pipeline.
type Store interface {
	TenantStore
	LedgerStore
	RuleStore
	StagingStore

	// RunInTx runs fn against a transactional view of the store. Everything
	// fn writes is committed when it returns nil and discarded otherwise.
	RunInTx(ctx context.Context, fn func(tx Store) error) error

	Close() error
}
