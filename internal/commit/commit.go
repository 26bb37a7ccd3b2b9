// Package commit turns selected staged entries into ledger transactions and
// applies edits to committed transactions.
package commit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/finance-ledger/internal/categorize"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/dvloznov/finance-ledger/internal/staging"
	"github.com/dvloznov/finance-ledger/internal/store"
)

// Engine commits staged entries and edits ledger transactions.
type Engine struct {
	store  store.Store
	rules  *categorize.Engine
	now    func() time.Time
	newKey func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(s store.Store, rules *categorize.Engine, opts ...Option) *Engine {
	e := &Engine{
		store:  s,
		rules:  rules,
		now:    func() time.Time { return time.Now().UTC() },
		newKey: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CommitSelected commits each entry in ascending key order, each in its own
// storage transaction. A failed entry leaves its siblings untouched. Once ctx
// is done the remaining entries fail without being attempted.
//
// Entries whose category a reviewer set by hand, without remembering it as a
// rule, keep that category (or stay uncategorized when it was cleared) and
// never touch rule statistics. All other entries are categorized again in
// Commit mode, which records the winning rule's match.
func (e *Engine) CommitSelected(ctx context.Context, tenantID int64, keys []string) []domain.EntryResult {
	log := logger.FromContext(ctx)

	ordered := append([]string(nil), keys...)
	sort.Strings(ordered)

	results := make([]domain.EntryResult, 0, len(ordered))
	for i, key := range ordered {
		if err := ctx.Err(); err != nil {
			results = append(results, domain.FailAll(ordered[i:], domain.Infrastructure("CommitSelected", err))...)
			break
		}

		txKey, err := e.commitOne(ctx, tenantID, key)
		if err != nil {
			log.Warn().
				Err(err).
				Int64("tenant_id", tenantID).
				Str("entry_key", key).
				Str("error_kind", string(domain.KindOf(err))).
				Msg("Commit failed")
			results = append(results, domain.Failed(key, err))
			continue
		}
		results = append(results, domain.Committed(key, txKey))
	}

	committed := 0
	for _, r := range results {
		if r.Status == domain.ResultCommitted {
			committed++
		}
	}
	log.Info().
		Int64("tenant_id", tenantID).
		Int("requested", len(ordered)).
		Int("committed", committed).
		Int("failed", len(results)-committed).
		Msg("Committed staged entries")
	return results
}

func (e *Engine) commitOne(ctx context.Context, tenantID int64, key string) (string, error) {
	var txKey string
	err := e.store.RunInTx(ctx, func(tx store.Store) error {
		entry, err := staging.RequireStaged(ctx, tx, tenantID, key)
		if err != nil {
			return err
		}
		if !entry.IsSelected {
			return domain.Conflictf("entry %s is not selected", key)
		}

		if ref := entry.Duplicate.TransactionKey; ref != "" {
			if _, err := tx.GetTransaction(ctx, tenantID, ref); err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return domain.NotFoundf("transaction %s referenced as duplicate of entry %s", ref, key)
				}
				return err
			}
		}

		category, err := e.resolveCategory(ctx, tx, entry)
		if err != nil {
			return err
		}

		t := &domain.Transaction{
			TenantID:   tenantID,
			Key:        e.newKey(),
			Date:       entry.Date,
			Payee:      entry.Payee,
			Amount:     entry.Amount,
			Memo:       entry.Memo,
			Source:     entry.Source,
			ExternalID: entry.ExternalID,
			CreatedAt:  e.now(),
		}
		if category != "" {
			t.Splits = []domain.Split{{
				Key:      e.newKey(),
				Amount:   entry.Amount,
				Category: category,
				Order:    0,
			}}
		}
		if err := domain.CheckSplits(t.Amount, t.Splits); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, t); err != nil {
			return err
		}

		err = tx.FinishStaged(ctx, domain.Outcome{
			TenantID:       tenantID,
			EntryKey:       key,
			State:          domain.EntryCommitted,
			TransactionKey: t.Key,
			DecidedAt:      e.now(),
		})
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Conflictf("entry %s was finished concurrently", key)
		}
		if err != nil {
			return err
		}

		txKey = t.Key
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("commit %s: %w", key, err)
	}
	return txKey, nil
}

// resolveCategory keeps a reviewer's manual choice that carries no rule
// key, even an empty one, and otherwise asks the rule engine in Commit mode.
func (e *Engine) resolveCategory(ctx context.Context, tx store.Store, entry *domain.StagedEntry) (string, error) {
	if entry.ManualCategory && entry.MatchedRuleKey == "" {
		return entry.SuggestedCategory, nil
	}
	s, err := e.rules.Within(tx).Suggest(ctx, entry.TenantID, entry.Payee, categorize.Commit)
	if err != nil {
		return "", err
	}
	return s.Category, nil
}
