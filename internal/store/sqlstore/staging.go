package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/store"
)

const stagedColumns = `id, tenant_id, entry_key, tx_date, payee, amount, external_id, memo, source,
	suggested_category, matched_rule_key, manual_category, is_selected, duplicate_kind, duplicate_of_transaction_key, created_at`

func scanStaged(row scanner) (*domain.StagedEntry, error) {
	var (
		e                                 domain.StagedEntry
		date, amount, dupKind             string
		externalID, memo, source          sql.NullString
		category, ruleKey, dupTransaction sql.NullString
	)
	if err := row.Scan(&e.ID, &e.TenantID, &e.Key, &date, &e.Payee, &amount, &externalID, &memo, &source,
		&category, &ruleKey, &e.ManualCategory, &e.IsSelected, &dupKind, &dupTransaction, &e.CreatedAt); err != nil {
		return nil, err
	}

	var err error
	if e.Date, err = time.Parse(domain.DateLayout, date); err != nil {
		return nil, fmt.Errorf("parsing date %q: %w", date, err)
	}
	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parsing amount %q: %w", amount, err)
	}
	e.ExternalID = externalID.String
	e.Memo = memo.String
	e.Source = source.String
	e.SuggestedCategory = category.String
	e.MatchedRuleKey = ruleKey.String
	e.Duplicate = domain.Verdict{Kind: domain.DuplicateKind(dupKind), TransactionKey: dupTransaction.String}
	return &e, nil
}

// InsertStaged implements store.StagingStore. The batch is inserted
// atomically.
func (s *Store) InsertStaged(ctx context.Context, entries []*domain.StagedEntry) error {
	return s.RunInTx(ctx, func(ts store.Store) error {
		v := ts.(*Store)
		for _, e := range entries {
			kind := e.Duplicate.Kind
			if kind == "" {
				kind = domain.DuplicateNone
			}
			err := v.queryRow(ctx,
				`INSERT INTO import_review_transactions
				   (tenant_id, entry_key, tx_date, payee, amount, external_id, memo, source,
				    suggested_category, matched_rule_key, manual_category, is_selected, duplicate_kind, duplicate_of_transaction_key, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
				e.TenantID, e.Key, e.Date.Format(domain.DateLayout), e.Payee, e.Amount.String(),
				nullString(e.ExternalID), nullString(e.Memo), nullString(e.Source),
				nullString(e.SuggestedCategory), nullString(e.MatchedRuleKey), e.ManualCategory, e.IsSelected,
				string(kind), nullString(e.Duplicate.TransactionKey), e.CreatedAt,
			).Scan(&e.ID)
			if isUniqueViolation(err) {
				return domain.Conflictf("staged entry key %q already exists", e.Key)
			}
			if err != nil {
				return domain.Infrastructure("InsertStaged: inserting entry", err)
			}
		}
		return nil
	})
}

// GetStaged implements store.StagingStore.
func (s *Store) GetStaged(ctx context.Context, tenantID int64, key string) (*domain.StagedEntry, error) {
	e, err := scanStaged(s.queryRow(ctx,
		`SELECT `+stagedColumns+` FROM import_review_transactions WHERE tenant_id = ? AND entry_key = ?`,
		tenantID, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("staged entry %q", key)
	}
	if err != nil {
		return nil, domain.Infrastructure("GetStaged: querying entry", err)
	}
	return e, nil
}

// ListStaged implements store.StagingStore.
func (s *Store) ListStaged(ctx context.Context, tenantID int64) ([]*domain.StagedEntry, error) {
	rows, err := s.query(ctx,
		`SELECT `+stagedColumns+` FROM import_review_transactions WHERE tenant_id = ? ORDER BY entry_key ASC`,
		tenantID)
	if err != nil {
		return nil, domain.Infrastructure("ListStaged: querying entries", err)
	}
	defer rows.Close()

	var result []*domain.StagedEntry
	for rows.Next() {
		e, err := scanStaged(rows)
		if err != nil {
			return nil, domain.Infrastructure("ListStaged: scanning entry", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Infrastructure("ListStaged: iterating entries", err)
	}
	return result, nil
}

// SetSelected implements store.StagingStore.
func (s *Store) SetSelected(ctx context.Context, tenantID int64, key string, selected bool) error {
	res, err := s.exec(ctx,
		`UPDATE import_review_transactions SET is_selected = ? WHERE tenant_id = ? AND entry_key = ?`,
		selected, tenantID, key)
	if err != nil {
		return domain.Infrastructure("SetSelected: updating entry", err)
	}
	return requireRow(res, "SetSelected", fmt.Sprintf("staged entry %q", key))
}

// SetSuggestion implements store.StagingStore.
func (s *Store) SetSuggestion(ctx context.Context, tenantID int64, key, category, ruleKey string, manual bool) error {
	res, err := s.exec(ctx,
		`UPDATE import_review_transactions SET suggested_category = ?, matched_rule_key = ?, manual_category = ?
		 WHERE tenant_id = ? AND entry_key = ?`,
		nullString(category), nullString(ruleKey), manual, tenantID, key)
	if err != nil {
		return domain.Infrastructure("SetSuggestion: updating entry", err)
	}
	return requireRow(res, "SetSuggestion", fmt.Sprintf("staged entry %q", key))
}

// FinishStaged implements store.StagingStore. The DELETE is conditional on
// the row still existing, so of two concurrent finishers exactly one wins.
func (s *Store) FinishStaged(ctx context.Context, o domain.Outcome) error {
	if !o.State.Terminal() {
		return fmt.Errorf("FinishStaged: state %q is not terminal", o.State)
	}
	return s.RunInTx(ctx, func(ts store.Store) error {
		v := ts.(*Store)

		res, err := v.exec(ctx,
			`DELETE FROM import_review_transactions WHERE tenant_id = ? AND entry_key = ?`, o.TenantID, o.EntryKey)
		if err != nil {
			return domain.Infrastructure("FinishStaged: deleting entry", err)
		}
		if err := requireRow(res, "FinishStaged", fmt.Sprintf("staged entry %q", o.EntryKey)); err != nil {
			return err
		}

		_, err = v.exec(ctx,
			`INSERT INTO import_review_outcomes (entry_key, tenant_id, outcome, transaction_key, decided_at)
			 VALUES (?, ?, ?, ?, ?)`,
			o.EntryKey, o.TenantID, string(o.State), nullString(o.TransactionKey), o.DecidedAt)
		if err != nil {
			return domain.Infrastructure("FinishStaged: recording outcome", err)
		}
		return nil
	})
}

// GetOutcome implements store.StagingStore.
func (s *Store) GetOutcome(ctx context.Context, tenantID int64, key string) (*domain.Outcome, error) {
	var (
		o     domain.Outcome
		state string
		txKey sql.NullString
	)
	err := s.queryRow(ctx,
		`SELECT tenant_id, entry_key, outcome, transaction_key, decided_at
		 FROM import_review_outcomes WHERE tenant_id = ? AND entry_key = ?`, tenantID, key,
	).Scan(&o.TenantID, &o.EntryKey, &state, &txKey, &o.DecidedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("outcome for entry %q", key)
	}
	if err != nil {
		return nil, domain.Infrastructure("GetOutcome: querying outcome", err)
	}
	o.State = domain.EntryState(state)
	o.TransactionKey = txKey.String
	return &o, nil
}
