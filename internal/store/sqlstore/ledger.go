package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/store"
)

const txColumns = `id, tenant_id, tx_key, tx_date, payee, amount, memo, source, external_id, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (*domain.Transaction, error) {
	var (
		tx                       domain.Transaction
		date, amount             string
		memo, source, externalID sql.NullString
	)
	if err := row.Scan(&tx.ID, &tx.TenantID, &tx.Key, &date, &tx.Payee, &amount,
		&memo, &source, &externalID, &tx.CreatedAt); err != nil {
		return nil, err
	}

	var err error
	if tx.Date, err = time.Parse(domain.DateLayout, date); err != nil {
		return nil, fmt.Errorf("parsing date %q: %w", date, err)
	}
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parsing amount %q: %w", amount, err)
	}
	tx.Memo = memo.String
	tx.Source = source.String
	tx.ExternalID = externalID.String
	return &tx, nil
}

// InsertTransaction implements store.LedgerStore.
func (s *Store) InsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	return s.RunInTx(ctx, func(ts store.Store) error {
		v := ts.(*Store)

		err := v.queryRow(ctx,
			`INSERT INTO transactions (tenant_id, tx_key, tx_date, payee, amount, memo, source, external_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
			tx.TenantID, tx.Key, tx.Date.Format(domain.DateLayout), tx.Payee, tx.Amount.String(),
			nullString(tx.Memo), nullString(tx.Source), nullString(tx.ExternalID), tx.CreatedAt,
		).Scan(&tx.ID)
		if isUniqueViolation(err) {
			return domain.Conflictf("transaction key %q already exists", tx.Key)
		}
		if err != nil {
			return domain.Infrastructure("InsertTransaction: inserting transaction", err)
		}

		for i := range tx.Splits {
			tx.Splits[i].TransactionID = tx.ID
			if err := v.insertSplit(ctx, &tx.Splits[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) insertSplit(ctx context.Context, sp *domain.Split) error {
	err := s.queryRow(ctx,
		`INSERT INTO splits (transaction_id, split_key, amount, category, memo, sort_order)
		 VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
		sp.TransactionID, sp.Key, sp.Amount.String(), sp.Category, nullString(sp.Memo), sp.Order,
	).Scan(&sp.ID)
	if isUniqueViolation(err) {
		return domain.Conflictf("split %q conflicts with an existing split", sp.Key)
	}
	if err != nil {
		return domain.Infrastructure("insertSplit: inserting split", err)
	}
	return nil
}

func (s *Store) loadSplits(ctx context.Context, tx *domain.Transaction) error {
	rows, err := s.query(ctx,
		`SELECT id, transaction_id, split_key, amount, category, memo, sort_order
		 FROM splits WHERE transaction_id = ? ORDER BY sort_order ASC`, tx.ID)
	if err != nil {
		return domain.Infrastructure("loadSplits: querying splits", err)
	}
	defer rows.Close()

	tx.Splits = nil
	for rows.Next() {
		var (
			sp     domain.Split
			amount string
			memo   sql.NullString
		)
		if err := rows.Scan(&sp.ID, &sp.TransactionID, &sp.Key, &amount, &sp.Category, &memo, &sp.Order); err != nil {
			return domain.Infrastructure("loadSplits: scanning split", err)
		}
		if sp.Amount, err = decimal.NewFromString(amount); err != nil {
			return domain.Infrastructure("loadSplits: parsing amount", err)
		}
		sp.Memo = memo.String
		tx.Splits = append(tx.Splits, sp)
	}
	if err := rows.Err(); err != nil {
		return domain.Infrastructure("loadSplits: iterating splits", err)
	}
	return nil
}

// GetTransaction implements store.LedgerStore.
func (s *Store) GetTransaction(ctx context.Context, tenantID int64, key string) (*domain.Transaction, error) {
	tx, err := scanTransaction(s.queryRow(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE tenant_id = ? AND tx_key = ?`, tenantID, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("transaction %q", key)
	}
	if err != nil {
		return nil, domain.Infrastructure("GetTransaction: querying transaction", err)
	}
	if err := s.loadSplits(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// FirstByExternalID implements store.LedgerStore.
func (s *Store) FirstByExternalID(ctx context.Context, tenantID int64, externalID string) (*domain.Transaction, error) {
	if strings.TrimSpace(externalID) == "" {
		return nil, domain.NotFoundf("blank external id")
	}
	tx, err := scanTransaction(s.queryRow(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE tenant_id = ? AND external_id = ? ORDER BY id ASC LIMIT 1`,
		tenantID, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("transaction with external id %q", externalID)
	}
	if err != nil {
		return nil, domain.Infrastructure("FirstByExternalID: querying transaction", err)
	}
	if err := s.loadSplits(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// ListByDate implements store.LedgerStore.
func (s *Store) ListByDate(ctx context.Context, tenantID int64, day time.Time) ([]*domain.Transaction, error) {
	day = domain.Day(day)
	return s.ListTransactions(ctx, tenantID, day, day)
}

// ListTransactions implements store.LedgerStore. Dates are stored as
// YYYY-MM-DD text, so lexical comparison is chronological.
func (s *Store) ListTransactions(ctx context.Context, tenantID int64, from, to time.Time) ([]*domain.Transaction, error) {
	rows, err := s.query(ctx,
		`SELECT `+txColumns+` FROM transactions
		 WHERE tenant_id = ? AND tx_date >= ? AND tx_date <= ?
		 ORDER BY tx_date ASC, id ASC`,
		tenantID, from.Format(domain.DateLayout), to.Format(domain.DateLayout))
	if err != nil {
		return nil, domain.Infrastructure("ListTransactions: querying transactions", err)
	}

	var result []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			rows.Close()
			return nil, domain.Infrastructure("ListTransactions: scanning transaction", err)
		}
		result = append(result, tx)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, domain.Infrastructure("ListTransactions: iterating transactions", err)
	}
	// Release the connection before issuing the split queries.
	rows.Close()

	for _, tx := range result {
		if err := s.loadSplits(ctx, tx); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// UpdateTransaction implements store.LedgerStore.
func (s *Store) UpdateTransaction(ctx context.Context, tx *domain.Transaction) error {
	res, err := s.exec(ctx,
		`UPDATE transactions SET tx_date = ?, payee = ?, amount = ?, memo = ? WHERE tenant_id = ? AND tx_key = ?`,
		tx.Date.Format(domain.DateLayout), tx.Payee, tx.Amount.String(), nullString(tx.Memo), tx.TenantID, tx.Key)
	if err != nil {
		return domain.Infrastructure("UpdateTransaction: updating transaction", err)
	}
	return requireRow(res, "UpdateTransaction", fmt.Sprintf("transaction %q", tx.Key))
}

// ReplaceSplits implements store.LedgerStore.
func (s *Store) ReplaceSplits(ctx context.Context, tenantID int64, txKey string, splits []domain.Split) error {
	return s.RunInTx(ctx, func(ts store.Store) error {
		v := ts.(*Store)

		var txID int64
		err := v.queryRow(ctx,
			`SELECT id FROM transactions WHERE tenant_id = ? AND tx_key = ?`, tenantID, txKey,
		).Scan(&txID)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotFoundf("transaction %q", txKey)
		}
		if err != nil {
			return domain.Infrastructure("ReplaceSplits: querying transaction", err)
		}

		if _, err := v.exec(ctx, `DELETE FROM splits WHERE transaction_id = ?`, txID); err != nil {
			return domain.Infrastructure("ReplaceSplits: deleting splits", err)
		}
		for i := range splits {
			splits[i].TransactionID = txID
			if err := v.insertSplit(ctx, &splits[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// requireRow turns a zero-row update into ErrNotFound.
func requireRow(res sql.Result, op, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Infrastructure(op+": rows affected", err)
	}
	if n == 0 {
		return domain.NotFoundf("%s", what)
	}
	return nil
}
