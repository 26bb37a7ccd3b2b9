package commit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/dvloznov/finance-ledger/internal/store"
)

// SplitInput describes one allocation of a transaction amount.
type SplitInput struct {
	Amount   decimal.Decimal
	Category string `validate:"notblank,max=128"`
	Memo     string `validate:"max=512"`
	Order    int    `validate:"gte=0"`
}

// TransactionEdit changes a committed transaction. Nil fields are left as
// they are. When Splits is non-nil the splits are replaced in the same
// write.
type TransactionEdit struct {
	Date   *time.Time
	Payee  *string `validate:"omitempty,notblank,max=256"`
	Amount *decimal.Decimal
	Memo   *string      `validate:"omitempty,max=512"`
	Splits []SplitInput `validate:"omitempty,dive"`
}

// buildSplits validates inputs and numbers them by position when every
// Order is left at zero.
func (e *Engine) buildSplits(inputs []SplitInput) ([]domain.Split, error) {
	autoOrder := true
	for _, in := range inputs {
		if in.Order != 0 {
			autoOrder = false
			break
		}
	}

	splits := make([]domain.Split, 0, len(inputs))
	for i, in := range inputs {
		if err := domain.ValidateStruct(in); err != nil {
			return nil, fmt.Errorf("split %d: %w", i, err)
		}
		order := in.Order
		if autoOrder {
			order = i
		}
		splits = append(splits, domain.Split{
			Key:      e.newKey(),
			Amount:   in.Amount,
			Category: strings.TrimSpace(in.Category),
			Memo:     in.Memo,
			Order:    order,
		})
	}
	return splits, nil
}

// ReplaceSplits swaps all splits of a transaction. The new splits must sum
// exactly to the transaction amount; otherwise nothing is written. An empty
// list leaves the transaction uncategorized.
func (e *Engine) ReplaceSplits(ctx context.Context, tenantID int64, txKey string, inputs []SplitInput) (*domain.Transaction, error) {
	log := logger.FromContext(ctx)

	splits, err := e.buildSplits(inputs)
	if err != nil {
		return nil, fmt.Errorf("ReplaceSplits: %w", err)
	}

	var updated *domain.Transaction
	err = e.store.RunInTx(ctx, func(tx store.Store) error {
		t, err := tx.GetTransaction(ctx, tenantID, txKey)
		if err != nil {
			return err
		}
		if err := domain.CheckSplits(t.Amount, splits); err != nil {
			return err
		}
		if err := tx.ReplaceSplits(ctx, tenantID, txKey, splits); err != nil {
			return err
		}
		updated, err = tx.GetTransaction(ctx, tenantID, txKey)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ReplaceSplits: %w", err)
	}

	log.Info().
		Int64("tenant_id", tenantID).
		Str("transaction_key", txKey).
		Int("splits", len(splits)).
		Msg("Replaced transaction splits")
	return updated, nil
}

// UpdateTransaction applies edit to a committed transaction. The resulting
// splits are checked against the resulting amount before anything is
// written.
func (e *Engine) UpdateTransaction(ctx context.Context, tenantID int64, txKey string, edit TransactionEdit) (*domain.Transaction, error) {
	log := logger.FromContext(ctx)

	if err := domain.ValidateStruct(edit); err != nil {
		return nil, fmt.Errorf("UpdateTransaction: %w", err)
	}
	var newSplits []domain.Split
	if edit.Splits != nil {
		var err error
		if newSplits, err = e.buildSplits(edit.Splits); err != nil {
			return nil, fmt.Errorf("UpdateTransaction: %w", err)
		}
	}

	var updated *domain.Transaction
	err := e.store.RunInTx(ctx, func(tx store.Store) error {
		t, err := tx.GetTransaction(ctx, tenantID, txKey)
		if err != nil {
			return err
		}
		if edit.Date != nil {
			t.Date = domain.Day(*edit.Date)
		}
		if edit.Payee != nil {
			t.Payee = *edit.Payee
		}
		if edit.Amount != nil {
			t.Amount = *edit.Amount
		}
		if edit.Memo != nil {
			t.Memo = *edit.Memo
		}

		splits := t.Splits
		if edit.Splits != nil {
			splits = newSplits
		}
		if err := domain.CheckSplits(t.Amount, splits); err != nil {
			return err
		}

		if err := tx.UpdateTransaction(ctx, t); err != nil {
			return err
		}
		if edit.Splits != nil {
			if err := tx.ReplaceSplits(ctx, tenantID, txKey, splits); err != nil {
				return err
			}
		}
		updated, err = tx.GetTransaction(ctx, tenantID, txKey)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("UpdateTransaction: %w", err)
	}

	log.Info().
		Int64("tenant_id", tenantID).
		Str("transaction_key", txKey).
		Msg("Updated transaction")
	return updated, nil
}
