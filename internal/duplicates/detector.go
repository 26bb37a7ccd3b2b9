// Package duplicates classifies candidate statement entries against the
// ledger of a tenant.
package duplicates

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/store"
)

// Candidate is the subset of a parsed entry used for matching.
type Candidate struct {
	Date       time.Time
	Payee      string
	Amount     decimal.Decimal
	ExternalID string
}

// CandidateFrom extracts the matching fields of a parsed entry.
func CandidateFrom(e domain.ParsedEntry) Candidate {
	return Candidate{Date: e.Date, Payee: e.Payee, Amount: e.Amount, ExternalID: e.ExternalID}
}

// Classifier is implemented by Detector.
type Classifier interface {
	Classify(ctx context.Context, tenantID int64, c Candidate) (domain.Verdict, error)
}

// Detector reads the ledger and never writes to it.
type Detector struct {
	ledger store.LedgerStore
}

func NewDetector(ledger store.LedgerStore) *Detector {
	return &Detector{ledger: ledger}
}

// Classify returns Exact when a transaction shares the candidate's non-blank
// external id, Probable when one has the same day, the same payee ignoring
// case and an equal amount, and None otherwise. Among several matches the
// lowest transaction id wins.
func (d *Detector) Classify(ctx context.Context, tenantID int64, c Candidate) (domain.Verdict, error) {
	if strings.TrimSpace(c.ExternalID) != "" {
		tx, err := d.ledger.FirstByExternalID(ctx, tenantID, c.ExternalID)
		switch {
		case err == nil:
			return domain.Verdict{Kind: domain.DuplicateExact, TransactionKey: tx.Key}, nil
		case !errors.Is(err, domain.ErrNotFound):
			return domain.Verdict{}, fmt.Errorf("Classify: external id lookup: %w", err)
		}
	}

	sameDay, err := d.ledger.ListByDate(ctx, tenantID, domain.Day(c.Date))
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("Classify: listing by date: %w", err)
	}

	var best *domain.Transaction
	for _, tx := range sameDay {
		if !strings.EqualFold(tx.Payee, c.Payee) || !tx.Amount.Equal(c.Amount) {
			continue
		}
		if best == nil || tx.ID < best.ID {
			best = tx
		}
	}
	if best != nil {
		return domain.Verdict{Kind: domain.DuplicateProbable, TransactionKey: best.Key}, nil
	}
	return domain.Verdict{Kind: domain.DuplicateNone}, nil
}

var _ Classifier = (*Detector)(nil)
