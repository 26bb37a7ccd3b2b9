package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ParsedEntry is one line produced by the upstream statement parser. It is
// assumed well-formed.
type ParsedEntry struct {
	Date       time.Time
	Payee      string
	Amount     decimal.Decimal
	ExternalID string
	Memo       string
	Source     string
}

// DuplicateKind is the duplicate detector's classification.
type DuplicateKind string

const (
	DuplicateNone     DuplicateKind = "none"
	DuplicateExact    DuplicateKind = "exact"
	DuplicateProbable DuplicateKind = "probable"
)

// Verdict is the outcome of duplicate classification. TransactionKey is set
// for Exact and Probable verdicts.
type Verdict struct {
	Kind           DuplicateKind
	TransactionKey string
}

func (v Verdict) IsDuplicate() bool {
	return v.Kind == DuplicateExact || v.Kind == DuplicateProbable
}

// EntryState is the lifecycle of a staged entry:
//
//	Staged(selected|unselected) -> Committed | Discarded
//
// Committed and Discarded are terminal and are realized by deleting the
// staged row; only Staged entries are ever stored as rows.
type EntryState string

const (
	EntryStaged    EntryState = "staged"
	EntryCommitted EntryState = "committed"
	EntryDiscarded EntryState = "discarded"
)

func (s EntryState) Terminal() bool {
	return s == EntryCommitted || s == EntryDiscarded
}

// StagedEntry is an ImportReviewTransaction awaiting review.
type StagedEntry struct {
	ID       int64 // storage-only
	TenantID int64
	Key      string

	Date       time.Time
	Payee      string
	Amount     decimal.Decimal
	ExternalID string
	Memo       string
	Source     string

	SuggestedCategory string
	MatchedRuleKey    string
	// ManualCategory is set once a reviewer has chosen the category, even
	// when the choice was to leave the entry uncategorized.
	ManualCategory bool
	IsSelected     bool

	// Duplicate.TransactionKey is the DuplicateOfTransactionKey.
	Duplicate Verdict

	CreatedAt time.Time
}

// Outcome records how a staged entry left the Staged state.
type Outcome struct {
	TenantID       int64
	EntryKey       string
	State          EntryState
	TransactionKey string
	DecidedAt      time.Time
}
