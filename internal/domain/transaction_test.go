package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCheckSplits(t *testing.T) {
	tests := []struct {
		name      string
		amount    string
		splits    []Split
		wantErr   error
		wantTotal bool
	}{
		{name: "no splits is uncategorized", amount: "-12.50"},
		{
			name:   "single split covers amount",
			amount: "-12.50",
			splits: []Split{{Amount: dec("-12.5"), Category: "Coffee"}},
		},
		{
			name:   "several splits sum exactly",
			amount: "100.00",
			splits: []Split{
				{Amount: dec("33.33"), Order: 0},
				{Amount: dec("33.33"), Order: 5},
				{Amount: dec("33.34"), Order: 9},
			},
		},
		{
			name:      "sum off by a cent",
			amount:    "100.00",
			splits:    []Split{{Amount: dec("33.33"), Order: 0}, {Amount: dec("66.66"), Order: 1}},
			wantErr:   ErrInvalidSplitTotal,
			wantTotal: true,
		},
		{
			name:    "orders not increasing",
			amount:  "10",
			splits:  []Split{{Amount: dec("5"), Order: 1}, {Amount: dec("5"), Order: 1}},
			wantErr: ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckSplits(dec(tt.amount), tt.splits)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, ErrValidation)
			if tt.wantTotal {
				assert.Equal(t, KindValidation, KindOf(err))
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, KindNone},
		{Validationf("bad %s", "input"), KindValidation},
		{NotFoundf("entry %q", "k"), KindNotFound},
		{Forbiddenf("role viewer"), KindForbidden},
		{Conflictf("entry committed"), KindConflict},
		{Infrastructure("GetStaged", errors.New("disk full")), KindInfrastructure},
		{fmt.Errorf("wrapped: %w", NotFoundf("x")), KindNotFound},
		{errors.New("unclassified"), KindInfrastructure},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.err), "KindOf(%v)", tt.err)
	}
}

func TestDay(t *testing.T) {
	in := time.Date(2024, 3, 9, 23, 59, 0, 0, time.FixedZone("X", 3600))
	assert.Equal(t, time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), Day(in))
}

func TestEntryStateTerminal(t *testing.T) {
	assert.False(t, EntryStaged.Terminal())
	assert.True(t, EntryCommitted.Terminal())
	assert.True(t, EntryDiscarded.Terminal())
}

func TestValidateStruct(t *testing.T) {
	type input struct {
		Name   string          `validate:"notblank,max=8"`
		Amount decimal.Decimal `validate:"nonzero_decimal"`
	}

	tests := []struct {
		name    string
		in      input
		wantErr bool
	}{
		{"valid", input{Name: "rent", Amount: decimal.NewFromInt(5)}, false},
		{"blank name", input{Name: "   ", Amount: decimal.NewFromInt(5)}, true},
		{"name too long", input{Name: "groceries-and-more", Amount: decimal.NewFromInt(5)}, true},
		{"zero amount", input{Name: "rent"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			assert.NoError(t, err)
		})
	}
}
