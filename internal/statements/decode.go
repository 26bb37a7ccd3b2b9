// Package statements loads batches of parsed statement entries from local
// files or Cloud Storage.
package statements

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-ledger/internal/domain"
)

// entryRecord is one element of the parser's JSON output. Amount accepts
// both JSON strings and numbers.
type entryRecord struct {
	Date       string          `json:"date" validate:"required,datetime=2006-01-02"`
	Payee      string          `json:"payee" validate:"notblank,max=256"`
	Amount     decimal.Decimal `json:"amount"`
	ExternalID string          `json:"external_id" validate:"max=128"`
	Memo       string          `json:"memo" validate:"max=512"`
	Source     string          `json:"source" validate:"max=256"`
}

// Decode parses a JSON array of entries. Entries without a source are
// attributed to defaultSource.
func Decode(data []byte, defaultSource string) ([]domain.ParsedEntry, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var records []entryRecord
	if err := dec.Decode(&records); err != nil {
		return nil, domain.Validationf("decoding entries: %v", err)
	}

	entries := make([]domain.ParsedEntry, 0, len(records))
	for i, rec := range records {
		if err := domain.ValidateStruct(rec); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		date, err := time.Parse(domain.DateLayout, rec.Date)
		if err != nil {
			return nil, domain.Validationf("entry %d: date %q: %v", i, rec.Date, err)
		}

		source := strings.TrimSpace(rec.Source)
		if source == "" {
			source = defaultSource
		}
		entries = append(entries, domain.ParsedEntry{
			Date:       date,
			Payee:      strings.TrimSpace(rec.Payee),
			Amount:     rec.Amount,
			ExternalID: strings.TrimSpace(rec.ExternalID),
			Memo:       rec.Memo,
			Source:     source,
		})
	}
	return entries, nil
}
