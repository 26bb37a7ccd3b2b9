// Package staging holds parsed statement entries for review until they are
// committed to the ledger or discarded.
package staging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/finance-ledger/internal/categorize"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/duplicates"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/dvloznov/finance-ledger/internal/store"
)

// Area implements the review lifecycle of staged entries.
type Area struct {
	store    store.Store
	detector duplicates.Classifier
	engine   *categorize.Engine
	now      func() time.Time
	newKey   func() string
}

// Option configures an Area.
type Option func(*Area)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Area) { a.now = now }
}

func NewArea(s store.Store, detector duplicates.Classifier, engine *categorize.Engine, opts ...Option) *Area {
	a := &Area{
		store:    s,
		detector: detector,
		engine:   engine,
		now:      func() time.Time { return time.Now().UTC() },
		newKey:   newEntryKey,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// newEntryKey returns a time-ordered key, so ascending key order follows
// staging order.
func newEntryKey() string {
	return uuid.Must(uuid.NewV7()).String()
}

// StageBatch classifies and pre-categorizes every entry, then stores the
// whole batch atomically. Exact duplicates start unselected; probable
// duplicates stay selected and carry the key of the transaction they
// resemble.
func (a *Area) StageBatch(ctx context.Context, tenantID int64, entries []domain.ParsedEntry) ([]*domain.StagedEntry, error) {
	log := logger.FromContext(ctx)

	if len(entries) == 0 {
		return nil, nil
	}

	now := a.now()
	staged := make([]*domain.StagedEntry, 0, len(entries))
	var exact, probable int
	for i, pe := range entries {
		verdict, err := a.detector.Classify(ctx, tenantID, duplicates.CandidateFrom(pe))
		if err != nil {
			return nil, fmt.Errorf("StageBatch: classifying entry %d: %w", i, err)
		}
		suggestion, err := a.engine.Suggest(ctx, tenantID, pe.Payee, categorize.Preview)
		if err != nil {
			return nil, fmt.Errorf("StageBatch: categorizing entry %d: %w", i, err)
		}

		switch verdict.Kind {
		case domain.DuplicateExact:
			exact++
		case domain.DuplicateProbable:
			probable++
		}

		staged = append(staged, &domain.StagedEntry{
			TenantID:          tenantID,
			Key:               a.newKey(),
			Date:              domain.Day(pe.Date),
			Payee:             pe.Payee,
			Amount:            pe.Amount,
			ExternalID:        pe.ExternalID,
			Memo:              pe.Memo,
			Source:            pe.Source,
			SuggestedCategory: suggestion.Category,
			MatchedRuleKey:    suggestion.RuleKey,
			IsSelected:        verdict.Kind != domain.DuplicateExact,
			Duplicate:         verdict,
			CreatedAt:         now,
		})
	}

	if err := a.store.InsertStaged(ctx, staged); err != nil {
		return nil, fmt.Errorf("StageBatch: inserting entries: %w", err)
	}

	log.Info().
		Int64("tenant_id", tenantID).
		Int("staged", len(staged)).
		Int("exact_duplicates", exact).
		Int("probable_duplicates", probable).
		Msg("Staged statement entries")
	return staged, nil
}

// lookup returns the staged entry, or the outcome of an entry that has
// already left the Staged state. Keys never staged in the tenant yield
// ErrNotFound.
func lookup(ctx context.Context, s store.StagingStore, tenantID int64, key string) (*domain.StagedEntry, *domain.Outcome, error) {
	entry, err := s.GetStaged(ctx, tenantID, key)
	if err == nil {
		return entry, nil, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, nil, err
	}

	outcome, oerr := s.GetOutcome(ctx, tenantID, key)
	if oerr == nil {
		return nil, outcome, nil
	}
	if errors.Is(oerr, domain.ErrNotFound) {
		return nil, nil, err
	}
	return nil, nil, oerr
}

// RequireStaged loads an entry that must still be in the Staged state. An
// entry already committed or discarded fails with ErrConflict.
func RequireStaged(ctx context.Context, s store.StagingStore, tenantID int64, key string) (*domain.StagedEntry, error) {
	entry, outcome, err := lookup(ctx, s, tenantID, key)
	if err != nil {
		return nil, err
	}
	if outcome != nil {
		return nil, domain.Conflictf("entry %s is already %s", key, outcome.State)
	}
	return entry, nil
}

// ToggleSelection marks a staged entry as selected or not for commit.
func (a *Area) ToggleSelection(ctx context.Context, tenantID int64, key string, selected bool) error {
	err := a.store.RunInTx(ctx, func(tx store.Store) error {
		if _, err := RequireStaged(ctx, tx, tenantID, key); err != nil {
			return err
		}
		return tx.SetSelected(ctx, tenantID, key, selected)
	})
	if err != nil {
		return fmt.Errorf("ToggleSelection: %w", err)
	}
	return nil
}

// DiscardBatch removes staged entries without touching the ledger. Each key
// is handled on its own: discarding a key twice fails the second time with
// ErrNotFound, and a committed key fails with ErrConflict.
func (a *Area) DiscardBatch(ctx context.Context, tenantID int64, keys []string) []domain.EntryResult {
	log := logger.FromContext(ctx)

	results := make([]domain.EntryResult, 0, len(keys))
	for i, key := range keys {
		if err := ctx.Err(); err != nil {
			results = append(results, domain.FailAll(keys[i:], domain.Infrastructure("DiscardBatch", err))...)
			break
		}
		if err := a.discardOne(ctx, tenantID, key); err != nil {
			log.Warn().
				Err(err).
				Int64("tenant_id", tenantID).
				Str("entry_key", key).
				Msg("Discard failed")
			results = append(results, domain.Failed(key, err))
			continue
		}
		results = append(results, domain.Discarded(key))
	}

	log.Info().
		Int64("tenant_id", tenantID).
		Int("requested", len(keys)).
		Int("discarded", countStatus(results, domain.ResultDiscarded)).
		Msg("Discarded staged entries")
	return results
}

func (a *Area) discardOne(ctx context.Context, tenantID int64, key string) error {
	return a.store.RunInTx(ctx, func(tx store.Store) error {
		_, outcome, err := lookup(ctx, tx, tenantID, key)
		if err != nil {
			return err
		}
		if outcome != nil {
			if outcome.State == domain.EntryDiscarded {
				return domain.NotFoundf("staged entry %q", key)
			}
			return domain.Conflictf("entry %s is already %s", key, outcome.State)
		}
		return tx.FinishStaged(ctx, domain.Outcome{
			TenantID:  tenantID,
			EntryKey:  key,
			State:     domain.EntryDiscarded,
			DecidedAt: a.now(),
		})
	})
}

// List returns the tenant's staged entries in staging order.
func (a *Area) List(ctx context.Context, tenantID int64) ([]*domain.StagedEntry, error) {
	entries, err := a.store.ListStaged(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	return entries, nil
}

// Get returns one staged entry.
func (a *Area) Get(ctx context.Context, tenantID int64, key string) (*domain.StagedEntry, error) {
	entry, err := a.store.GetStaged(ctx, tenantID, key)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return entry, nil
}

// RecategorizeInput overrides the suggested category of a staged entry. An
// empty Category clears the suggestion and the entry commits uncategorized.
// With Remember set, the choice is also learned as a literal rule for the
// entry's payee.
type RecategorizeInput struct {
	Category string `validate:"max=128"`
	Remember bool
}

// Recategorize applies a reviewer's category to a staged entry. A manual
// choice without a remembered rule, including an empty one, is kept as-is at
// commit time.
func (a *Area) Recategorize(ctx context.Context, tenantID int64, key string, in RecategorizeInput) (*domain.StagedEntry, error) {
	if err := domain.ValidateStruct(in); err != nil {
		return nil, err
	}
	category := strings.TrimSpace(in.Category)
	if in.Remember && category == "" {
		return nil, domain.Validationf("a category is required to remember a correction")
	}

	var updated *domain.StagedEntry
	err := a.store.RunInTx(ctx, func(tx store.Store) error {
		entry, err := RequireStaged(ctx, tx, tenantID, key)
		if err != nil {
			return err
		}

		ruleKey := ""
		if in.Remember {
			rule, err := a.engine.Within(tx).LearnFromCorrection(ctx, tenantID, entry.Payee, category)
			if err != nil {
				return err
			}
			ruleKey = rule.Key
		}
		if err := tx.SetSuggestion(ctx, tenantID, key, category, ruleKey, true); err != nil {
			return err
		}
		entry.SuggestedCategory = category
		entry.MatchedRuleKey = ruleKey
		entry.ManualCategory = true
		updated = entry
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Recategorize: %w", err)
	}
	return updated, nil
}

func countStatus(results []domain.EntryResult, status domain.ResultStatus) int {
	n := 0
	for _, r := range results {
		if r.Status == status {
			n++
		}
	}
	return n
}
