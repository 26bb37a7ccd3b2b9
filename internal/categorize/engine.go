// Package categorize suggests categories for payees from an ordered set of
// payee matching rules and manages those rules.
package categorize

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/dvloznov/finance-ledger/internal/store"
)

// Mode selects whether a suggestion records rule usage.
type Mode int

const (
	// Preview never touches rule statistics.
	Preview Mode = iota
	// Commit records a match on the winning rule.
	Commit
)

func (m Mode) String() string {
	if m == Commit {
		return "commit"
	}
	return "preview"
}

// Suggestion is the engine's answer for one payee. A zero Suggestion means
// Uncategorized.
type Suggestion struct {
	Category string
	RuleKey  string
}

func (s Suggestion) Matched() bool { return s.RuleKey != "" }

// maxMatchAttempts bounds re-evaluation when the winning rule disappears
// between listing and recording the match.
const maxMatchAttempts = 3

// Engine evaluates and manages payee rules for any tenant.
type Engine struct {
	rules store.RuleStore
	cache *regexCache
	now   func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(rules store.RuleStore, opts ...Option) *Engine {
	e := &Engine{
		rules: rules,
		cache: newRegexCache(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Within returns an engine that reads and writes rules through rules,
// typically a transactional view, while sharing this engine's regex cache.
func (e *Engine) Within(rules store.RuleStore) *Engine {
	c := *e
	c.rules = rules
	return &c
}

// Suggest resolves a category for payee. Literal rules are tried before
// regex rules; within each group the most recently used rule goes first.
func (e *Engine) Suggest(ctx context.Context, tenantID int64, payee string, mode Mode) (Suggestion, error) {
	for attempt := 1; ; attempt++ {
		rules, err := e.rules.ListRules(ctx, tenantID)
		if err != nil {
			return Suggestion{}, fmt.Errorf("Suggest: listing rules: %w", err)
		}

		winner := e.match(ctx, rules, payee)
		if winner == nil {
			return Suggestion{}, nil
		}
		if mode == Preview {
			return Suggestion{Category: winner.Category, RuleKey: winner.Key}, nil
		}

		err = e.rules.RecordRuleMatch(ctx, tenantID, winner.Key, e.now())
		if err == nil {
			return Suggestion{Category: winner.Category, RuleKey: winner.Key}, nil
		}
		if !errors.Is(err, domain.ErrNotFound) || attempt == maxMatchAttempts {
			return Suggestion{}, fmt.Errorf("Suggest: recording match for rule %s: %w", winner.Key, err)
		}
		// The rule was deleted concurrently; evaluate again without it.
		e.cache.invalidate(winner.Key)
	}
}

// match returns the first matching rule in evaluation order, or nil.
func (e *Engine) match(ctx context.Context, rules []*domain.PayeeRule, payee string) *domain.PayeeRule {
	literal, regex := partition(rules)

	for _, r := range literal {
		if strings.EqualFold(r.Pattern, payee) {
			return r
		}
	}
	for _, r := range regex {
		re, err := e.cache.get(r)
		if err != nil {
			// Only reachable for patterns written around the engine.
			log := logger.FromContext(ctx)
			log.Warn().
				Err(err).
				Str("rule_key", r.Key).
				Msg("Skipping rule with invalid pattern")
			continue
		}
		if re.MatchString(payee) {
			return r
		}
	}
	return nil
}

// partition splits rules into literal and regex groups, each in evaluation order.
func partition(rules []*domain.PayeeRule) (literal, regex []*domain.PayeeRule) {
	for _, r := range rules {
		if r.IsRegex {
			regex = append(regex, r)
		} else {
			literal = append(literal, r)
		}
	}
	sort.SliceStable(literal, func(i, j int) bool { return evaluatesBefore(literal[i], literal[j]) })
	sort.SliceStable(regex, func(i, j int) bool { return evaluatesBefore(regex[i], regex[j]) })
	return literal, regex
}

// evaluatesBefore orders by LastUsedAt descending with never-used rules
// last, then by id.
func evaluatesBefore(a, b *domain.PayeeRule) bool {
	switch {
	case a.LastUsedAt != nil && b.LastUsedAt == nil:
		return true
	case a.LastUsedAt == nil && b.LastUsedAt != nil:
		return false
	case a.LastUsedAt != nil && !a.LastUsedAt.Equal(*b.LastUsedAt):
		return a.LastUsedAt.After(*b.LastUsedAt)
	}
	return a.ID < b.ID
}
