package categorize

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/logger"
)

// RuleInput is the user-editable part of a payee rule.
type RuleInput struct {
	Pattern  string `validate:"notblank,max=256"`
	IsRegex  bool
	Category string `validate:"notblank,max=128"`
}

func (in RuleInput) validate() error {
	if err := domain.ValidateStruct(in); err != nil {
		return err
	}
	if in.IsRegex {
		if _, err := compilePattern(in.Pattern); err != nil {
			return err
		}
	}
	return nil
}

// CreateRule validates and persists a new rule. Regex patterns are compiled
// here and cached, so an invalid pattern never reaches matching.
func (e *Engine) CreateRule(ctx context.Context, tenantID int64, in RuleInput) (*domain.PayeeRule, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := e.now()
	r := &domain.PayeeRule{
		TenantID:   tenantID,
		Key:        uuid.NewString(),
		Pattern:    in.Pattern,
		IsRegex:    in.IsRegex,
		Category:   strings.TrimSpace(in.Category),
		CreatedAt:  now,
		ModifiedAt: now,
	}
	if err := e.rules.InsertRule(ctx, r); err != nil {
		return nil, fmt.Errorf("CreateRule: inserting rule: %w", err)
	}
	if r.IsRegex {
		if _, err := e.cache.get(r); err != nil {
			return nil, err
		}
	}

	log := logger.FromContext(ctx)
	log.Info().
		Int64("tenant_id", tenantID).
		Str("rule_key", r.Key).
		Bool("is_regex", r.IsRegex).
		Msg("Created payee rule")
	return r, nil
}

// UpdateRule replaces the pattern, kind and category of an existing rule and
// refreshes its cached regex. Usage statistics are kept.
func (e *Engine) UpdateRule(ctx context.Context, tenantID int64, key string, in RuleInput) (*domain.PayeeRule, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	r, err := e.rules.GetRule(ctx, tenantID, key)
	if err != nil {
		return nil, fmt.Errorf("UpdateRule: loading rule: %w", err)
	}
	r.Pattern = in.Pattern
	r.IsRegex = in.IsRegex
	r.Category = strings.TrimSpace(in.Category)
	r.ModifiedAt = e.now()

	if err := e.rules.UpdateRule(ctx, r); err != nil {
		return nil, fmt.Errorf("UpdateRule: updating rule: %w", err)
	}
	e.cache.invalidate(key)
	if r.IsRegex {
		if _, err := e.cache.get(r); err != nil {
			return nil, err
		}
	}

	log := logger.FromContext(ctx)
	log.Info().
		Int64("tenant_id", tenantID).
		Str("rule_key", key).
		Msg("Updated payee rule")
	return r, nil
}

// DeleteRule removes a rule and its cached regex.
func (e *Engine) DeleteRule(ctx context.Context, tenantID int64, key string) error {
	if err := e.rules.DeleteRule(ctx, tenantID, key); err != nil {
		return fmt.Errorf("DeleteRule: %w", err)
	}
	e.cache.invalidate(key)

	log := logger.FromContext(ctx)
	log.Info().
		Int64("tenant_id", tenantID).
		Str("rule_key", key).
		Msg("Deleted payee rule")
	return nil
}

// ListRules returns the tenant's rules in evaluation order: literal rules
// first, then regex rules.
func (e *Engine) ListRules(ctx context.Context, tenantID int64) ([]*domain.PayeeRule, error) {
	rules, err := e.rules.ListRules(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("ListRules: %w", err)
	}
	literal, regex := partition(rules)
	return append(literal, regex...), nil
}

// LearnFromCorrection records a reviewer's category choice for payee as a
// literal rule. An existing literal rule for the same payee is retargeted
// instead of duplicated.
func (e *Engine) LearnFromCorrection(ctx context.Context, tenantID int64, payee, category string) (*domain.PayeeRule, error) {
	in := RuleInput{Pattern: payee, Category: category}
	if err := domain.ValidateStruct(in); err != nil {
		return nil, err
	}

	rules, err := e.rules.ListRules(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("LearnFromCorrection: listing rules: %w", err)
	}
	literal, _ := partition(rules)
	for _, r := range literal {
		if !strings.EqualFold(r.Pattern, in.Pattern) {
			continue
		}
		if r.Category == strings.TrimSpace(category) {
			return r, nil
		}
		return e.UpdateRule(ctx, tenantID, r.Key, RuleInput{Pattern: r.Pattern, Category: category})
	}
	return e.CreateRule(ctx, tenantID, in)
}
