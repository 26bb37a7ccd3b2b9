package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/finance-ledger/internal/domain"
)

const ruleColumns = `id, tenant_id, rule_key, payee_pattern, payee_is_regex, category, created_at, modified_at, last_used_at, match_count`

func scanRule(row scanner) (*domain.PayeeRule, error) {
	var (
		r        domain.PayeeRule
		lastUsed sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.TenantID, &r.Key, &r.Pattern, &r.IsRegex, &r.Category,
		&r.CreatedAt, &r.ModifiedAt, &lastUsed, &r.MatchCount); err != nil {
		return nil, err
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		r.LastUsedAt = &t
	}
	return &r, nil
}

// InsertRule implements store.RuleStore.
func (s *Store) InsertRule(ctx context.Context, r *domain.PayeeRule) error {
	var lastUsed sql.NullTime
	if r.LastUsedAt != nil {
		lastUsed = sql.NullTime{Time: *r.LastUsedAt, Valid: true}
	}
	err := s.queryRow(ctx,
		`INSERT INTO payee_matching_rules
		   (tenant_id, rule_key, payee_pattern, payee_is_regex, category, created_at, modified_at, last_used_at, match_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		r.TenantID, r.Key, r.Pattern, r.IsRegex, r.Category, r.CreatedAt, r.ModifiedAt, lastUsed, r.MatchCount,
	).Scan(&r.ID)
	if isUniqueViolation(err) {
		return domain.Conflictf("rule key %q already exists", r.Key)
	}
	if err != nil {
		return domain.Infrastructure("InsertRule: inserting rule", err)
	}
	return nil
}

// GetRule implements store.RuleStore.
func (s *Store) GetRule(ctx context.Context, tenantID int64, key string) (*domain.PayeeRule, error) {
	r, err := scanRule(s.queryRow(ctx,
		`SELECT `+ruleColumns+` FROM payee_matching_rules WHERE tenant_id = ? AND rule_key = ?`, tenantID, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("rule %q", key)
	}
	if err != nil {
		return nil, domain.Infrastructure("GetRule: querying rule", err)
	}
	return r, nil
}

// ListRules implements store.RuleStore.
func (s *Store) ListRules(ctx context.Context, tenantID int64) ([]*domain.PayeeRule, error) {
	rows, err := s.query(ctx,
		`SELECT `+ruleColumns+` FROM payee_matching_rules WHERE tenant_id = ? ORDER BY id ASC`, tenantID)
	if err != nil {
		return nil, domain.Infrastructure("ListRules: querying rules", err)
	}
	defer rows.Close()

	var result []*domain.PayeeRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, domain.Infrastructure("ListRules: scanning rule", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Infrastructure("ListRules: iterating rules", err)
	}
	return result, nil
}

// UpdateRule implements store.RuleStore.
func (s *Store) UpdateRule(ctx context.Context, r *domain.PayeeRule) error {
	res, err := s.exec(ctx,
		`UPDATE payee_matching_rules SET payee_pattern = ?, payee_is_regex = ?, category = ?, modified_at = ?
		 WHERE tenant_id = ? AND rule_key = ?`,
		r.Pattern, r.IsRegex, r.Category, r.ModifiedAt, r.TenantID, r.Key)
	if err != nil {
		return domain.Infrastructure("UpdateRule: updating rule", err)
	}
	return requireRow(res, "UpdateRule", fmt.Sprintf("rule %q", r.Key))
}

// DeleteRule implements store.RuleStore.
func (s *Store) DeleteRule(ctx context.Context, tenantID int64, key string) error {
	res, err := s.exec(ctx,
		`DELETE FROM payee_matching_rules WHERE tenant_id = ? AND rule_key = ?`, tenantID, key)
	if err != nil {
		return domain.Infrastructure("DeleteRule: deleting rule", err)
	}
	return requireRow(res, "DeleteRule", fmt.Sprintf("rule %q", key))
}

// RecordRuleMatch implements store.RuleStore with a single UPDATE, so
// concurrent matches of the same rule never lose an increment.
func (s *Store) RecordRuleMatch(ctx context.Context, tenantID int64, key string, usedAt time.Time) error {
	res, err := s.exec(ctx,
		`UPDATE payee_matching_rules SET match_count = match_count + 1, last_used_at = ?
		 WHERE tenant_id = ? AND rule_key = ?`,
		usedAt, tenantID, key)
	if err != nil {
		return domain.Infrastructure("RecordRuleMatch: updating rule", err)
	}
	return requireRow(res, "RecordRuleMatch", fmt.Sprintf("rule %q", key))
}
