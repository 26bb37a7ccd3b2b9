package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/dvloznov/finance-ledger/internal/domain"
)

// CreateTenant implements store.TenantStore.
func (s *Store) CreateTenant(ctx context.Context, t *domain.Tenant) error {
	err := s.queryRow(ctx,
		`INSERT INTO tenants (tenant_key, name, description, created_at) VALUES (?, ?, ?, ?) RETURNING id`,
		t.Key, t.Name, nullString(t.Description), t.CreatedAt,
	).Scan(&t.ID)
	if isUniqueViolation(err) {
		return domain.Conflictf("tenant key %q already exists", t.Key)
	}
	if err != nil {
		return domain.Infrastructure("CreateTenant: inserting tenant", err)
	}
	return nil
}

// GetTenant implements store.TenantStore.
func (s *Store) GetTenant(ctx context.Context, tenantID int64) (*domain.Tenant, error) {
	var (
		t    domain.Tenant
		desc sql.NullString
	)
	err := s.queryRow(ctx,
		`SELECT id, tenant_key, name, description, created_at FROM tenants WHERE id = ?`, tenantID,
	).Scan(&t.ID, &t.Key, &t.Name, &desc, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("tenant %d", tenantID)
	}
	if err != nil {
		return nil, domain.Infrastructure("GetTenant: querying tenant", err)
	}
	t.Description = desc.String
	return &t, nil
}

// AssignRole implements store.TenantStore.
func (s *Store) AssignRole(ctx context.Context, a domain.RoleAssignment) error {
	if _, err := s.GetTenant(ctx, a.TenantID); err != nil {
		return err
	}
	_, err := s.exec(ctx,
		`INSERT INTO user_tenant_roles (user_id, tenant_id, role) VALUES (?, ?, ?)
		 ON CONFLICT (user_id, tenant_id) DO UPDATE SET role = excluded.role`,
		a.UserID, a.TenantID, string(a.Role))
	if err != nil {
		return domain.Infrastructure("AssignRole: upserting role", err)
	}
	return nil
}

// RoleOf implements store.TenantStore.
func (s *Store) RoleOf(ctx context.Context, userID string, tenantID int64) (domain.Role, error) {
	var role string
	err := s.queryRow(ctx,
		`SELECT role FROM user_tenant_roles WHERE user_id = ? AND tenant_id = ?`, userID, tenantID,
	).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RoleNone, nil
	}
	if err != nil {
		return domain.RoleNone, domain.Infrastructure("RoleOf: querying role", err)
	}
	return domain.Role(role), nil
}
