// Package authz decides whether a caller's role in a tenant permits an
// action.
package authz

import (
	"github.com/dvloznov/finance-ledger/internal/domain"
)

// Action names an operation guarded by a role check.
type Action string

const (
	ActionRead         Action = "read"
	ActionStage        Action = "stage"
	ActionToggle       Action = "toggle"
	ActionCommit       Action = "commit"
	ActionDiscard      Action = "discard"
	ActionRecategorize Action = "recategorize"
	ActionManageRules  Action = "manage_rules"
	ActionEditLedger   Action = "edit_ledger"
	ActionManageRoles  Action = "manage_roles"
	ActionDeleteTenant Action = "delete_tenant"
	ActionExportLedger Action = "export_ledger"
)

// RoleHierarchy ranks roles; a higher level includes every right of the
// levels below it.
var RoleHierarchy = map[domain.Role]int{
	domain.RoleViewer: 1,
	domain.RoleEditor: 2,
	domain.RoleOwner:  3,
}

// RequiredRole is the least role allowed to perform each action.
var RequiredRole = map[Action]domain.Role{
	ActionRead:         domain.RoleViewer,
	ActionStage:        domain.RoleEditor,
	ActionToggle:       domain.RoleEditor,
	ActionCommit:       domain.RoleEditor,
	ActionDiscard:      domain.RoleEditor,
	ActionRecategorize: domain.RoleEditor,
	ActionManageRules:  domain.RoleEditor,
	ActionEditLedger:   domain.RoleEditor,
	ActionManageRoles:  domain.RoleOwner,
	ActionDeleteTenant: domain.RoleOwner,
	ActionExportLedger: domain.RoleOwner,
}

// IsRoleAtLeast reports whether role ranks at or above required. Roles
// outside the hierarchy never qualify.
func IsRoleAtLeast(role, required domain.Role) bool {
	have, ok := RoleHierarchy[role]
	if !ok {
		return false
	}
	need, ok := RoleHierarchy[required]
	if !ok {
		return false
	}
	return have >= need
}

// Authorize returns nil when role may perform action. A caller without a
// recognised role gets ErrNotFound so the tenant's existence is not
// revealed; a known but insufficient role gets ErrForbidden.
func Authorize(role domain.Role, action Action) error {
	if _, ok := RoleHierarchy[role]; !ok {
		return domain.NotFoundf("tenant")
	}
	required, ok := RequiredRole[action]
	if !ok {
		return domain.Forbiddenf("unknown action %q", action)
	}
	if !IsRoleAtLeast(role, required) {
		return domain.Forbiddenf("role %s may not %s", role, action)
	}
	return nil
}

// Caller is the identity and resolved role supplied by the layer above for
// one tenant.
type Caller struct {
	UserID   string
	TenantID int64
	Role     domain.Role
}

// Authorize checks the caller's role for action.
func (c Caller) Authorize(action Action) error {
	if err := Authorize(c.Role, action); err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			return domain.NotFoundf("tenant %d", c.TenantID)
		}
		return err
	}
	return nil
}
