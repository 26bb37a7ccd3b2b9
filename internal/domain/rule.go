package domain

import "time"

// PayeeRule maps a payee pattern to a suggested category.
type PayeeRule struct {
	ID       int64 // storage-only
	TenantID int64
	Key      string

	Pattern  string
	IsRegex  bool
	Category string

	CreatedAt  time.Time
	ModifiedAt time.Time
	LastUsedAt *time.Time
	MatchCount int64
}

// Tenant is an isolated financial-data partition.
type Tenant struct {
	ID          int64 // storage-only
	Key         string
	Name        string
	Description string
	CreatedAt   time.Time
}

// Role is a caller's role within one tenant.
type Role string

const (
	RoleNone   Role = ""
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleOwner  Role = "owner"
)

// RoleAssignment grants a user a role in a tenant; (UserID, TenantID) is unique.
type RoleAssignment struct {
	UserID   string
	TenantID int64
	Role     Role
}
