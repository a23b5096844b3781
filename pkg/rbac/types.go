package rbac

import (
	"fmt"
	"strings"
	"time"
)

// Permission is a global permission definition referenced by roles.
// Key is the dotted identifier checked by Can, e.g. tickets.ticket.update.
type Permission struct {
	ID          int64     `json:"id"`
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Guard       string    `json:"guard"`
	IsMutable   bool      `json:"is_mutable"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DefaultGuard is the guard assigned to permissions created without one
const DefaultGuard = "web"

// Role is a named set of permissions. A nil TenantID marks a global role.
type Role struct {
	ID          int64     `json:"id"`
	TenantID    *int64    `json:"tenant_id,omitempty"`
	Slug        string    `json:"slug"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsMutable   bool      `json:"is_mutable"`
	Permissions []string  `json:"permissions,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// System role slugs
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleUser       = "user"
)

// HubFallbackRoleNames are the role names that open the hub namespace when
// no tenant could be resolved for a request
var HubFallbackRoleNames = []string{"hub admin", "hub user"}

// Built-in permission keys
const (
	PermissionManageRBAC    = "hub.rbac.manage"
	PermissionViewRBAC      = "hub.rbac.view"
	PermissionManageTenants = "hub.tenants.manage"
	PermissionViewUsers     = "hub.users.view"
	PermissionManageUsers   = "hub.user.manage"
)

// UserRole assigns a role to a user within a tenant (nil for global)
type UserRole struct {
	UserID    int64     `json:"user_id"`
	RoleID    int64     `json:"role_id"`
	TenantID  *int64    `json:"tenant_id,omitempty"`
	GrantedBy *int64    `json:"granted_by,omitempty"`
	GrantedAt time.Time `json:"granted_at"`

	// Populated on reads
	RoleSlug string `json:"role_slug,omitempty"`
	RoleName string `json:"role_name,omitempty"`
}

// UserPermission is a permission granted directly to a user within a tenant
type UserPermission struct {
	UserID        int64     `json:"user_id"`
	PermissionID  int64     `json:"permission_id"`
	TenantID      *int64    `json:"tenant_id,omitempty"`
	GrantedAt     time.Time `json:"granted_at"`
	PermissionKey string    `json:"permission_key,omitempty"`
}

// Effect is the outcome an override forces
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// ParseEffect validates an effect string
func ParseEffect(s string) (Effect, error) {
	switch e := Effect(strings.ToLower(strings.TrimSpace(s))); e {
	case EffectAllow, EffectDeny:
		return e, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEffect, s)
	}
}

// Override forces a permission on or off for one user, optionally limited
// to a tenant and a lifetime
type Override struct {
	ID            int64      `json:"id"`
	UserID        int64      `json:"user_id"`
	PermissionID  int64      `json:"permission_id"`
	PermissionKey string     `json:"permission_key,omitempty"`
	TenantID      *int64     `json:"team_id,omitempty"`
	Effect        Effect     `json:"effect"`
	Reason        string     `json:"reason,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	CreatedBy     *int64     `json:"created_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ActiveAt reports whether the override is still in force at now
func (o Override) ActiveAt(now time.Time) bool {
	return o.ExpiresAt == nil || o.ExpiresAt.After(now)
}

// Decision is the verdict of the override evaluator
type Decision int

const (
	DecisionNotApplicable Decision = iota
	DecisionAllow
	DecisionDeny
)

func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionDeny:
		return "deny"
	default:
		return "not_applicable"
	}
}

// Sources explain which rule decided a check
const (
	SourceSuperAdmin  = "super_admin"
	SourceOverride    = "override"
	SourceRole        = "role"
	SourceHubFallback = "hub_fallback"
	SourceNone        = "none"
)

// CheckResult represents the result of a permission check
type CheckResult struct {
	Allowed    bool      `json:"allowed"`
	Permission string    `json:"permission,omitempty"`
	Source     string    `json:"source"`
	TenantID   *int64    `json:"tenant_id,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}

// BuiltInPermissions returns the system permissions seeded at startup
func BuiltInPermissions() []Permission {
	return []Permission{
		{Key: PermissionManageRBAC, Name: "Manage access control", Description: "Create and assign roles, permissions and overrides"},
		{Key: PermissionViewRBAC, Name: "View access control", Description: "Read roles, permissions and assignments"},
		{Key: PermissionManageTenants, Name: "Manage tenants", Description: "Provision hub tenants"},
		{Key: PermissionViewUsers, Name: "View users", Description: "Browse the user directory"},
		{Key: PermissionManageUsers, Name: "Manage users", Description: "Edit hub users and their memberships"},
	}
}

// TenantRoles returns the system roles every tenant is provisioned with
func TenantRoles() []Role {
	return []Role{
		{Slug: RoleAdmin, Name: "Admin", Description: "Administers the tenant"},
		{Slug: RoleUser, Name: "User", Description: "Regular tenant member"},
	}
}

// ParseExpression splits a pipe-delimited permission expression into keys
func ParseExpression(expr string) []string {
	var keys []string
	for _, part := range strings.Split(expr, "|") {
		if key := strings.TrimSpace(part); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

func slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.Join(strings.Fields(slug), "_")
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return -1
	}, slug)
}
