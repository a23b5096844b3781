package rbac

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/hub/pkg/httputil"
	"github.com/platinummonkey/hub/pkg/middleware"
	"github.com/platinummonkey/hub/pkg/tenants"
)

// APIPrefix is where the admin API is mounted. It lives under the hub
// tenant's path so requests resolve to the hub tenant.
const APIPrefix = "/api/hub/rbac"

// Handlers provides HTTP handlers for RBAC administration
type Handlers struct {
	manager *Manager
}

// NewHandlers creates new RBAC handlers
func NewHandlers(manager *Manager) *Handlers {
	return &Handlers{manager: manager}
}

// RegisterRoutes registers all RBAC routes. Reads require the view or manage
// permission, writes require manage.
func (h *Handlers) RegisterRoutes(router *mux.Router, pm *PermissionMiddleware) {
	r := router.PathPrefix(APIPrefix).Subrouter()

	view := pm.Require(PermissionViewRBAC + "|" + PermissionManageRBAC)
	manage := pm.Require(PermissionManageRBAC)
	tenantsAdmin := pm.Require(PermissionManageTenants)

	handle := func(path, method string, guard func(http.Handler) http.Handler, fn http.HandlerFunc) {
		r.Handle(path, guard(fn)).Methods(method)
	}

	// Permissions
	handle("/permissions", http.MethodGet, view, h.ListPermissions)
	handle("/permissions", http.MethodPost, manage, h.CreatePermission)
	handle("/permissions/{id}", http.MethodGet, view, h.GetPermission)
	handle("/permissions/{id}", http.MethodPut, manage, h.UpdatePermission)
	handle("/permissions/{id}", http.MethodDelete, manage, h.DeletePermission)

	// Roles
	handle("/roles", http.MethodGet, view, h.ListRoles)
	handle("/roles", http.MethodPost, manage, h.CreateRole)
	handle("/roles/{id}", http.MethodGet, view, h.GetRole)
	handle("/roles/{id}", http.MethodPut, manage, h.UpdateRole)
	handle("/roles/{id}", http.MethodDelete, manage, h.DeleteRole)
	handle("/roles/{id}/permissions", http.MethodPut, manage, h.SyncRolePermissions)
	handle("/roles/{id}/permissions/{permission_id}", http.MethodPost, manage, h.AttachPermissionToRole)
	handle("/roles/{id}/permissions/{permission_id}", http.MethodDelete, manage, h.DetachPermissionFromRole)

	// User assignments
	handle("/users/{user_id}/roles", http.MethodGet, view, h.ListUserRoles)
	handle("/users/{user_id}/roles", http.MethodPost, manage, h.AssignRole)
	handle("/users/{user_id}/roles/{role_id}", http.MethodDelete, manage, h.RevokeRole)
	handle("/users/{user_id}/permissions", http.MethodGet, view, h.ListUserPermissions)
	handle("/users/{user_id}/permissions", http.MethodPost, manage, h.GrantUserPermission)
	handle("/users/{user_id}/permissions/{permission_id}", http.MethodDelete, manage, h.RevokeUserPermission)
	handle("/users/{user_id}/super-admin", http.MethodPost, manage, h.GrantSuperAdmin)
	handle("/users/{user_id}/super-admin", http.MethodDelete, manage, h.RevokeSuperAdmin)
	handle("/users/{user_id}/effective", http.MethodGet, view, h.EffectivePermissions)
	handle("/users/{user_id}/cache/flush", http.MethodPost, manage, h.FlushUserCache)

	// Overrides
	handle("/users/{user_id}/overrides", http.MethodGet, view, h.ListOverrides)
	handle("/users/{user_id}/overrides", http.MethodPost, manage, h.CreateOverride)
	handle("/overrides/{id}", http.MethodPut, manage, h.UpdateOverride)
	handle("/overrides/{id}", http.MethodDelete, manage, h.DeleteOverride)

	// Checks and tenants
	handle("/check", http.MethodPost, view, h.Check)
	handle("/tenants", http.MethodGet, view, h.ListTenants)
	handle("/tenants", http.MethodPost, tenantsAdmin, h.ProvisionTenant)
}

// writeManagerError maps manager errors to status codes
func writeManagerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, tenants.ErrTenantNotFound):
		httputil.WriteNotFound(w, err.Error())
	case errors.Is(err, ErrImmutable), errors.Is(err, ErrConflict):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, ErrInvalidEffect), errors.Is(err, ErrInvalidInput):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, ErrUnauthenticated):
		httputil.WriteUnauthorized(w, "Authentication required")
	default:
		httputil.WriteInternalError(w)
	}
}

// tenantQuery parses the optional tenant_id query parameter
func tenantQuery(w http.ResponseWriter, r *http.Request) (*int64, bool) {
	tenantID, err := httputil.ParseQueryOptionalInt64(r, "tenant_id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return nil, false
	}
	return tenantID, true
}

// Permissions

type permissionRequest struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Guard       string `json:"guard"`
}

// ListPermissions lists all permissions
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	permissions, err := h.manager.ListPermissions(r.Context())
	if err != nil {
		writeManagerError(w, err)
		return
	}
	if permissions == nil {
		permissions = []Permission{}
	}
	_ = httputil.WriteSuccess(w, permissions)
}

// CreatePermission creates a new permission
func (h *Handlers) CreatePermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	p := &Permission{Key: req.Key, Name: req.Name, Description: req.Description, Guard: req.Guard}
	if err := h.manager.CreatePermission(r.Context(), p); err != nil {
		writeManagerError(w, err)
		return
	}
	_ = httputil.WriteCreated(w, p)
}

// GetPermission retrieves a permission
func (h *Handlers) GetPermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	p, err := h.manager.GetPermission(r.Context(), id)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, p)
}

// UpdatePermission updates a mutable permission
func (h *Handlers) UpdatePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req permissionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	p := &Permission{ID: id, Key: req.Key, Name: req.Name, Description: req.Description, Guard: req.Guard}
	if err := h.manager.UpdatePermission(r.Context(), p); err != nil {
		writeManagerError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, p)
}

// DeletePermission deletes a mutable permission
func (h *Handlers) DeletePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.manager.DeletePermission(r.Context(), id); err != nil {
		writeManagerError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// Roles

type roleRequest struct {
	TenantID    *int64   `json:"tenant_id,omitempty"`
	Slug        string   `json:"slug"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions,omitempty"`
}

// ListRoles lists roles, narrowed to a tenant and the global roles with ?tenant_id=
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantQuery(w, r)
	if !ok {
		return
	}

	roles, err := h.manager.ListRoles(r.Context(), tenantID)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	if roles == nil {
		roles = []Role{}
	}
	_ = httputil.WriteSuccess(w, roles)
}

// CreateRole creates a new role with an optional initial permission set
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req roleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role := &Role{TenantID: req.TenantID, Slug: req.Slug, Name: req.Name, Description: req.Description}
	if err := h.manager.CreateRole(ctx, role); err != nil {
		writeManagerError(w, err)
		return
	}
	if len(req.Permissions) > 0 {
		if err := h.manager.SyncRolePermissions(ctx, role.ID, req.Permissions); err != nil {
			writeManagerError(w, err)
			return
		}
		role.Permissions = req.Permissions
	}
	_ = httputil.WriteCreated(w, role)
}

// GetRole retrieves a role with its permission keys
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	role, err := h.manager.GetRole(r.Context(), id)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, role)
}

// UpdateRole updates a mutable role
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req roleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role := &Role{ID: id, Slug: req.Slug, Name: req.Name, Description: req.Description}
	if err := h.manager.UpdateRole(r.Context(), role); err != nil {
		writeManagerError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, role)
}

// DeleteRole deletes a mutable role
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.manager.DeleteRole(r.Context(), id); err != nil {
		writeManagerError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// SyncRolePermissions replaces a role's permissions
func (h *Handlers) SyncRolePermissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Permissions []string `json:"permissions"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.manager.SyncRolePermissions(ctx, id, req.Permissions); err != nil {
		writeManagerError(w, err)
		return
	}
	role, err := h.manager.GetRole(ctx, id)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, role)
}

// AttachPermissionToRole adds one permission to a role
func (h *Handlers) AttachPermissionToRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	permissionID, ok := httputil.ParsePathInt64OrError(w, r, "permission_id")
	if !ok {
		return
	}

	if err := h.manager.AttachPermissionToRole(r.Context(), roleID, permissionID); err != nil {
		writeManagerError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// DetachPermissionFromRole removes one permission from a role
func (h *Handlers) DetachPermissionFromRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	permissionID, ok := httputil.ParsePathInt64OrError(w, r, "permission_id")
	if !ok {
		return
	}

	if err := h.manager.DetachPermissionFromRole(r.Context(), roleID, permissionID); err != nil {
		writeManagerError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// User assignments

// ListUserRoles lists a user's role assignments
func (h *Handlers) ListUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	roles, err := h.manager.ListUserRoles(r.Context(), userID)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	if roles == nil {
		roles = []UserRole{}
	}
	_ = httputil.WriteSuccess(w, roles)
}

// AssignRole assigns a role to a user
func (h *Handlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	var req struct {
		RoleID   int64  `json:"role_id"`
		TenantID *int64 `json:"tenant_id,omitempty"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.RoleID <= 0 {
		httputil.WriteBadRequest(w, "role_id is required")
		return
	}

	if err := h.manager.AssignRole(r.Context(), userID, req.RoleID, req.TenantID); err != nil {
		writeManagerError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// RevokeRole removes a role assignment; the tenant comes from ?tenant_id=
func (h *Handlers) RevokeRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "role_id")
	if !ok {
		return
	}
	tenantID, ok := tenantQuery(w, r)
	if !ok {
		return
	}

	if err := h.manager.RevokeRole(r.Context(), userID, roleID, tenantID); err != nil {
		writeManagerError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ListUserPermissions lists a user's direct grants
func (h *Handlers) ListUserPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	grants, err := h.manager.ListUserPermissions(r.Context(), userID)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	if grants == nil {
		grants = []UserPermission{}
	}
	_ = httputil.WriteSuccess(w, grants)
}

// GrantUserPermission grants a permission directly to a user
func (h *Handlers) GrantUserPermission(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	var req struct {
		PermissionID int64  `json:"permission_id"`
		TenantID     *int64 `json:"tenant_id,omitempty"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.PermissionID <= 0 {
		httputil.WriteBadRequest(w, "permission_id is required")
		return
	}

	if err := h.manager.GrantUserPermission(r.Context(), userID, req.PermissionID, req.TenantID); err != nil {
		writeManagerError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// RevokeUserPermission removes a direct grant; the tenant comes from ?tenant_id=
func (h *Handlers) RevokeUserPermission(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	permissionID, ok := httputil.ParsePathInt64OrError(w, r, "permission_id")
	if !ok {
		return
	}
	tenantID, ok := tenantQuery(w, r)
	if !ok {
		return
	}

	if err := h.manager.RevokeUserPermission(r.Context(), userID, permissionID, tenantID); err != nil {
		writeManagerError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// GrantSuperAdmin makes a user a super admin
func (h *Handlers) GrantSuperAdmin(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	if err := h.manager.GrantSuperAdmin(r.Context(), userID); err != nil {
		writeManagerError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// RevokeSuperAdmin removes super admin from a user
func (h *Handlers) RevokeSuperAdmin(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	if err := h.manager.RevokeSuperAdmin(r.Context(), userID); err != nil {
		writeManagerError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// EffectivePermissions returns a user's role-derived and direct permission keys
func (h *Handlers) EffectivePermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	tenantID, ok := tenantQuery(w, r)
	if !ok {
		return
	}

	keys, err := h.manager.EffectivePermissions(r.Context(), userID, tenantID)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	_ = httputil.WriteSuccess(w, map[string]interface{}{
		"user_id":     userID,
		"tenant_id":   tenantID,
		"permissions": keys,
	})
}

// FlushUserCache drops a user's cached permission sets
func (h *Handlers) FlushUserCache(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	if err := h.manager.FlushUserCache(r.Context(), userID); err != nil {
		writeManagerError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// Overrides

type overrideRequest struct {
	PermissionID  int64      `json:"permission_id,omitempty"`
	PermissionKey string     `json:"permission,omitempty"`
	TenantID      *int64     `json:"team_id,omitempty"`
	Effect        string     `json:"effect"`
	Reason        string     `json:"reason,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// overrideUpdateRequest omits the scope fields, which never change after creation
type overrideUpdateRequest struct {
	Effect    string     `json:"effect"`
	Reason    string     `json:"reason,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// ListOverrides lists a user's overrides
func (h *Handlers) ListOverrides(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	overrides, err := h.manager.ListOverrides(r.Context(), userID)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	if overrides == nil {
		overrides = []Override{}
	}
	_ = httputil.WriteSuccess(w, overrides)
}

// CreateOverride creates an override for a user
func (h *Handlers) CreateOverride(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	var req overrideRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.PermissionID <= 0 && req.PermissionKey == "" {
		httputil.WriteBadRequest(w, "permission_id or permission is required")
		return
	}

	o := &Override{
		UserID:        userID,
		PermissionID:  req.PermissionID,
		PermissionKey: req.PermissionKey,
		TenantID:      req.TenantID,
		Effect:        Effect(req.Effect),
		Reason:        req.Reason,
		ExpiresAt:     req.ExpiresAt,
	}
	if err := h.manager.CreateOverride(r.Context(), o); err != nil {
		writeManagerError(w, err)
		return
	}
	_ = httputil.WriteCreated(w, o)
}

// UpdateOverride updates an override
func (h *Handlers) UpdateOverride(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req overrideUpdateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	o := &Override{
		ID:        id,
		Effect:    Effect(req.Effect),
		Reason:    req.Reason,
		ExpiresAt: req.ExpiresAt,
	}
	if err := h.manager.UpdateOverride(r.Context(), o); err != nil {
		writeManagerError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, o)
}

// DeleteOverride deletes an override
func (h *Handlers) DeleteOverride(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.manager.DeleteOverride(r.Context(), id); err != nil {
		writeManagerError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// Checks and tenants

// Check evaluates a permission expression. The user defaults to the caller
// and the tenant to none.
func (h *Handlers) Check(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID     int64  `json:"user_id,omitempty"`
		Permission string `json:"permission"`
		TenantID   *int64 `json:"tenant_id,omitempty"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID == 0 {
		callerID, err := middleware.GetAuthContext(r).UserID()
		if err != nil {
			httputil.WriteUnauthorized(w, "Authentication required")
			return
		}
		req.UserID = callerID
	}

	result, err := h.manager.GetAuthorizer().Check(r.Context(), req.UserID, req.Permission, req.TenantID)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, result)
}

// ListTenants lists all tenants
func (h *Handlers) ListTenants(w http.ResponseWriter, r *http.Request) {
	list, err := h.manager.ListTenants(r.Context())
	if err != nil {
		writeManagerError(w, err)
		return
	}
	if list == nil {
		list = []*tenants.Tenant{}
	}
	_ = httputil.WriteSuccess(w, list)
}

// ProvisionTenant creates a tenant with its system roles
func (h *Handlers) ProvisionTenant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Slug string `json:"slug"`
		Name string `json:"name"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	tenant, roles, err := h.manager.ProvisionTenant(r.Context(), req.Slug, req.Name)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	_ = httputil.WriteCreated(w, map[string]interface{}{
		"tenant": tenant,
		"roles":  roles,
	})
}
