package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/hub/pkg/audit"
	"github.com/platinummonkey/hub/pkg/auth"
	"github.com/platinummonkey/hub/pkg/contextkeys"
	"github.com/platinummonkey/hub/pkg/observability"
	"github.com/platinummonkey/hub/pkg/tenants"
)

// Config holds RBAC configuration
type Config struct {
	// HubSlug names the administrative tenant and its permission namespace
	HubSlug string

	// Backend stores effective permission sets. Defaults to a MemoryBackend.
	Backend CacheBackend

	// Clock decides override expiry. Defaults to time.Now.
	Clock func() time.Time

	AuditLogger audit.Logger
	Logger      *observability.Logger
	Metrics     *observability.Metrics
	Instruments *observability.AuthzInstruments
}

// DefaultConfig returns default RBAC configuration
func DefaultConfig() Config {
	return Config{
		HubSlug: "hub",
		Clock:   time.Now,
	}
}

// Manager manages all RBAC components. Every write runs in one transaction
// and invalidates the affected users' cached permissions after commit,
// before returning.
type Manager struct {
	db          *sql.DB
	store       *Store
	cache       *PermissionCache
	authorizer  *Authorizer
	invalidator *Invalidator
	middleware  *PermissionMiddleware
	handlers    *Handlers

	auditLogger audit.Logger
	logger      *observability.Logger
	metrics     *observability.Metrics
	now         func() time.Time
	hubSlug     string
}

// NewManager creates a new RBAC manager
func NewManager(db *sql.DB, config Config) *Manager {
	if config.Backend == nil {
		config.Backend = NewMemoryBackend(0, 0)
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if config.AuditLogger == nil {
		config.AuditLogger = audit.NoopLogger{}
	}
	if config.Logger == nil {
		config.Logger = observability.NewLogger(observability.InfoLevel, io.Discard)
	}
	if config.HubSlug == "" {
		config.HubSlug = "hub"
	}

	store := NewStore(db)
	cache := NewPermissionCache(config.Backend, store).WithMetrics(config.Metrics, config.Instruments)
	authorizer := NewAuthorizer(store, NewOverrideEvaluator(store, config.Clock), cache, AuthorizerConfig{
		HubSlug:     config.HubSlug,
		Logger:      config.Logger,
		Metrics:     config.Metrics,
		Instruments: config.Instruments,
	})

	m := &Manager{
		db:          db,
		store:       store,
		cache:       cache,
		authorizer:  authorizer,
		invalidator: NewInvalidator(store, cache, config.Logger, config.Metrics),
		middleware:  NewPermissionMiddleware(authorizer, config.Logger),
		auditLogger: config.AuditLogger,
		logger:      config.Logger,
		metrics:     config.Metrics,
		now:         config.Clock,
		hubSlug:     config.HubSlug,
	}
	m.handlers = NewHandlers(m)
	return m
}

// Initialize runs migrations, seeds the built-in permissions and roles, and
// provisions the hub tenant whose admin role holds every built-in permission
func (m *Manager) Initialize(ctx context.Context) error {
	if err := RunMigrations(ctx, m.db, m.logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	var hubAdmin *Role
	if err := m.store.InTx(ctx, func(tx *Store) error {
		if err := tx.SeedDefaults(ctx); err != nil {
			return err
		}
		var err error
		_, hubAdmin, err = tx.SeedHubTenant(ctx, m.hubSlug)
		return err
	}); err != nil {
		return fmt.Errorf("failed to seed defaults: %w", err)
	}

	m.invalidator.OnPermissionAttachedToRole(ctx, hubAdmin.ID)
	return nil
}

// RegisterRoutes registers the RBAC admin API
func (m *Manager) RegisterRoutes(router *mux.Router) {
	m.handlers.RegisterRoutes(router, m.middleware)
}

// GetStore returns the RBAC store
func (m *Manager) GetStore() *Store {
	return m.store
}

// GetAuthorizer returns the decision engine
func (m *Manager) GetAuthorizer() *Authorizer {
	return m.authorizer
}

// GetInvalidator returns the invalidator
func (m *Manager) GetInvalidator() *Invalidator {
	return m.invalidator
}

// GetMiddleware returns the permission middleware
func (m *Manager) GetMiddleware() *PermissionMiddleware {
	return m.middleware
}

// Can checks permissionExpr in the tenant carried by ctx
func (m *Manager) Can(ctx context.Context, userID int64, permissionExpr string) (bool, error) {
	return m.authorizer.Can(ctx, userID, permissionExpr)
}

// CanInTenant checks permissionExpr in an explicit tenant
func (m *Manager) CanInTenant(ctx context.Context, userID int64, permissionExpr string, tenantID *int64) (bool, error) {
	return m.authorizer.CanInTenant(ctx, userID, permissionExpr, tenantID)
}

// Permissions

// CreatePermission creates a mutable permission
func (m *Manager) CreatePermission(ctx context.Context, p *Permission) error {
	p.Key = strings.TrimSpace(p.Key)
	if p.Key == "" || strings.Contains(p.Key, "|") {
		return fmt.Errorf("%w: permission key is required and may not contain '|'", ErrInvalidInput)
	}
	if p.Name == "" {
		p.Name = p.Key
	}
	p.IsMutable = true

	err := m.store.InTx(ctx, func(tx *Store) error {
		if err := permissionKeyAvailable(ctx, tx, p.Key, 0); err != nil {
			return err
		}
		return tx.CreatePermission(ctx, p)
	})
	if err != nil {
		return err
	}

	m.record(ctx, m.event(ctx, audit.EventTypePermissionCreate, "permission", p.ID).withMessage(p.Key))
	return nil
}

// UpdatePermission updates a mutable permission
func (m *Manager) UpdatePermission(ctx context.Context, p *Permission) error {
	err := m.store.InTx(ctx, func(tx *Store) error {
		existing, err := tx.GetPermission(ctx, p.ID)
		if err != nil {
			return err
		}
		if !existing.IsMutable {
			return fmt.Errorf("permission %s: %w", existing.Key, ErrImmutable)
		}

		p.Key = strings.TrimSpace(p.Key)
		if p.Key == "" {
			p.Key = existing.Key
		}
		if strings.Contains(p.Key, "|") {
			return fmt.Errorf("%w: permission key may not contain '|'", ErrInvalidInput)
		}
		if err := permissionKeyAvailable(ctx, tx, p.Key, existing.ID); err != nil {
			return err
		}
		if p.Name == "" {
			p.Name = existing.Name
		}
		if p.Guard == "" {
			p.Guard = existing.Guard
		}
		p.IsMutable = true
		p.CreatedAt = existing.CreatedAt
		return tx.UpdatePermission(ctx, p)
	})
	if err != nil {
		return err
	}

	m.invalidator.OnPermissionUpdated(ctx, p.ID)
	m.record(ctx, m.event(ctx, audit.EventTypePermissionUpdate, "permission", p.ID).withMessage(p.Key))
	return nil
}

// permissionKeyAvailable returns ErrConflict when another permission than self owns key
func permissionKeyAvailable(ctx context.Context, tx *Store, key string, self int64) error {
	existing, err := tx.GetPermissionByKey(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ID != self {
		return fmt.Errorf("permission %s: %w", key, ErrConflict)
	}
	return nil
}

// DeletePermission deletes a mutable permission with its grants and overrides
func (m *Manager) DeletePermission(ctx context.Context, permissionID int64) error {
	var holders []int64
	err := m.store.InTx(ctx, func(tx *Store) error {
		existing, err := tx.GetPermission(ctx, permissionID)
		if err != nil {
			return err
		}
		if !existing.IsMutable {
			return fmt.Errorf("permission %s: %w", existing.Key, ErrImmutable)
		}

		holders, err = tx.UsersWithPermission(ctx, permissionID)
		if err != nil {
			return err
		}
		return tx.DeletePermission(ctx, permissionID)
	})
	if err != nil {
		return err
	}

	m.invalidator.OnPermissionDeleted(ctx, permissionID, holders)
	m.record(ctx, m.event(ctx, audit.EventTypePermissionDelete, "permission", permissionID).
		withMeta("holders", len(holders)))
	return nil
}

// GetPermission retrieves a permission by ID
func (m *Manager) GetPermission(ctx context.Context, permissionID int64) (*Permission, error) {
	return m.store.GetPermission(ctx, permissionID)
}

// ListPermissions lists all permissions
func (m *Manager) ListPermissions(ctx context.Context) ([]Permission, error) {
	return m.store.ListPermissions(ctx)
}

// Roles

// CreateRole creates a mutable role, global when TenantID is nil
func (m *Manager) CreateRole(ctx context.Context, role *Role) error {
	role.Name = strings.TrimSpace(role.Name)
	if role.Name == "" {
		return fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	if role.Slug == "" {
		role.Slug = slugify(role.Name)
	}
	if role.Slug == "" {
		return fmt.Errorf("%w: role slug is required", ErrInvalidInput)
	}
	role.IsMutable = true

	err := m.store.InTx(ctx, func(tx *Store) error {
		if role.TenantID != nil {
			if _, err := tx.Tenants().GetTenant(ctx, *role.TenantID); err != nil {
				return err
			}
		}

		_, err := tx.GetRoleBySlug(ctx, role.Slug, role.TenantID)
		if err == nil {
			return fmt.Errorf("role %s: %w", role.Slug, ErrConflict)
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		return tx.CreateRole(ctx, role)
	})
	if err != nil {
		return err
	}

	e := m.event(ctx, audit.EventTypeRoleCreate, "role", role.ID).withMessage(role.Slug)
	e.TenantID = role.TenantID
	m.record(ctx, e)
	return nil
}

// GetRole retrieves a role together with its permission keys
func (m *Manager) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	role, err := m.store.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	role.Permissions, err = m.store.RolePermissionKeys(ctx, roleID)
	if err != nil {
		return nil, err
	}
	return role, nil
}

// ListRoles lists the roles visible in a tenant (all roles when nil)
func (m *Manager) ListRoles(ctx context.Context, tenantID *int64) ([]Role, error) {
	return m.store.ListRoles(ctx, tenantID)
}

// UpdateRole updates a mutable role's slug, name and description. The
// tenant of a role cannot change.
func (m *Manager) UpdateRole(ctx context.Context, role *Role) error {
	err := m.store.InTx(ctx, func(tx *Store) error {
		existing, err := tx.GetRole(ctx, role.ID)
		if err != nil {
			return err
		}
		if !existing.IsMutable {
			return fmt.Errorf("role %s: %w", existing.Slug, ErrImmutable)
		}

		role.TenantID = existing.TenantID
		if role.Name == "" {
			role.Name = existing.Name
		}
		if role.Slug == "" {
			role.Slug = existing.Slug
		}
		if role.Slug != existing.Slug {
			if _, err := tx.GetRoleBySlug(ctx, role.Slug, role.TenantID); err == nil {
				return fmt.Errorf("role %s: %w", role.Slug, ErrConflict)
			} else if !errors.Is(err, ErrNotFound) {
				return err
			}
		}
		role.IsMutable = true
		role.CreatedAt = existing.CreatedAt
		return tx.UpdateRole(ctx, role)
	})
	if err != nil {
		return err
	}

	m.invalidator.OnRoleUpdated(ctx, role.ID)
	e := m.event(ctx, audit.EventTypeRoleUpdate, "role", role.ID).withMessage(role.Slug)
	e.TenantID = role.TenantID
	m.record(ctx, e)
	return nil
}

// DeleteRole deletes a mutable role and its assignments
func (m *Manager) DeleteRole(ctx context.Context, roleID int64) error {
	var holders []int64
	var tenantID *int64
	err := m.store.InTx(ctx, func(tx *Store) error {
		existing, err := tx.GetRole(ctx, roleID)
		if err != nil {
			return err
		}
		if !existing.IsMutable {
			return fmt.Errorf("role %s: %w", existing.Slug, ErrImmutable)
		}
		tenantID = existing.TenantID

		holders, err = tx.UsersWithRole(ctx, roleID)
		if err != nil {
			return err
		}
		return tx.DeleteRole(ctx, roleID)
	})
	if err != nil {
		return err
	}

	m.invalidator.OnRoleDeleted(ctx, roleID, holders)
	e := m.event(ctx, audit.EventTypeRoleDelete, "role", roleID).withMeta("holders", len(holders))
	e.TenantID = tenantID
	m.record(ctx, e)
	return nil
}

// SyncRolePermissions replaces the permission set of a role with keys
func (m *Manager) SyncRolePermissions(ctx context.Context, roleID int64, keys []string) error {
	err := m.store.InTx(ctx, func(tx *Store) error {
		if _, err := tx.GetRole(ctx, roleID); err != nil {
			return err
		}
		ids, err := tx.PermissionIDsByKeys(ctx, keys)
		if err != nil {
			return err
		}
		return tx.ReplaceRolePermissions(ctx, roleID, ids)
	})
	if err != nil {
		return err
	}

	m.invalidator.OnPermissionAttachedToRole(ctx, roleID)
	m.record(ctx, m.event(ctx, audit.EventTypeRolePermissions, "role", roleID).withMeta("permissions", keys))
	return nil
}

// AttachPermissionToRole adds one permission to a role
func (m *Manager) AttachPermissionToRole(ctx context.Context, roleID, permissionID int64) error {
	err := m.store.InTx(ctx, func(tx *Store) error {
		if _, err := tx.GetRole(ctx, roleID); err != nil {
			return err
		}
		if _, err := tx.GetPermission(ctx, permissionID); err != nil {
			return err
		}
		return tx.AttachPermissionToRole(ctx, roleID, permissionID)
	})
	if err != nil {
		return err
	}

	m.invalidator.OnPermissionAttachedToRole(ctx, roleID)
	m.record(ctx, m.event(ctx, audit.EventTypeRolePermissions, "role", roleID).withMeta("attached", permissionID))
	return nil
}

// DetachPermissionFromRole removes one permission from a role
func (m *Manager) DetachPermissionFromRole(ctx context.Context, roleID, permissionID int64) error {
	removed, err := m.store.DetachPermissionFromRole(ctx, roleID, permissionID)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("role permission: %w", ErrNotFound)
	}

	m.invalidator.OnPermissionDetachedFromRole(ctx, roleID)
	m.record(ctx, m.event(ctx, audit.EventTypeRolePermissions, "role", roleID).withMeta("detached", permissionID))
	return nil
}

// Assignments

// AssignRole assigns a role to a user. A tenant role applies in its own
// tenant; tenantID may be nil to mean that tenant.
func (m *Manager) AssignRole(ctx context.Context, userID, roleID int64, tenantID *int64) error {
	if userID <= 0 {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}

	err := m.store.InTx(ctx, func(tx *Store) error {
		role, err := tx.GetRole(ctx, roleID)
		if err != nil {
			return err
		}

		switch {
		case role.TenantID != nil && tenantID == nil:
			tenantID = role.TenantID
		case role.TenantID != nil && *tenantID != *role.TenantID:
			return fmt.Errorf("%w: role %s belongs to another tenant", ErrInvalidInput, role.Slug)
		case role.TenantID == nil && role.Slug == RoleSuperAdmin && tenantID != nil:
			return fmt.Errorf("%w: super admin is granted without a tenant", ErrInvalidInput)
		case role.TenantID == nil && tenantID != nil:
			if _, err := tx.Tenants().GetTenant(ctx, *tenantID); err != nil {
				return err
			}
		}

		_, err = tx.AssignRole(ctx, &UserRole{
			UserID:    userID,
			RoleID:    roleID,
			TenantID:  tenantID,
			GrantedBy: actorID(ctx),
			GrantedAt: m.now().UTC(),
		})
		return err
	})
	if err != nil {
		return err
	}

	m.invalidator.OnRoleAttached(ctx, userID)
	m.record(ctx, m.userEvent(ctx, audit.EventTypeRoleAssign, "role", roleID, userID, tenantID))
	return nil
}

// RevokeRole removes a role assignment
func (m *Manager) RevokeRole(ctx context.Context, userID, roleID int64, tenantID *int64) error {
	removed, err := m.store.RevokeRole(ctx, userID, roleID, tenantID)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("role assignment: %w", ErrNotFound)
	}

	m.invalidator.OnRoleDetached(ctx, userID)
	m.record(ctx, m.userEvent(ctx, audit.EventTypeRoleRevoke, "role", roleID, userID, tenantID))
	return nil
}

// ListUserRoles returns a user's role assignments
func (m *Manager) ListUserRoles(ctx context.Context, userID int64) ([]UserRole, error) {
	return m.store.ListUserRoles(ctx, userID)
}

// GrantUserPermission grants a permission directly to a user in a tenant
func (m *Manager) GrantUserPermission(ctx context.Context, userID, permissionID int64, tenantID *int64) error {
	if userID <= 0 {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}

	err := m.store.InTx(ctx, func(tx *Store) error {
		if _, err := tx.GetPermission(ctx, permissionID); err != nil {
			return err
		}
		if tenantID != nil {
			if _, err := tx.Tenants().GetTenant(ctx, *tenantID); err != nil {
				return err
			}
		}
		_, err := tx.GrantUserPermission(ctx, &UserPermission{
			UserID:       userID,
			PermissionID: permissionID,
			TenantID:     tenantID,
			GrantedAt:    m.now().UTC(),
		})
		return err
	})
	if err != nil {
		return err
	}

	m.invalidator.OnPermissionAttachedToUser(ctx, userID)
	m.record(ctx, m.userEvent(ctx, audit.EventTypePermissionGrant, "permission", permissionID, userID, tenantID))
	return nil
}

// RevokeUserPermission removes a direct grant
func (m *Manager) RevokeUserPermission(ctx context.Context, userID, permissionID int64, tenantID *int64) error {
	removed, err := m.store.RevokeUserPermission(ctx, userID, permissionID, tenantID)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("user permission: %w", ErrNotFound)
	}

	m.invalidator.OnPermissionDetachedFromUser(ctx, userID)
	m.record(ctx, m.userEvent(ctx, audit.EventTypePermissionRevoke, "permission", permissionID, userID, tenantID))
	return nil
}

// ListUserPermissions returns a user's direct grants
func (m *Manager) ListUserPermissions(ctx context.Context, userID int64) ([]UserPermission, error) {
	return m.store.ListUserPermissions(ctx, userID)
}

// GrantSuperAdmin gives a user the global super_admin role
func (m *Manager) GrantSuperAdmin(ctx context.Context, userID int64) error {
	role, err := m.store.GetRoleBySlug(ctx, RoleSuperAdmin, nil)
	if err != nil {
		return err
	}
	return m.AssignRole(ctx, userID, role.ID, nil)
}

// RevokeSuperAdmin removes the global super_admin role from a user
func (m *Manager) RevokeSuperAdmin(ctx context.Context, userID int64) error {
	role, err := m.store.GetRoleBySlug(ctx, RoleSuperAdmin, nil)
	if err != nil {
		return err
	}
	return m.RevokeRole(ctx, userID, role.ID, nil)
}

// Overrides

// CreateOverride stores an allow or deny override. The permission may be
// named by ID or key.
func (m *Manager) CreateOverride(ctx context.Context, o *Override) error {
	effect, err := ParseEffect(string(o.Effect))
	if err != nil {
		return err
	}
	o.Effect = effect
	if o.UserID <= 0 {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}

	err = m.store.InTx(ctx, func(tx *Store) error {
		var p *Permission
		var err error
		if o.PermissionID == 0 {
			p, err = tx.GetPermissionByKey(ctx, o.PermissionKey)
		} else {
			p, err = tx.GetPermission(ctx, o.PermissionID)
		}
		if err != nil {
			return err
		}
		o.PermissionID = p.ID
		o.PermissionKey = p.Key

		if o.TenantID != nil {
			if _, err := tx.Tenants().GetTenant(ctx, *o.TenantID); err != nil {
				return err
			}
		}

		o.CreatedBy = actorID(ctx)
		o.CreatedAt = m.now().UTC()
		return tx.CreateOverride(ctx, o)
	})
	if err != nil {
		return err
	}

	m.invalidator.OnOverrideWritten(ctx, o.UserID)
	m.record(ctx, m.userEvent(ctx, audit.EventTypeOverrideWrite, "override", o.ID, o.UserID, o.TenantID).
		withMeta("effect", string(o.Effect)).
		withMeta("permission", o.PermissionKey))
	return nil
}

// UpdateOverride changes an override's effect, reason and expiry. The tenant
// scope is fixed at creation: a nil TenantID keeps it, and naming a different
// tenant is ErrInvalidInput.
func (m *Manager) UpdateOverride(ctx context.Context, o *Override) error {
	effect, err := ParseEffect(string(o.Effect))
	if err != nil {
		return err
	}

	err = m.store.InTx(ctx, func(tx *Store) error {
		existing, err := tx.GetOverride(ctx, o.ID)
		if err != nil {
			return err
		}
		if o.TenantID != nil && (existing.TenantID == nil || *existing.TenantID != *o.TenantID) {
			return fmt.Errorf("%w: override scope cannot change, delete and recreate it", ErrInvalidInput)
		}

		existing.Effect = effect
		existing.Reason = o.Reason
		existing.ExpiresAt = o.ExpiresAt
		if err := tx.UpdateOverride(ctx, existing); err != nil {
			return err
		}
		*o = *existing
		return nil
	})
	if err != nil {
		return err
	}

	m.invalidator.OnOverrideWritten(ctx, o.UserID)
	m.record(ctx, m.userEvent(ctx, audit.EventTypeOverrideWrite, "override", o.ID, o.UserID, o.TenantID).
		withMeta("effect", string(o.Effect)))
	return nil
}

// DeleteOverride removes an override
func (m *Manager) DeleteOverride(ctx context.Context, overrideID int64) error {
	var existing *Override
	err := m.store.InTx(ctx, func(tx *Store) error {
		var err error
		existing, err = tx.GetOverride(ctx, overrideID)
		if err != nil {
			return err
		}
		return tx.DeleteOverride(ctx, overrideID)
	})
	if err != nil {
		return err
	}

	m.invalidator.OnOverrideWritten(ctx, existing.UserID)
	m.record(ctx, m.userEvent(ctx, audit.EventTypeOverrideDelete, "override", overrideID, existing.UserID, existing.TenantID))
	return nil
}

// ListOverrides returns a user's overrides, expired ones included
func (m *Manager) ListOverrides(ctx context.Context, userID int64) ([]Override, error) {
	return m.store.ListOverrides(ctx, userID)
}

// PurgeExpiredOverrides deletes overrides that are no longer in force and
// returns how many were removed
func (m *Manager) PurgeExpiredOverrides(ctx context.Context) (int64, error) {
	now := m.now()
	var users []int64
	var purged int64

	err := m.store.InTx(ctx, func(tx *Store) error {
		expired, err := tx.ExpiredOverrides(ctx, now)
		if err != nil {
			return err
		}

		seen := make(map[int64]bool)
		for _, o := range expired {
			if err := tx.DeleteOverride(ctx, o.ID); err != nil {
				return err
			}
			purged++
			if !seen[o.UserID] {
				seen[o.UserID] = true
				users = append(users, o.UserID)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, userID := range users {
		m.invalidator.OnOverrideWritten(ctx, userID)
	}
	m.metrics.RecordOverridesPurged(purged)
	if purged > 0 {
		m.record(ctx, m.event(ctx, audit.EventTypeOverridePurge, "override", 0).withMeta("purged", purged))
	}
	return purged, nil
}

// Tenants

// ProvisionTenant creates a tenant together with its admin and user roles
func (m *Manager) ProvisionTenant(ctx context.Context, slug, name string) (*tenants.Tenant, []Role, error) {
	tenant := &tenants.Tenant{Slug: strings.ToLower(strings.TrimSpace(slug)), Name: strings.TrimSpace(name)}
	if tenant.Name == "" {
		return nil, nil, fmt.Errorf("%w: tenant name is required", ErrInvalidInput)
	}

	var roles []Role
	err := m.store.InTx(ctx, func(tx *Store) error {
		if tenant.Slug != "" {
			if _, err := tx.Tenants().GetTenantBySlug(ctx, tenant.Slug); err == nil {
				return fmt.Errorf("tenant %s: %w", tenant.Slug, ErrConflict)
			} else if !errors.Is(err, tenants.ErrTenantNotFound) {
				return err
			}
		}
		if err := tx.Tenants().CreateTenant(ctx, tenant); err != nil {
			return err
		}

		var err error
		roles, err = tx.SeedTenantRoles(ctx, tenant.ID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	e := m.event(ctx, audit.EventTypeTenantProvision, "tenant", tenant.ID).withMessage(tenant.Slug)
	e.TenantID = &tenant.ID
	m.record(ctx, e)
	return tenant, roles, nil
}

// ListTenants lists all tenants
func (m *Manager) ListTenants(ctx context.Context) ([]*tenants.Tenant, error) {
	return m.store.Tenants().ListTenants(ctx)
}

// Cache

// EffectivePermissions returns a user's role-derived and direct permissions in a tenant
func (m *Manager) EffectivePermissions(ctx context.Context, userID int64, tenantID *int64) ([]string, error) {
	return m.authorizer.EffectivePermissions(ctx, userID, tenantID)
}

// FlushUserCache drops every cached permission set of a user
func (m *Manager) FlushUserCache(ctx context.Context, userID int64) error {
	if err := m.invalidator.FlushUserCache(ctx, userID); err != nil {
		return err
	}
	m.record(ctx, m.userEvent(ctx, audit.EventTypeCacheFlush, "user", userID, userID, nil))
	return nil
}

// Audit helpers

type auditEvent struct {
	*audit.Event
}

func (e auditEvent) withMessage(msg string) auditEvent {
	e.Message = msg
	return e
}

func (e auditEvent) withMeta(key string, value interface{}) auditEvent {
	e.Metadata[key] = value
	return e
}

func (m *Manager) event(ctx context.Context, eventType audit.EventType, resourceType string, resourceID int64) auditEvent {
	e := audit.NewEvent(ctx, eventType, resourceType, strconv.FormatInt(resourceID, 10))
	e.ActorID = actorID(ctx)
	return auditEvent{e}
}

func (m *Manager) userEvent(ctx context.Context, eventType audit.EventType, resourceType string, resourceID, userID int64, tenantID *int64) auditEvent {
	e := m.event(ctx, eventType, resourceType, resourceID)
	target := userID
	e.TargetUserID = &target
	e.TenantID = tenantID
	return e
}

func (m *Manager) record(ctx context.Context, e auditEvent) {
	if err := m.auditLogger.Log(ctx, e.Event); err != nil {
		m.logger.WithError(err).WithField("event_type", string(e.EventType)).Warn("Failed to write audit event")
	}
}

// actorID returns the authenticated caller, if any
func actorID(ctx context.Context) *int64 {
	authCtx, ok := ctx.Value(contextkeys.AuthKey).(*auth.AuthContext)
	if !ok {
		return nil
	}
	id, err := authCtx.UserID()
	if err != nil {
		return nil
	}
	return &id
}
