package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/hub/pkg/tenants"
)

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// Store handles RBAC data persistence
type Store struct {
	db *sql.DB // nil when bound to a transaction
	q  querier
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

// InTx runs fn with a Store bound to a single transaction. The transaction
// commits when fn returns nil and rolls back otherwise. Calling InTx on a
// transaction-bound Store reuses the open transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.db == nil {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	if err := fn(&Store{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Tenants returns a tenant service sharing this store's connection or transaction
func (s *Store) Tenants() *tenants.PostgresService {
	return tenants.NewPostgresService(s.q)
}

// Permissions

const permissionColumns = `id, name, display_name, description, guard_name, is_mutable, created_at, updated_at`

// CreatePermission creates a new permission
func (s *Store) CreatePermission(ctx context.Context, p *Permission) error {
	if p.Guard == "" {
		p.Guard = DefaultGuard
	}

	now := time.Now().UTC()
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO permissions (name, display_name, description, guard_name, is_mutable, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, p.Key, p.Name, p.Description, p.Guard, p.IsMutable, now, now).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("failed to create permission: %w", err)
	}

	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

// GetPermission retrieves a permission by ID
func (s *Store) GetPermission(ctx context.Context, id int64) (*Permission, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, id)
	return scanPermission(row)
}

// GetPermissionByKey retrieves a permission by its dotted key
func (s *Store) GetPermissionByKey(ctx context.Context, key string) (*Permission, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE name = $1`, key)
	return scanPermission(row)
}

// ListPermissions lists all permissions ordered by key
func (s *Store) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+permissionColumns+` FROM permissions ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var permissions []Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		permissions = append(permissions, *p)
	}
	return permissions, rows.Err()
}

// UpdatePermission updates a permission's key, name, description and guard
func (s *Store) UpdatePermission(ctx context.Context, p *Permission) error {
	now := time.Now().UTC()
	result, err := s.q.ExecContext(ctx, `
		UPDATE permissions
		SET name = $1, display_name = $2, description = $3, guard_name = $4, is_mutable = $5, updated_at = $6
		WHERE id = $7
	`, p.Key, p.Name, p.Description, p.Guard, p.IsMutable, now, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update permission: %w", err)
	}
	if err := expectAffected(result, "permission", p.ID); err != nil {
		return err
	}

	p.UpdatedAt = now
	return nil
}

// DeletePermission deletes a permission along with every grant and override referencing it
func (s *Store) DeletePermission(ctx context.Context, id int64) error {
	for _, query := range []string{
		`DELETE FROM role_permissions WHERE permission_id = $1`,
		`DELETE FROM user_permissions WHERE permission_id = $1`,
		`DELETE FROM user_permission_overrides WHERE permission_id = $1`,
	} {
		if _, err := s.q.ExecContext(ctx, query, id); err != nil {
			return fmt.Errorf("failed to delete permission references: %w", err)
		}
	}

	result, err := s.q.ExecContext(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete permission: %w", err)
	}
	return expectAffected(result, "permission", id)
}

// PermissionIDsByKeys maps keys to permission IDs. Unknown keys yield ErrNotFound.
func (s *Store) PermissionIDsByKeys(ctx context.Context, keys []string) ([]int64, error) {
	ids := make([]int64, 0, len(keys))
	for _, key := range keys {
		p, err := s.GetPermissionByKey(ctx, key)
		if err != nil {
			return nil, err
		}
		ids = append(ids, p.ID)
	}
	return ids, nil
}

func scanPermission(row scanner) (*Permission, error) {
	var p Permission
	var description sql.NullString
	err := row.Scan(&p.ID, &p.Key, &p.Name, &description, &p.Guard, &p.IsMutable, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("permission %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan permission: %w", err)
	}
	p.Description = description.String
	return &p, nil
}

// Roles

const roleColumns = `id, tenant_id, slug, name, description, is_mutable, created_at, updated_at`

// CreateRole creates a new role
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	now := time.Now().UTC()
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO roles (tenant_id, slug, name, description, is_mutable, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, role.TenantID, role.Slug, role.Name, role.Description, role.IsMutable, now, now).Scan(&role.ID)
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}

	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

// GetRole retrieves a role by ID
func (s *Store) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, roleID)
	return scanRole(row)
}

// GetRoleBySlug retrieves a role by slug within a tenant (nil for global roles)
func (s *Store) GetRoleBySlug(ctx context.Context, slug string, tenantID *int64) (*Role, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+roleColumns+` FROM roles
		WHERE slug = $1 AND (tenant_id = $2 OR (tenant_id IS NULL AND $2 IS NULL))
	`, slug, tenantID)
	return scanRole(row)
}

// ListRoles lists the roles of a tenant together with global roles. A nil
// tenant lists every role.
func (s *Store) ListRoles(ctx context.Context, tenantID *int64) ([]Role, error) {
	var rows *sql.Rows
	var err error
	if tenantID == nil {
		rows, err = s.q.QueryContext(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY id`)
	} else {
		rows, err = s.q.QueryContext(ctx, `
			SELECT `+roleColumns+` FROM roles
			WHERE tenant_id = $1 OR tenant_id IS NULL
			ORDER BY id
		`, *tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, *role)
	}
	return roles, rows.Err()
}

// UpdateRole updates a role's slug, name and description
func (s *Store) UpdateRole(ctx context.Context, role *Role) error {
	now := time.Now().UTC()
	result, err := s.q.ExecContext(ctx, `
		UPDATE roles
		SET slug = $1, name = $2, description = $3, is_mutable = $4, updated_at = $5
		WHERE id = $6
	`, role.Slug, role.Name, role.Description, role.IsMutable, now, role.ID)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	if err := expectAffected(result, "role", role.ID); err != nil {
		return err
	}

	role.UpdatedAt = now
	return nil
}

// DeleteRole deletes a role, its permission links and its assignments
func (s *Store) DeleteRole(ctx context.Context, roleID int64) error {
	for _, query := range []string{
		`DELETE FROM role_permissions WHERE role_id = $1`,
		`DELETE FROM user_roles WHERE role_id = $1`,
	} {
		if _, err := s.q.ExecContext(ctx, query, roleID); err != nil {
			return fmt.Errorf("failed to delete role references: %w", err)
		}
	}

	result, err := s.q.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, roleID)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	return expectAffected(result, "role", roleID)
}

// RolePermissionKeys returns the keys of the permissions attached to a role
func (s *Store) RolePermissionKeys(ctx context.Context, roleID int64) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT p.name FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = $1
		ORDER BY p.name
	`, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to get role permissions: %w", err)
	}
	return scanStrings(rows)
}

// AttachPermissionToRole links a permission to a role. Attaching twice is a no-op.
func (s *Store) AttachPermissionToRole(ctx context.Context, roleID, permissionID int64) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, roleID, permissionID)
	if err != nil {
		return fmt.Errorf("failed to attach permission to role: %w", err)
	}
	return nil
}

// DetachPermissionFromRole unlinks a permission from a role
func (s *Store) DetachPermissionFromRole(ctx context.Context, roleID, permissionID int64) (bool, error) {
	result, err := s.q.ExecContext(ctx,
		`DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
	if err != nil {
		return false, fmt.Errorf("failed to detach permission from role: %w", err)
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

// ReplaceRolePermissions sets the exact permission set of a role
func (s *Store) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to clear role permissions: %w", err)
	}
	for _, id := range permissionIDs {
		if err := s.AttachPermissionToRole(ctx, roleID, id); err != nil {
			return err
		}
	}
	return nil
}

func scanRole(row scanner) (*Role, error) {
	var role Role
	var tenantID sql.NullInt64
	var description sql.NullString
	err := row.Scan(&role.ID, &tenantID, &role.Slug, &role.Name, &description, &role.IsMutable, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("role %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan role: %w", err)
	}
	role.TenantID = nullInt64Ptr(tenantID)
	role.Description = description.String
	return &role, nil
}

// User role assignments

// AssignRole assigns a role to a user in a tenant. It reports false when the
// assignment already existed.
func (s *Store) AssignRole(ctx context.Context, ur *UserRole) (bool, error) {
	var count int
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM user_roles
		WHERE user_id = $1 AND role_id = $2 AND (tenant_id = $3 OR (tenant_id IS NULL AND $3 IS NULL))
	`, ur.UserID, ur.RoleID, ur.TenantID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check role assignment: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	if ur.GrantedAt.IsZero() {
		ur.GrantedAt = time.Now().UTC()
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role_id, tenant_id, granted_by, granted_at)
		VALUES ($1, $2, $3, $4, $5)
	`, ur.UserID, ur.RoleID, ur.TenantID, ur.GrantedBy, ur.GrantedAt)
	if err != nil {
		return false, fmt.Errorf("failed to assign role: %w", err)
	}
	return true, nil
}

// RevokeRole removes a role assignment. It reports whether a row was removed.
func (s *Store) RevokeRole(ctx context.Context, userID, roleID int64, tenantID *int64) (bool, error) {
	result, err := s.q.ExecContext(ctx, `
		DELETE FROM user_roles
		WHERE user_id = $1 AND role_id = $2 AND (tenant_id = $3 OR (tenant_id IS NULL AND $3 IS NULL))
	`, userID, roleID, tenantID)
	if err != nil {
		return false, fmt.Errorf("failed to revoke role: %w", err)
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

// ListUserRoles returns every role assignment of a user across tenants
func (s *Store) ListUserRoles(ctx context.Context, userID int64) ([]UserRole, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT ur.user_id, ur.role_id, ur.tenant_id, ur.granted_by, ur.granted_at, r.slug, r.name
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1
		ORDER BY ur.role_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user roles: %w", err)
	}
	defer rows.Close()

	var result []UserRole
	for rows.Next() {
		var ur UserRole
		var tenantID, grantedBy sql.NullInt64
		if err := rows.Scan(&ur.UserID, &ur.RoleID, &tenantID, &grantedBy, &ur.GrantedAt, &ur.RoleSlug, &ur.RoleName); err != nil {
			return nil, fmt.Errorf("failed to scan user role: %w", err)
		}
		ur.TenantID = nullInt64Ptr(tenantID)
		ur.GrantedBy = nullInt64Ptr(grantedBy)
		result = append(result, ur)
	}
	return result, rows.Err()
}

// Direct user permissions

// GrantUserPermission grants a permission directly to a user in a tenant.
// It reports false when the grant already existed.
func (s *Store) GrantUserPermission(ctx context.Context, up *UserPermission) (bool, error) {
	var count int
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM user_permissions
		WHERE user_id = $1 AND permission_id = $2 AND (tenant_id = $3 OR (tenant_id IS NULL AND $3 IS NULL))
	`, up.UserID, up.PermissionID, up.TenantID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check user permission: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	if up.GrantedAt.IsZero() {
		up.GrantedAt = time.Now().UTC()
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO user_permissions (user_id, permission_id, tenant_id, granted_at)
		VALUES ($1, $2, $3, $4)
	`, up.UserID, up.PermissionID, up.TenantID, up.GrantedAt)
	if err != nil {
		return false, fmt.Errorf("failed to grant user permission: %w", err)
	}
	return true, nil
}

// RevokeUserPermission removes a direct grant
func (s *Store) RevokeUserPermission(ctx context.Context, userID, permissionID int64, tenantID *int64) (bool, error) {
	result, err := s.q.ExecContext(ctx, `
		DELETE FROM user_permissions
		WHERE user_id = $1 AND permission_id = $2 AND (tenant_id = $3 OR (tenant_id IS NULL AND $3 IS NULL))
	`, userID, permissionID, tenantID)
	if err != nil {
		return false, fmt.Errorf("failed to revoke user permission: %w", err)
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

// ListUserPermissions returns the direct grants of a user across tenants
func (s *Store) ListUserPermissions(ctx context.Context, userID int64) ([]UserPermission, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT up.user_id, up.permission_id, up.tenant_id, up.granted_at, p.name
		FROM user_permissions up
		JOIN permissions p ON p.id = up.permission_id
		WHERE up.user_id = $1
		ORDER BY p.name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user permissions: %w", err)
	}
	defer rows.Close()

	var result []UserPermission
	for rows.Next() {
		var up UserPermission
		var tenantID sql.NullInt64
		if err := rows.Scan(&up.UserID, &up.PermissionID, &tenantID, &up.GrantedAt, &up.PermissionKey); err != nil {
			return nil, fmt.Errorf("failed to scan user permission: %w", err)
		}
		up.TenantID = nullInt64Ptr(tenantID)
		result = append(result, up)
	}
	return result, rows.Err()
}

// Overrides

const overrideColumns = `o.id, o.user_id, o.permission_id, o.team_id, o.effect, o.reason, o.expires_at, o.created_by, o.created_at, p.name`

// CreateOverride stores a new override
func (s *Store) CreateOverride(ctx context.Context, o *Override) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO user_permission_overrides (user_id, permission_id, team_id, effect, reason, expires_at, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, o.UserID, o.PermissionID, o.TenantID, string(o.Effect), o.Reason, o.ExpiresAt, o.CreatedBy, o.CreatedAt).Scan(&o.ID)
	if err != nil {
		return fmt.Errorf("failed to create override: %w", err)
	}
	return nil
}

// GetOverride retrieves an override by ID
func (s *Store) GetOverride(ctx context.Context, id int64) (*Override, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+overrideColumns+`
		FROM user_permission_overrides o
		JOIN permissions p ON p.id = o.permission_id
		WHERE o.id = $1
	`, id)
	return scanOverride(row)
}

// UpdateOverride changes an override's tenant, effect, reason and expiry
func (s *Store) UpdateOverride(ctx context.Context, o *Override) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE user_permission_overrides
		SET team_id = $1, effect = $2, reason = $3, expires_at = $4
		WHERE id = $5
	`, o.TenantID, string(o.Effect), o.Reason, o.ExpiresAt, o.ID)
	if err != nil {
		return fmt.Errorf("failed to update override: %w", err)
	}
	return expectAffected(result, "override", o.ID)
}

// DeleteOverride removes an override
func (s *Store) DeleteOverride(ctx context.Context, id int64) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM user_permission_overrides WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete override: %w", err)
	}
	return expectAffected(result, "override", id)
}

// ListOverrides returns every override of a user, expired ones included
func (s *Store) ListOverrides(ctx context.Context, userID int64) ([]Override, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+overrideColumns+`
		FROM user_permission_overrides o
		JOIN permissions p ON p.id = o.permission_id
		WHERE o.user_id = $1
		ORDER BY o.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list overrides: %w", err)
	}
	return scanOverrides(rows)
}

// OverridesFor returns the candidate overrides for one user and permission
// key: those scoped to tenantID and those with no tenant. Expiry is not
// filtered here.
func (s *Store) OverridesFor(ctx context.Context, userID int64, key string, tenantID *int64) ([]Override, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+overrideColumns+`
		FROM user_permission_overrides o
		JOIN permissions p ON p.id = o.permission_id
		WHERE o.user_id = $1 AND p.name = $2 AND (o.team_id = $3 OR o.team_id IS NULL)
	`, userID, key, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query overrides: %w", err)
	}
	return scanOverrides(rows)
}

// ExpiredOverrides returns overrides whose expiry is not after now
func (s *Store) ExpiredOverrides(ctx context.Context, now time.Time) ([]Override, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+overrideColumns+`
		FROM user_permission_overrides o
		JOIN permissions p ON p.id = o.permission_id
		WHERE o.expires_at IS NOT NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query expiring overrides: %w", err)
	}
	candidates, err := scanOverrides(rows)
	if err != nil {
		return nil, err
	}

	var expired []Override
	for _, o := range candidates {
		if !o.ActiveAt(now) {
			expired = append(expired, o)
		}
	}
	return expired, nil
}

func scanOverrides(rows *sql.Rows) ([]Override, error) {
	defer rows.Close()

	var result []Override
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *o)
	}
	return result, rows.Err()
}

func scanOverride(row scanner) (*Override, error) {
	var o Override
	var tenantID, createdBy sql.NullInt64
	var reason sql.NullString
	var expiresAt sql.NullTime
	var effect string
	err := row.Scan(&o.ID, &o.UserID, &o.PermissionID, &tenantID, &effect, &reason, &expiresAt, &createdBy, &o.CreatedAt, &o.PermissionKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("override %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan override: %w", err)
	}

	o.Effect = Effect(effect)
	o.TenantID = nullInt64Ptr(tenantID)
	o.CreatedBy = nullInt64Ptr(createdBy)
	o.Reason = reason.String
	if expiresAt.Valid {
		t := expiresAt.Time
		o.ExpiresAt = &t
	}
	return &o, nil
}

// Decision queries

// IsSuperAdmin reports whether the user holds the global super_admin role
func (s *Store) IsSuperAdmin(ctx context.Context, userID int64) (bool, error) {
	var count int
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1 AND r.slug = $2 AND r.tenant_id IS NULL AND ur.tenant_id IS NULL
	`, userID, RoleSuperAdmin).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check super admin: %w", err)
	}
	return count > 0, nil
}

// EffectivePermissionKeys returns the union of permissions granted to the
// user in a tenant through roles and direct grants
func (s *Store) EffectivePermissionKeys(ctx context.Context, userID int64, tenantID *int64) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT p.name FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		JOIN user_roles ur ON ur.role_id = rp.role_id
		WHERE ur.user_id = $1 AND (ur.tenant_id = $2 OR (ur.tenant_id IS NULL AND $2 IS NULL))
		UNION
		SELECT p.name FROM permissions p
		JOIN user_permissions up ON up.permission_id = p.id
		WHERE up.user_id = $1 AND (up.tenant_id = $2 OR (up.tenant_id IS NULL AND $2 IS NULL))
	`, userID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load effective permissions: %w", err)
	}
	keys, err := scanStrings(rows)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// HasRoleNamedInAnyTenant reports whether the user holds a role with one of
// the given names in any tenant
func (s *Store) HasRoleNamedInAnyTenant(ctx context.Context, userID int64, names []string) (bool, error) {
	if len(names) == 0 {
		return false, nil
	}

	placeholders := make([]string, len(names))
	args := []interface{}{userID}
	for i, name := range names {
		placeholders[i] = "$" + strconv.Itoa(i+2)
		args = append(args, name)
	}

	var count int
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1 AND r.name IN (`+strings.Join(placeholders, ", ")+`)
	`, args...).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check role names: %w", err)
	}
	return count > 0, nil
}

// UsersWithRole returns every user holding the role in any tenant
func (s *Store) UsersWithRole(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM user_roles WHERE role_id = $1 ORDER BY user_id`, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list role holders: %w", err)
	}
	return scanInt64s(rows)
}

// UsersWithPermission returns every user holding the permission directly or
// through a role
func (s *Store) UsersWithPermission(ctx context.Context, permissionID int64) ([]int64, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT user_id FROM user_permissions WHERE permission_id = $1
		UNION
		SELECT ur.user_id FROM user_roles ur
		JOIN role_permissions rp ON rp.role_id = ur.role_id
		WHERE rp.permission_id = $1
		ORDER BY 1
	`, permissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list permission holders: %w", err)
	}
	return scanInt64s(rows)
}

// Seeding

// SeedDefaults creates the built-in permissions and the global super_admin
// role when they are missing
func (s *Store) SeedDefaults(ctx context.Context) error {
	for _, p := range BuiltInPermissions() {
		_, err := s.GetPermissionByKey(ctx, p.Key)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		p.IsMutable = false
		if err := s.CreatePermission(ctx, &p); err != nil {
			return fmt.Errorf("failed to seed permission %s: %w", p.Key, err)
		}
	}

	_, err := s.GetRoleBySlug(ctx, RoleSuperAdmin, nil)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}

	superAdmin := &Role{
		Slug:        RoleSuperAdmin,
		Name:        "Super Admin",
		Description: "Unrestricted access to every tenant",
		IsMutable:   false,
	}
	if err := s.CreateRole(ctx, superAdmin); err != nil {
		return fmt.Errorf("failed to seed super admin role: %w", err)
	}
	return nil
}

// SeedTenantRoles creates the system roles of a tenant when missing and
// returns them
func (s *Store) SeedTenantRoles(ctx context.Context, tenantID int64) ([]Role, error) {
	var roles []Role
	for _, role := range TenantRoles() {
		existing, err := s.GetRoleBySlug(ctx, role.Slug, &tenantID)
		if err == nil {
			roles = append(roles, *existing)
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}

		id := tenantID
		role.TenantID = &id
		role.IsMutable = false
		if err := s.CreateRole(ctx, &role); err != nil {
			return nil, fmt.Errorf("failed to seed role %s: %w", role.Slug, err)
		}
		roles = append(roles, role)
	}
	return roles, nil
}

// SeedHubTenant provisions the administrative tenant with its system roles
// and gives its admin role every built-in permission. It returns the tenant
// and its admin role.
func (s *Store) SeedHubTenant(ctx context.Context, slug string) (*tenants.Tenant, *Role, error) {
	tenant, err := s.Tenants().GetTenantBySlug(ctx, slug)
	if errors.Is(err, tenants.ErrTenantNotFound) {
		tenant = &tenants.Tenant{Slug: slug, Name: "Hub"}
		err = s.Tenants().CreateTenant(ctx, tenant)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to seed hub tenant %s: %w", slug, err)
	}

	roles, err := s.SeedTenantRoles(ctx, tenant.ID)
	if err != nil {
		return nil, nil, err
	}
	var admin *Role
	for i := range roles {
		if roles[i].Slug == RoleAdmin {
			admin = &roles[i]
		}
	}
	if admin == nil {
		return nil, nil, fmt.Errorf("hub tenant %s has no admin role", slug)
	}

	for _, p := range BuiltInPermissions() {
		permission, err := s.GetPermissionByKey(ctx, p.Key)
		if err != nil {
			return nil, nil, err
		}
		if err := s.AttachPermissionToRole(ctx, admin.ID, permission.ID); err != nil {
			return nil, nil, err
		}
	}
	return tenant, admin, nil
}

// helpers

func expectAffected(result sql.Result, what string, id int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return nil
}

func nullInt64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()

	var result []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func scanInt64s(rows *sql.Rows) ([]int64, error) {
	defer rows.Close()

	var result []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, v)
	}
	return result, rows.Err()
}
