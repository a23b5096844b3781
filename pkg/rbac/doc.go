// Package rbac provides multi-tenant role-based access control for the hub.
//
// # Overview
//
// Permissions are global, dotted keys such as "tickets.ticket.update". Roles
// bundle permissions and are either global or owned by one tenant. Users
// receive roles and direct permission grants per tenant, and per-user
// overrides can force a single permission on or off, optionally limited to a
// tenant and a lifetime.
//
// # Decisions
//
// Authorizer.Can evaluates a pipe-delimited expression ("a.view|a.edit") in
// the tenant carried by the context:
//
//	allowed, err := authorizer.Can(ctx, userID, "tickets.ticket.update|tickets.ticket.manage")
//
// A holder of the global super_admin role is always allowed. Otherwise each
// key is tried in turn: an active allow override grants it, an active deny
// override skips it, then the user's cached role-derived and direct
// permissions are consulted. When no tenant is in scope, keys in the hub
// namespace are also granted to anyone holding a "hub admin" or "hub user"
// role in some tenant. Any store failure yields a denial and an error.
//
// Use tenants.Within to evaluate against another tenant temporarily:
//
//	err := tenants.Within(ctx, &otherTenantID, func(ctx context.Context) error {
//		ok, err := authorizer.Can(ctx, userID, "billing.invoice.view")
//		...
//	})
//
// # Caching
//
// Effective permission sets are cached per user and tenant behind a
// CacheBackend (MemoryBackend or RedisBackend). Entries are keyed by a
// per-user generation counter; invalidation bumps the counter so a load that
// started before a write can never be stored under the new generation.
//
// # Administration
//
// Manager performs every write in a transaction, then invalidates the caches
// of affected users before returning, then records an audit event:
//
//	manager := rbac.NewManager(db, rbac.Config{HubSlug: "hub", AuditLogger: auditLogger})
//	if err := manager.Initialize(ctx); err != nil {
//		return err
//	}
//	tenant, roles, err := manager.ProvisionTenant(ctx, "tickets", "Tickets")
//	err = manager.AssignRole(ctx, userID, roles[0].ID, &tenant.ID)
//
// System permissions and roles are immutable; updating or deleting them
// returns ErrImmutable.
//
// # HTTP
//
// PermissionMiddleware guards routes:
//
//	router.Handle("/api/tickets/{id}", pm.Require("tickets.ticket.view")(handler))
//
// Manager.RegisterRoutes mounts the admin API under /api/hub/rbac.
package rbac
