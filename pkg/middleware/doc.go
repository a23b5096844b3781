// Package middleware provides the HTTP middleware that establishes who is
// calling and which tenant a request belongs to.
//
// # Middleware Components
//
// IdentityMiddleware: trusted identity header set by the session layer
//
//	identity := middleware.NewIdentityMiddleware("X-Hub-User-ID", false)
//	router.Use(identity.Handler)
//	// Parses the user id and adds an auth.AuthContext to the request
//
// TenantContextMiddleware: tenant from the request path
//
//	router.Use(middleware.TenantContextMiddleware(resolver, logger))
//	// /api/tickets/... runs with the tickets tenant as tenants.Current
//
// Tenant resolution failures fail closed with 500. Paths that name no known
// tenant run in the global (nil tenant) context.
//
// # Related Packages
//
//   - pkg/auth: identity types
//   - pkg/tenants: tenant resolution and request scope
//   - pkg/rbac: permission checking
package middleware
