// Package tenants models the hub's tenants (the apps hosted under one
// deployment, such as tickets or newsletters) and the request-scoped
// "current tenant" used by authorization.
//
// # Resolution
//
// A Resolver maps a request path to a tenant. The first path segment names
// the tenant; when the first segment is the API namespace marker the second
// segment is used instead:
//
//	/tickets/42          -> tickets
//	/api/tickets/42      -> tickets
//	/helpdesk/42         -> tickets (legacy alias)
//	/unknown/1           -> no tenant
//
// Unknown slugs resolve to no tenant rather than an error. Only store
// failures are returned as errors.
//
// # Current tenant
//
// The current tenant travels on context.Context:
//
//	ctx = tenants.WithCurrent(ctx, &tenantID)
//	id := tenants.Current(ctx) // nil means global
//
// Within runs a function under a different tenant. Contexts are immutable,
// so the caller's tenant is unchanged once Within returns, however deeply
// scopes are nested.
package tenants
