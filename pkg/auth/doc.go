// Package auth holds the authenticated identity the hub authorizes against.
//
// The hub does not authenticate users itself. A session layer in front of
// it establishes who the caller is and hands the identity over, either as
// a trusted request header or by placing an AuthContext on the request
// context directly:
//
//	authCtx := &auth.AuthContext{User: &auth.User{ID: 42}, Source: auth.SourceHeader}
//	ctx = contextkeys.WithAuth(ctx, authCtx)
//
// Everything downstream (tenant resolution, rbac.Authorizer, the admin API)
// reads the identity back through middleware.GetAuthContext. A request
// without an identity is never treated as an anonymous user; the
// authorization layer rejects it with rbac.ErrUnauthenticated.
//
// # Related Packages
//
//   - pkg/middleware: identity and tenant middleware
//   - pkg/rbac: permission decisions for the identity
package auth
