package middleware

import (
	"context"
	"net/http"

	"github.com/platinummonkey/hub/pkg/httputil"
	"github.com/platinummonkey/hub/pkg/observability"
	"github.com/platinummonkey/hub/pkg/tenants"
)

// TenantResolver resolves the tenant named by a request path
type TenantResolver interface {
	Resolve(ctx context.Context, path string) (*int64, error)
}

// TenantContextMiddleware sets the current tenant for the whole request
func TenantContextMiddleware(resolver TenantResolver, logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID, err := resolver.Resolve(r.Context(), r.URL.Path)
			if err != nil {
				if logger != nil {
					logger.WithError(err).WithField("path", r.URL.Path).Error("Tenant resolution failed")
				}
				httputil.WriteInternalError(w)
				return
			}

			ctx := tenants.WithCurrent(r.Context(), tenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
