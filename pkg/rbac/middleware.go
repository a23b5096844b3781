package rbac

import (
	"errors"
	"io"
	"net/http"

	"github.com/platinummonkey/hub/pkg/httputil"
	"github.com/platinummonkey/hub/pkg/middleware"
	"github.com/platinummonkey/hub/pkg/observability"
)

// PermissionMiddleware guards routes with permission checks in the request's tenant
type PermissionMiddleware struct {
	checker Checker
	logger  *observability.Logger
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(checker Checker, logger *observability.Logger) *PermissionMiddleware {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, io.Discard)
	}
	return &PermissionMiddleware{
		checker: checker,
		logger:  logger,
	}
}

// Require creates middleware that allows the request when the caller holds
// any permission of the pipe-delimited expression
func (pm *PermissionMiddleware) Require(permissionExpr string) func(http.Handler) http.Handler {
	return pm.RequireAll(permissionExpr)
}

// RequireAll creates middleware that requires every one of the given
// expressions to be allowed
func (pm *PermissionMiddleware) RequireAll(permissionExprs ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := middleware.GetAuthContext(r).UserID()
			if err != nil {
				httputil.WriteUnauthorized(w, "Authentication required")
				return
			}

			for _, expr := range permissionExprs {
				allowed, err := pm.checker.Can(r.Context(), userID, expr)
				if errors.Is(err, ErrUnauthenticated) {
					httputil.WriteUnauthorized(w, "Authentication required")
					return
				}
				if err != nil {
					pm.logger.WithError(err).WithField("permission", expr).Error("Permission check failed")
					httputil.WriteErrorMessage(w, http.StatusInternalServerError, "Permission check failed")
					return
				}
				if !allowed {
					httputil.WriteForbidden(w, "Insufficient permissions")
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}
