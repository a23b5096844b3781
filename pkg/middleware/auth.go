package middleware

import (
	"net/http"
	"strconv"

	"github.com/platinummonkey/hub/pkg/auth"
	"github.com/platinummonkey/hub/pkg/contextkeys"
	"github.com/platinummonkey/hub/pkg/httputil"
)

// DefaultUserHeader carries the user id set by the upstream session layer
const DefaultUserHeader = "X-Hub-User-ID"

// IdentityMiddleware reads the user identity established upstream
type IdentityMiddleware struct {
	header   string
	optional bool // If true, allow requests without identity
}

// NewIdentityMiddleware creates a new identity middleware
func NewIdentityMiddleware(header string, optional bool) *IdentityMiddleware {
	if header == "" {
		header = DefaultUserHeader
	}
	return &IdentityMiddleware{
		header:   header,
		optional: optional,
	}
}

// Handler wraps an HTTP handler with identity extraction
func (m *IdentityMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// An embedding host may already have placed the identity on the context
		if existing := GetAuthContext(r); existing != nil {
			if _, err := existing.UserID(); err == nil {
				next.ServeHTTP(w, r)
				return
			}
		}

		raw := r.Header.Get(m.header)
		if raw == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "missing user identity")
			return
		}

		userID, err := auth.ParseUserID(raw)
		if err != nil {
			httputil.WriteUnauthorized(w, "invalid user identity")
			return
		}

		authCtx := &auth.AuthContext{
			User:   &auth.User{ID: userID},
			Source: auth.SourceHeader,
		}

		ctx := contextkeys.WithAuth(r.Context(), authCtx)
		ctx = contextkeys.WithUserID(ctx, strconv.FormatInt(userID, 10))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAuthContext extracts auth context from request
func GetAuthContext(r *http.Request) *auth.AuthContext {
	authCtx, ok := r.Context().Value(contextkeys.AuthKey).(*auth.AuthContext)
	if !ok {
		return nil
	}
	return authCtx
}
