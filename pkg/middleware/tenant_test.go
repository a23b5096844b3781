package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/hub/pkg/observability"
	"github.com/platinummonkey/hub/pkg/tenants"
)

type stubResolver struct {
	ids map[string]int64
	err error
}

func (s stubResolver) Resolve(ctx context.Context, path string) (*int64, error) {
	if s.err != nil {
		return nil, s.err
	}
	if id, ok := s.ids[path]; ok {
		return &id, nil
	}
	return nil, nil
}

func TestTenantContextMiddleware(t *testing.T) {
	resolver := stubResolver{ids: map[string]int64{"/tickets/1": 3}}

	t.Run("sets resolved tenant", func(t *testing.T) {
		var current *int64
		handler := TenantContextMiddleware(resolver, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			current = tenants.Current(r.Context())
		}))

		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/tickets/1", nil))
		require.NotNil(t, current)
		assert.Equal(t, int64(3), *current)
	})

	t.Run("unresolved path runs globally", func(t *testing.T) {
		called := false
		handler := TenantContextMiddleware(resolver, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			assert.Nil(t, tenants.Current(r.Context()))
			assert.True(t, tenants.IsSet(r.Context()))
		}))

		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/elsewhere", nil))
		assert.True(t, called)
	})

	t.Run("resolution error fails closed", func(t *testing.T) {
		var buf bytes.Buffer
		logger := observability.NewLogger(observability.InfoLevel, &buf)
		failing := stubResolver{err: errors.New("db down")}
		handler := TenantContextMiddleware(failing, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest("GET", "/tickets/1", nil))
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Contains(t, buf.String(), "Tenant resolution failed")
	})
}
