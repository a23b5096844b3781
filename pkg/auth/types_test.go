package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthContext_UserID(t *testing.T) {
	tests := []struct {
		name    string
		authCtx *AuthContext
		want    int64
		wantErr bool
	}{
		{name: "nil context", authCtx: nil, wantErr: true},
		{name: "nil user", authCtx: &AuthContext{}, wantErr: true},
		{name: "zero id", authCtx: &AuthContext{User: &User{ID: 0}}, wantErr: true},
		{name: "valid user", authCtx: &AuthContext{User: &User{ID: 7}}, want: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.authCtx.UserID()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoIdentity)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseUserID(t *testing.T) {
	id, err := ParseUserID(" 42 ")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	_, err = ParseUserID("")
	assert.ErrorIs(t, err, ErrNoIdentity)

	_, err = ParseUserID("-3")
	assert.ErrorIs(t, err, ErrNoIdentity)

	_, err = ParseUserID("alice")
	assert.Error(t, err)
}
