package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-tickets/internal/model"
	"github.com/iliyamo/cinema-tickets/internal/utils"
)

func TestJWTGuardVerify(t *testing.T) {
	g := NewJWTGuard("k")
	tok, err := utils.NewAccessToken("k", 7, "user", "alice", time.Hour)
	require.NoError(t, err)

	for _, cred := range []string{tok.Token, "Bearer " + tok.Token, "bearer  " + tok.Token} {
		p, err := g.Verify(cred)
		require.NoError(t, err)
		assert.Equal(t, Principal{UserID: 7, Username: "alice", Role: model.RoleUser}, p)
	}
}

func TestJWTGuardRejects(t *testing.T) {
	g := NewJWTGuard("k")
	badRole, err := utils.NewAccessToken("k", 7, "admin", "", time.Hour)
	require.NoError(t, err)
	expired, err := utils.NewAccessToken("k", 7, "user", "", -time.Second)
	require.NoError(t, err)

	for name, cred := range map[string]string{
		"empty":        "",
		"bearer only":  "Bearer ",
		"unknown role": badRole.Token,
		"expired":      expired.Token,
		"junk":         "Bearer abc",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := g.Verify(cred)
			assert.ErrorIs(t, err, ErrUnauthorized)
		})
	}
}

func TestAuthorize(t *testing.T) {
	user := &Principal{UserID: 1, Role: model.RoleUser}
	manager := &Principal{UserID: 2, Role: model.RoleManager}

	tests := []struct {
		name  string
		p     *Principal
		roles []model.Role
		want  Verdict
	}{
		{"anonymous", nil, []model.Role{model.RoleUser}, Unauthenticated},
		{"any role", manager, nil, Allow},
		{"user reserves", user, []model.Role{model.RoleUser}, Allow},
		{"manager cannot reserve", manager, []model.Role{model.RoleUser}, Forbidden},
		{"manager schedules", manager, []model.Role{model.RoleManager}, Allow},
		{"user cannot schedule", user, []model.Role{model.RoleManager}, Forbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Authorize(tt.p, tt.roles...))
		})
	}
	assert.Equal(t, "forbidden", Forbidden.String())
}
