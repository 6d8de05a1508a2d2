package gincerbos

import (
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/gin-cerbos/cerbos"
)

type accountUser struct {
	ID         string   `json:"id"`
	Roles      []string `json:"roles"`
	Department string   `json:"department"`
}

type providerUser struct{ name string }

func (u providerUser) CerbosPrincipal() *cerbos.Principal {
	return cerbos.NewPrincipal(u.name, "provider")
}

// sessionUser hands out the principal it holds rather than a fresh one.
type sessionUser struct{ principal *cerbos.Principal }

func (u *sessionUser) CerbosPrincipal() *cerbos.Principal {
	return u.principal
}

func TestAnonymousPrincipal(t *testing.T) {
	t.Parallel()

	p := AnonymousPrincipal()

	assert.Equal(t, AnonymousID, p.ID)
	assert.Equal(t, []string{AnonymousRole}, p.Roles)
	assert.NoError(t, p.Validate())
}

func TestDefaultPrincipal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		user    any
		want    *cerbos.Principal
		wantErr error
	}{
		{
			name: "principal pointer",
			user: cerbos.NewPrincipal("alice", "admin"),
			want: cerbos.NewPrincipal("alice", "admin"),
		},
		{
			name: "principal value",
			user: *cerbos.NewPrincipal("bob", "user"),
			want: cerbos.NewPrincipal("bob", "user"),
		},
		{
			name: "principal provider",
			user: providerUser{name: "carol"},
			want: cerbos.NewPrincipal("carol", "provider"),
		},
		{
			name: "gin.H with attributes",
			user: gin.H{"id": "dave", "roles": []string{"user"}, "dept": "eng"},
			want: cerbos.NewPrincipal("dave", "user").WithAttr("dept", "eng"),
		},
		{
			name: "map with numeric id and decoded JSON roles",
			user: map[string]any{"id": 42, "roles": []any{"user", "editor"}},
			want: cerbos.NewPrincipal("42", "user", "editor"),
		},
		{
			name: "string map with single role",
			user: map[string]string{"id": "erin", "roles": "admin"},
			want: cerbos.NewPrincipal("erin", "admin"),
		},
		{
			name: "struct with json tags",
			user: &accountUser{ID: "frank", Roles: []string{"user"}, Department: "sales"},
			want: cerbos.NewPrincipal("frank", "user").WithAttr("department", "sales"),
		},
		{
			name:    "roles of wrong type",
			user:    gin.H{"id": "gina", "roles": 7},
			wantErr: ErrInvalidUser,
		},
		{
			name:    "non-string role",
			user:    gin.H{"id": "hank", "roles": []any{"user", 3}},
			wantErr: ErrInvalidUser,
		},
		{
			name:    "unsupported type",
			user:    "ivan",
			wantErr: ErrInvalidUser,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := DefaultPrincipal(tt.user)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaultPrincipal_ClonesPointer(t *testing.T) {
	t.Parallel()

	in := cerbos.NewPrincipal("alice", "admin")
	got, err := DefaultPrincipal(in)
	require.NoError(t, err)

	got.PolicyVersion = "v2"
	assert.Empty(t, in.PolicyVersion)
}

func TestDefaultPrincipal_ClonesProviderResult(t *testing.T) {
	t.Parallel()

	user := &sessionUser{principal: cerbos.NewPrincipal("alice", "admin")}
	got, err := DefaultPrincipal(user)
	require.NoError(t, err)
	require.NotSame(t, user.principal, got)

	got.Scope = "acme"
	assert.Empty(t, user.principal.Scope)
}

func TestDefaultPrincipal_ProviderWithoutPrincipal(t *testing.T) {
	t.Parallel()

	got, err := DefaultPrincipal(&sessionUser{})

	assert.ErrorIs(t, err, ErrInvalidUser)
	assert.Nil(t, got)
}

func TestIsNilUser(t *testing.T) {
	t.Parallel()

	var nilPrincipal *cerbos.Principal
	var nilMap map[string]any

	assert.True(t, isNilUser(nil))
	assert.True(t, isNilUser(nilPrincipal))
	assert.True(t, isNilUser(nilMap))
	assert.False(t, isNilUser(gin.H{}))
	assert.False(t, isNilUser(accountUser{}))
}
