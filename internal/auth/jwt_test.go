package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuthenticator(t *testing.T, issuer string) *Authenticator {
	t.Helper()
	a, err := NewAuthenticator(Config{Secret: []byte("test-secret"), Issuer: issuer}, nil)
	require.NoError(t, err)
	return a
}

func TestNewAuthenticator_RequiresSecret(t *testing.T) {
	t.Parallel()

	_, err := NewAuthenticator(Config{}, nil)

	assert.Error(t, err)
}

func TestAuthenticator_Authenticate(t *testing.T) {
	t.Parallel()

	a := newTestAuthenticator(t, "demo")
	other, err := NewAuthenticator(Config{Secret: []byte("other-secret"), Issuer: "demo"}, nil)
	require.NoError(t, err)
	wrongIssuer := newTestAuthenticator(t, "elsewhere")

	valid, err := a.Sign("alice", []string{"user", "editor"}, time.Hour, map[string]any{"department": "eng"})
	require.NoError(t, err)
	expired, err := a.Sign("alice", []string{"user"}, -time.Hour, nil)
	require.NoError(t, err)
	foreign, err := other.Sign("alice", []string{"admin"}, time.Hour, nil)
	require.NoError(t, err)
	issuedElsewhere, err := wrongIssuer.Sign("alice", []string{"admin"}, time.Hour, nil)
	require.NoError(t, err)

	t.Run("valid token", func(t *testing.T) {
		t.Parallel()

		user, err := a.Authenticate(valid)
		require.NoError(t, err)
		assert.Equal(t, "alice", user["id"])
		assert.Equal(t, []any{"user", "editor"}, user["roles"])
		assert.Equal(t, "eng", user["department"])
	})

	for name, token := range map[string]string{
		"expired":      expired,
		"wrong secret": foreign,
		"wrong issuer": issuedElsewhere,
		"not a token":  "abc.def.ghi",
		"empty":        "",
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := a.Authenticate(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestAuthenticator_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	a := newTestAuthenticator(t, "")
	token, err := a.Sign("bob", []string{"user"}, time.Hour, nil)
	require.NoError(t, err)

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantUser   bool
	}{
		{name: "no header is anonymous", wantStatus: http.StatusOK},
		{name: "valid bearer", header: "Bearer " + token, wantStatus: http.StatusOK, wantUser: true},
		{name: "lowercase scheme", header: "bearer " + token, wantStatus: http.StatusOK, wantUser: true},
		{name: "basic scheme", header: "Basic Ym9iOnB3", wantStatus: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer nope", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var user any
			var found bool
			router := gin.New()
			router.Use(a.Middleware())
			router.GET("/", func(c *gin.Context) {
				user, found = c.Get("user")
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(AuthorizationHeader, tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantUser, found)
			if tt.wantUser {
				assert.Equal(t, "bob", user.(map[string]any)["id"])
			}
		})
	}
}
