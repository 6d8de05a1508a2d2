// Package auth authenticates demo server requests with HS256 bearer tokens
// and stores the token claims as the request user.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/vyrodovalexey/gin-cerbos/internal/observability"
)

// Defaults.
const (
	AuthorizationHeader = "Authorization"
	BearerPrefix        = "Bearer "
	DefaultRolesClaim   = "roles"
	DefaultClockSkew    = 30 * time.Second
)

// Errors.
var (
	ErrNoToken      = errors.New("no bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Config configures token validation.
type Config struct {
	Secret     []byte
	Issuer     string
	RolesClaim string
	ClockSkew  time.Duration
	// UserKey is the gin context key the user is stored under.
	UserKey string
}

// Authenticator validates bearer tokens.
type Authenticator struct {
	cfg    Config
	logger observability.Logger
}

// NewAuthenticator creates an authenticator. A nil logger discards output.
func NewAuthenticator(cfg Config, logger observability.Logger) (*Authenticator, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("jwt secret is required")
	}
	if cfg.RolesClaim == "" {
		cfg.RolesClaim = DefaultRolesClaim
	}
	if cfg.ClockSkew == 0 {
		cfg.ClockSkew = DefaultClockSkew
	}
	if cfg.UserKey == "" {
		cfg.UserKey = "user"
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Authenticator{cfg: cfg, logger: logger}, nil
}

// Authenticate validates token and returns the user it describes: "id" is
// the subject, "roles" the roles claim, and other private claims are kept.
func (a *Authenticator) Authenticate(token string) (map[string]any, error) {
	opts := []jwt.ParseOption{
		jwt.WithKey(jwa.HS256, a.cfg.Secret),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(a.cfg.ClockSkew),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}

	tok, err := jwt.Parse([]byte(token), opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if tok.Subject() == "" {
		return nil, fmt.Errorf("%w: subject is empty", ErrInvalidToken)
	}

	user := make(map[string]any, len(tok.PrivateClaims())+1)
	for k, v := range tok.PrivateClaims() {
		if k == a.cfg.RolesClaim {
			continue
		}
		user[k] = v
	}
	user["id"] = tok.Subject()
	if roles, ok := tok.PrivateClaims()[a.cfg.RolesClaim]; ok {
		user["roles"] = roles
	}
	return user, nil
}

// Middleware stores the authenticated user in the gin context. Requests
// without a token continue anonymously; invalid tokens are rejected with 401.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := extractBearer(c.Request)
		if errors.Is(err, ErrNoToken) {
			c.Next()
			return
		}
		if err == nil {
			var user map[string]any
			user, err = a.Authenticate(token)
			if err == nil {
				c.Set(a.cfg.UserKey, user)
				c.Next()
				return
			}
		}

		a.logger.WithContext(c.Request.Context()).Debug("authentication failed",
			observability.String("path", c.Request.URL.Path),
			observability.Error(err),
		)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":   http.StatusText(http.StatusUnauthorized),
			"message": "invalid bearer token",
		})
	}
}

func extractBearer(r *http.Request) (string, error) {
	header := r.Header.Get(AuthorizationHeader)
	if header == "" {
		return "", ErrNoToken
	}
	if len(header) <= len(BearerPrefix) || !strings.EqualFold(header[:len(BearerPrefix)], BearerPrefix) {
		return "", fmt.Errorf("%w: authorization header is not a bearer token", ErrInvalidToken)
	}
	return strings.TrimSpace(header[len(BearerPrefix):]), nil
}

// Sign issues an HS256 token for subject with roles. It backs the demo's
// token endpoint and tests.
func (a *Authenticator) Sign(subject string, roles []string, ttl time.Duration, claims map[string]any) (string, error) {
	now := time.Now()
	b := jwt.NewBuilder().
		Subject(subject).
		IssuedAt(now).
		Expiration(now.Add(ttl)).
		Claim(a.cfg.RolesClaim, roles)
	if a.cfg.Issuer != "" {
		b = b.Issuer(a.cfg.Issuer)
	}
	for k, v := range claims {
		b = b.Claim(k, v)
	}

	tok, err := b.Build()
	if err != nil {
		return "", fmt.Errorf("failed to build token: %w", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, a.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return string(signed), nil
}
