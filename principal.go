package gincerbos

import (
	"context"
	"fmt"
	"reflect"

	"github.com/gin-gonic/gin"
	"github.com/mitchellh/mapstructure"

	"github.com/vyrodovalexey/gin-cerbos/cerbos"
)

// Anonymous principal identity.
const (
	AnonymousID   = "anonymous"
	AnonymousRole = "anonymous"
)

// User map keys read by DefaultPrincipal.
const (
	userKeyID    = "id"
	userKeyRoles = "roles"
)

// PrincipalFunc turns request user data into a principal. It is only
// called when a user is present.
type PrincipalFunc func(ctx context.Context, user any) (*cerbos.Principal, error)

// PrincipalProvider is implemented by user types that know their principal.
type PrincipalProvider interface {
	CerbosPrincipal() *cerbos.Principal
}

// AnonymousPrincipal returns the principal used for requests without a user.
// Cerbos rejects principals without roles, so it carries the anonymous role.
func AnonymousPrincipal() *cerbos.Principal {
	return cerbos.NewPrincipal(AnonymousID, AnonymousRole)
}

// DefaultPrincipal derives a principal from user:
//   - *cerbos.Principal and cerbos.Principal are copied;
//   - PrincipalProvider values supply their own principal, which is copied;
//   - maps use "id" and "roles", every other key becomes an attribute;
//   - structs are decoded to a map using their json tags, then treated as maps.
func DefaultPrincipal(user any) (*cerbos.Principal, error) {
	switch u := user.(type) {
	case *cerbos.Principal:
		clone := *u
		return &clone, nil
	case cerbos.Principal:
		return &u, nil
	case PrincipalProvider:
		provided := u.CerbosPrincipal()
		if provided == nil {
			return nil, fmt.Errorf("%w: %T provided no principal", ErrInvalidUser, user)
		}
		clone := *provided
		return &clone, nil
	case gin.H:
		return principalFromMap(u)
	case map[string]any:
		return principalFromMap(u)
	case map[string]string:
		m := make(map[string]any, len(u))
		for k, v := range u {
			m[k] = v
		}
		return principalFromMap(m)
	}

	m, err := structToMap(user)
	if err != nil {
		return nil, err
	}
	return principalFromMap(m)
}

func principalFromMap(m map[string]any) (*cerbos.Principal, error) {
	p := &cerbos.Principal{}

	if id, ok := m[userKeyID]; ok && id != nil {
		p.ID = fmt.Sprint(id)
	}

	roles, err := toRoles(m[userKeyRoles])
	if err != nil {
		return nil, err
	}
	p.Roles = roles

	for k, v := range m {
		if k == userKeyID || k == userKeyRoles {
			continue
		}
		p.WithAttr(k, v)
	}
	return p, nil
}

func toRoles(v any) ([]string, error) {
	switch roles := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{roles}, nil
	case []string:
		return append([]string(nil), roles...), nil
	case []any:
		out := make([]string, 0, len(roles))
		for _, r := range roles {
			s, ok := r.(string)
			if !ok {
				return nil, fmt.Errorf("%w: role %v is %T, not a string", ErrInvalidUser, r, r)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: roles of type %T", ErrInvalidUser, v)
	}
}

func structToMap(user any) (map[string]any, error) {
	v := reflect.ValueOf(user)
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: unsupported user type %T", ErrInvalidUser, user)
	}

	var m map[string]any
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  &m,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUser, err)
	}
	if err := dec.Decode(v.Interface()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUser, err)
	}
	return m, nil
}

// isNilUser reports whether user is absent.
func isNilUser(user any) bool {
	if user == nil {
		return true
	}
	v := reflect.ValueOf(user)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Interface, reflect.Slice:
		return v.IsNil()
	default:
		return false
	}
}
