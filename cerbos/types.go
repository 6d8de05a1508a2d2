package cerbos

import (
	"fmt"
)

// Principal is the subject whose access is being checked.
type Principal struct {
	ID            string         `json:"id"`
	Roles         []string       `json:"roles"`
	Attributes    map[string]any `json:"attr,omitempty"`
	PolicyVersion string         `json:"policyVersion,omitempty"`
	Scope         string         `json:"scope,omitempty"`
}

// NewPrincipal creates a principal with the given id and roles.
func NewPrincipal(id string, roles ...string) *Principal {
	return &Principal{ID: id, Roles: roles}
}

// WithAttributes merges attrs into the principal attributes.
func (p *Principal) WithAttributes(attrs map[string]any) *Principal {
	for k, v := range attrs {
		p.WithAttr(k, v)
	}
	return p
}

// WithAttr sets a single attribute.
func (p *Principal) WithAttr(key string, value any) *Principal {
	if p.Attributes == nil {
		p.Attributes = make(map[string]any)
	}
	p.Attributes[key] = value
	return p
}

// WithPolicyVersion sets the policy version.
func (p *Principal) WithPolicyVersion(version string) *Principal {
	p.PolicyVersion = version
	return p
}

// WithScope sets the policy scope.
func (p *Principal) WithScope(scope string) *Principal {
	p.Scope = scope
	return p
}

// Validate checks that the principal can be sent to Cerbos.
func (p *Principal) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: principal is nil", ErrInvalidPrincipal)
	}
	if p.ID == "" {
		return fmt.Errorf("%w: id is empty", ErrInvalidPrincipal)
	}
	if len(p.Roles) == 0 {
		return fmt.Errorf("%w: principal %q has no roles", ErrInvalidPrincipal, p.ID)
	}
	for i, role := range p.Roles {
		if role == "" {
			return fmt.Errorf("%w: role %d of principal %q is empty", ErrInvalidPrincipal, i, p.ID)
		}
	}
	return nil
}

// Resource is the object an action is performed on.
type Resource struct {
	Kind          string         `json:"kind"`
	ID            string         `json:"id"`
	Attributes    map[string]any `json:"attr,omitempty"`
	PolicyVersion string         `json:"policyVersion,omitempty"`
	Scope         string         `json:"scope,omitempty"`
}

// NewResource creates a resource of the given kind and id.
func NewResource(kind, id string) *Resource {
	return &Resource{Kind: kind, ID: id}
}

// WithAttributes merges attrs into the resource attributes.
func (r *Resource) WithAttributes(attrs map[string]any) *Resource {
	for k, v := range attrs {
		r.WithAttr(k, v)
	}
	return r
}

// WithAttr sets a single attribute.
func (r *Resource) WithAttr(key string, value any) *Resource {
	if r.Attributes == nil {
		r.Attributes = make(map[string]any)
	}
	r.Attributes[key] = value
	return r
}

// WithPolicyVersion sets the policy version.
func (r *Resource) WithPolicyVersion(version string) *Resource {
	r.PolicyVersion = version
	return r
}

// WithScope sets the policy scope.
func (r *Resource) WithScope(scope string) *Resource {
	r.Scope = scope
	return r
}

// Validate checks that the resource can be sent to Cerbos.
func (r *Resource) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: resource is nil", ErrInvalidResource)
	}
	if r.Kind == "" {
		return fmt.Errorf("%w: kind is empty", ErrInvalidResource)
	}
	if r.ID == "" {
		return fmt.Errorf("%w: id of %q is empty", ErrInvalidResource, r.Kind)
	}
	return nil
}

// Effect is the outcome of a policy evaluation for one action.
type Effect string

// Effects returned by Cerbos.
const (
	EffectUnspecified Effect = "EFFECT_UNSPECIFIED"
	EffectAllow       Effect = "EFFECT_ALLOW"
	EffectDeny        Effect = "EFFECT_DENY"
	EffectNoMatch     Effect = "EFFECT_NO_MATCH"
)

// ResourceCheck asks for the effect of actions on one resource.
type ResourceCheck struct {
	Resource *Resource `json:"resource"`
	Actions  []string  `json:"actions"`
}

// CheckInput is a CheckResources request.
type CheckInput struct {
	RequestID string           `json:"requestId,omitempty"`
	Principal *Principal       `json:"principal"`
	Resources []*ResourceCheck `json:"resources"`
}

// Validate checks the principal, every resource and every action.
func (in *CheckInput) Validate() error {
	if in == nil {
		return fmt.Errorf("%w: check input is nil", ErrInvalidResource)
	}
	if err := in.Principal.Validate(); err != nil {
		return err
	}
	if len(in.Resources) == 0 {
		return fmt.Errorf("%w: no resources to check", ErrInvalidResource)
	}
	for _, rc := range in.Resources {
		if rc == nil {
			return fmt.Errorf("%w: resource entry is nil", ErrInvalidResource)
		}
		if err := rc.Resource.Validate(); err != nil {
			return err
		}
		if len(rc.Actions) == 0 {
			return fmt.Errorf("%w: no actions for %s:%s", ErrInvalidAction, rc.Resource.Kind, rc.Resource.ID)
		}
		for _, action := range rc.Actions {
			if action == "" {
				return fmt.Errorf("%w: empty action for %s:%s", ErrInvalidAction, rc.Resource.Kind, rc.Resource.ID)
			}
		}
	}
	return nil
}

// ResourceMeta identifies a checked resource in a result.
type ResourceMeta struct {
	ID            string `json:"id"`
	Kind          string `json:"kind"`
	PolicyVersion string `json:"policyVersion,omitempty"`
	Scope         string `json:"scope,omitempty"`
}

// ValidationError is a schema validation failure reported by Cerbos.
type ValidationError struct {
	Path    string `json:"path,omitempty"`
	Message string `json:"message,omitempty"`
	Source  string `json:"source,omitempty"`
}

// ResourceResult holds the effects computed for one resource.
type ResourceResult struct {
	Resource         ResourceMeta      `json:"resource"`
	Actions          map[string]Effect `json:"actions"`
	ValidationErrors []ValidationError `json:"validationErrors,omitempty"`
}

// IsAllowed reports whether action was explicitly allowed.
// Deny, no-match, unspecified and missing actions are all treated as denied.
func (r *ResourceResult) IsAllowed(action string) bool {
	if r == nil {
		return false
	}
	return r.Actions[action] == EffectAllow
}

// CheckResult is a CheckResources response.
type CheckResult struct {
	RequestID string            `json:"requestId,omitempty"`
	CallID    string            `json:"cerbosCallId,omitempty"`
	Results   []*ResourceResult `json:"results"`
}

// Find returns the result for the resource with the given kind and id.
func (r *CheckResult) Find(kind, id string) *ResourceResult {
	if r == nil {
		return nil
	}
	for _, res := range r.Results {
		if res != nil && res.Resource.Kind == kind && res.Resource.ID == id {
			return res
		}
	}
	return nil
}

// ServerInfo describes the Cerbos server build.
type ServerInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"buildDate"`
}
