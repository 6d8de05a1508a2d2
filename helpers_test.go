package gincerbos

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/gin-cerbos/cerbos"
)

// fakeClient allows an action when allow returns true and records every
// check it receives.
type fakeClient struct {
	mu     sync.Mutex
	allow  func(p *cerbos.Principal, r *cerbos.Resource, action string) bool
	err    error
	inputs []*cerbos.CheckInput
	closed bool
}

func allowRole(role string) func(*cerbos.Principal, *cerbos.Resource, string) bool {
	return func(p *cerbos.Principal, _ *cerbos.Resource, _ string) bool {
		for _, r := range p.Roles {
			if r == role {
				return true
			}
		}
		return false
	}
}

func (f *fakeClient) IsAllowed(ctx context.Context, p *cerbos.Principal, r *cerbos.Resource, action string) (bool, error) {
	result, err := f.CheckResources(ctx, &cerbos.CheckInput{
		Principal: p,
		Resources: []*cerbos.ResourceCheck{{Resource: r, Actions: []string{action}}},
	})
	if err != nil {
		return false, err
	}
	return result.Find(r.Kind, r.ID).IsAllowed(action), nil
}

func (f *fakeClient) CheckResources(_ context.Context, in *cerbos.CheckInput) (*cerbos.CheckResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}

	result := &cerbos.CheckResult{}
	for _, rc := range in.Resources {
		res := &cerbos.ResourceResult{
			Resource: cerbos.ResourceMeta{
				Kind:          rc.Resource.Kind,
				ID:            rc.Resource.ID,
				PolicyVersion: rc.Resource.PolicyVersion,
				Scope:         rc.Resource.Scope,
			},
			Actions: map[string]cerbos.Effect{},
		}
		for _, action := range rc.Actions {
			effect := cerbos.EffectDeny
			if f.allow != nil && f.allow(in.Principal, rc.Resource, action) {
				effect = cerbos.EffectAllow
			}
			res.Actions[action] = effect
		}
		result.Results = append(result.Results, res)
	}
	return result, nil
}

func (f *fakeClient) ServerInfo(context.Context) (*cerbos.ServerInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &cerbos.ServerInfo{Version: "test"}, nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeClient) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

func (f *fakeClient) lastInput() *cerbos.CheckInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inputs) == 0 {
		return nil
	}
	return f.inputs[len(f.inputs)-1]
}

// newTestPlugin builds a plugin around client with an isolated registry.
func newTestPlugin(t *testing.T, cfg *Config, client cerbos.Client, opts ...Option) (*Plugin, *prometheus.Registry) {
	t.Helper()

	reg := prometheus.NewRegistry()
	opts = append([]Option{WithClient(client), WithRegisterer(reg)}, opts...)
	p, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p, reg
}
