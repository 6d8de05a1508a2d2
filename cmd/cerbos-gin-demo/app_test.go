package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	gincerbos "github.com/vyrodovalexey/gin-cerbos"
	"github.com/vyrodovalexey/gin-cerbos/cerbos"
	"github.com/vyrodovalexey/gin-cerbos/internal/config"
	"github.com/vyrodovalexey/gin-cerbos/internal/observability"
)

const testSecret = "demo-secret"

// ownerOnly allows every action to principals with the owner role and read
// to everyone else.
type ownerOnly struct {
	err error
}

func (o *ownerOnly) IsAllowed(ctx context.Context, p *cerbos.Principal, r *cerbos.Resource, action string) (bool, error) {
	result, err := o.CheckResources(ctx, &cerbos.CheckInput{
		Principal: p,
		Resources: []*cerbos.ResourceCheck{{Resource: r, Actions: []string{action}}},
	})
	if err != nil {
		return false, err
	}
	return result.Find(r.Kind, r.ID).IsAllowed(action), nil
}

func (o *ownerOnly) CheckResources(_ context.Context, in *cerbos.CheckInput) (*cerbos.CheckResult, error) {
	if o.err != nil {
		return nil, o.err
	}
	owner := false
	for _, role := range in.Principal.Roles {
		owner = owner || role == "owner"
	}

	result := &cerbos.CheckResult{}
	for _, rc := range in.Resources {
		res := &cerbos.ResourceResult{
			Resource: cerbos.ResourceMeta{Kind: rc.Resource.Kind, ID: rc.Resource.ID},
			Actions:  map[string]cerbos.Effect{},
		}
		for _, action := range rc.Actions {
			effect := cerbos.EffectDeny
			if owner || action == "read" {
				effect = cerbos.EffectAllow
			}
			res.Actions[action] = effect
		}
		result.Results = append(result.Results, res)
	}
	return result, nil
}

func (o *ownerOnly) ServerInfo(context.Context) (*cerbos.ServerInfo, error) {
	if o.err != nil {
		return nil, o.err
	}
	return &cerbos.ServerInfo{Version: "0.40.0"}, nil
}

func (o *ownerOnly) Close() error { return nil }

func testConfig(hookEnabled bool) *config.Config {
	cfg := &config.Config{
		Auth: config.AuthConfig{JWTSecret: testSecret},
		Cerbos: gincerbos.Config{
			Hook: gincerbos.HookConfig{Enabled: hookEnabled},
		},
		Routes: []config.RouteRule{
			{Method: http.MethodGet, Path: "/posts/:id", Kind: "post", Action: "read", IDParam: "id"},
			{Method: http.MethodDelete, Path: "/posts/:id", Kind: "post", Action: "delete", IDParam: "id"},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, client cerbos.Client) *application {
	t.Helper()
	gin.SetMode(gin.TestMode)

	app, err := newApplication(cfg, zap.NewNop(), observability.NopLogger(), gincerbos.WithClient(client))
	require.NoError(t, err)
	t.Cleanup(func() { app.close(context.Background()) })
	return app
}

func bearer(t *testing.T, cfg *config.Config, subject string, roles ...string) string {
	t.Helper()
	a, err := newAuthenticator(cfg, nil)
	require.NoError(t, err)
	token, err := a.Sign(subject, roles, time.Hour, nil)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestApplication_Routes(t *testing.T) {
	for _, hookEnabled := range []bool{true, false} {
		t.Run("hook enabled "+strconv.FormatBool(hookEnabled), func(t *testing.T) {
			cfg := testConfig(hookEnabled)
			app := newTestApp(t, cfg, &ownerOnly{})

			tests := []struct {
				name       string
				method     string
				auth       string
				wantStatus int
				wantBody   map[string]any
			}{
				{
					name:       "owner deletes",
					method:     http.MethodDelete,
					auth:       bearer(t, cfg, "alice", "owner"),
					wantStatus: http.StatusOK,
					wantBody: map[string]any{
						"kind": "post", "id": "7", "action": "delete", "principal": "alice",
						"actions": []any{"delete", "read"},
					},
				},
				{
					name:       "user reads",
					method:     http.MethodGet,
					auth:       bearer(t, cfg, "bob", "user"),
					wantStatus: http.StatusOK,
					wantBody: map[string]any{
						"kind": "post", "id": "7", "action": "read", "principal": "bob",
						"actions": []any{"read"},
					},
				},
				{
					name:       "user cannot delete",
					method:     http.MethodDelete,
					auth:       bearer(t, cfg, "bob", "user"),
					wantStatus: http.StatusForbidden,
				},
				{
					name:       "anonymous reads",
					method:     http.MethodGet,
					wantStatus: http.StatusOK,
					wantBody: map[string]any{
						"kind": "post", "id": "7", "action": "read", "principal": gincerbos.AnonymousID,
						"actions": []any{"read"},
					},
				},
				{
					name:       "invalid token",
					method:     http.MethodGet,
					auth:       "Bearer garbage",
					wantStatus: http.StatusUnauthorized,
				},
			}

			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					req := httptest.NewRequest(tt.method, "/posts/7", nil)
					if tt.auth != "" {
						req.Header.Set("Authorization", tt.auth)
					}
					w := httptest.NewRecorder()
					app.engine.ServeHTTP(w, req)

					assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
					assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
					if tt.wantBody != nil {
						var body map[string]any
						require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
						assert.Equal(t, tt.wantBody, body)
					}
				})
			}
		})
	}
}

func TestApplication_Health(t *testing.T) {
	tests := []struct {
		name       string
		client     *ownerOnly
		wantStatus int
	}{
		{name: "cerbos reachable", client: &ownerOnly{}, wantStatus: http.StatusOK},
		{
			name:       "cerbos down",
			client:     &ownerOnly{err: &cerbos.UnavailableError{Target: "cerbos", Cause: errors.New("refused")}},
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(t, testConfig(true), tt.client)

			w := httptest.NewRecorder()
			app.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestApplication_Metrics(t *testing.T) {
	cfg := testConfig(true)
	app := newTestApp(t, cfg, &ownerOnly{})

	req := httptest.NewRequest(http.MethodDelete, "/posts/1", nil)
	req.Header.Set("Authorization", bearer(t, cfg, "bob", "user"))
	app.engine.ServeHTTP(httptest.NewRecorder(), req)

	w := httptest.NewRecorder()
	app.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `gincerbos_cerbos_checks_total{result="denied",transport="grpc"} 1`)
	assert.Contains(t, body, `gincerbos_cerbos_hook_denials_total{reason="denied"} 1`)
	assert.Contains(t, body, `cerbos_demo_requests_total{method="DELETE",route="/posts/:id",status="403"} 1`)
	assert.Contains(t, body, "cerbos_demo_build_info")
	assert.Contains(t, body, "go_goroutines")
}

func TestApplication_ReloadRules(t *testing.T) {
	app := newTestApp(t, testConfig(true), &ownerOnly{})

	updated := testConfig(true)
	updated.Routes = []config.RouteRule{
		{Method: http.MethodGet, Path: "/posts/:id", Kind: "article", Action: "view", IDParam: "id"},
	}
	app.reloadRules(updated)

	w := httptest.NewRecorder()
	app.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/posts/3", nil))
	assert.Equal(t, http.StatusForbidden, w.Code, "anonymous may only read")

	w = httptest.NewRecorder()
	app.engine.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/posts/3", nil))
	assert.Equal(t, http.StatusForbidden, w.Code, "rule removed by reload")
}

func TestApplication_PushPolicies(t *testing.T) {
	var requests atomic.Int32
	cerbosAdmin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if r.URL.Path != "/admin/policy" || !ok || user != "cerbos" || pass != "cerbosAdmin" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":{}}`))
	}))
	t.Cleanup(cerbosAdmin.Close)

	host, port, err := net.SplitHostPort(strings.TrimPrefix(cerbosAdmin.URL, "http://"))
	require.NoError(t, err)
	portNum, err := strconv.Atoi(port)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "post.yaml"), []byte(`
apiVersion: api.cerbos.dev/v1
resourcePolicy:
  resource: post
  version: default
  rules:
    - actions: ["read"]
      effect: EFFECT_ALLOW
      roles: ["*"]
`), 0o600))

	cfg := testConfig(true)
	cfg.Cerbos.Transport = cerbos.TransportGRPC
	cfg.Cerbos.Host = host
	cfg.Cerbos.Port = 13593
	cfg.Cerbos.AdminPort = portNum
	cfg.Cerbos.AdminCredentials = &cerbos.Credentials{Username: "cerbos", Password: "cerbosAdmin"}
	cfg.Policies = config.PoliciesConfig{Dir: dir, PushOnStart: true}

	app := newTestApp(t, cfg, &ownerOnly{})

	require.NoError(t, app.pushPolicies(context.Background()))
	assert.Equal(t, int32(1), requests.Load())
}

func TestApplication_PushPolicies_Disabled(t *testing.T) {
	app := newTestApp(t, testConfig(true), &ownerOnly{})

	assert.NoError(t, app.pushPolicies(context.Background()))
}
