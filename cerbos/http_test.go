package cerbos

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// httpFake serves the Cerbos HTTP API from a fakeCerbos.
type httpFake struct {
	fake       *fakeCerbos
	failures   atomic.Int32
	failStatus int
}

func (h *httpFake) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.failures.Load() > 0 {
		h.failures.Add(-1)
		h.fake.calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(h.failStatus)
		_, _ = w.Write([]byte(`{"code":3,"message":"injected failure"}`))
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == pathCheckResources:
		var in CheckInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		result, err := h.fake.checkResources(&in)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(result)
	case r.Method == http.MethodGet && r.URL.Path == pathServerInfo:
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"version":"0.40.0","commit":"abc123","buildDate":"2024-10-01"}`))
	default:
		http.NotFound(w, r)
	}
}

// serverConfig points cfg at srv.
func serverConfig(t *testing.T, srv *httptest.Server, cfg *Config) *Config {
	t.Helper()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)

	if cfg == nil {
		cfg = &Config{}
	}
	cfg.Transport = TransportHTTP
	cfg.Host = host
	cfg.Port = p
	return cfg
}

func startFakeHTTP(t *testing.T, h *httpFake, cfg *Config) Client {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	client, err := New(serverConfig(t, srv, cfg))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestHTTPClient_IsAllowed(t *testing.T) {
	t.Parallel()

	h := &httpFake{fake: &fakeCerbos{policy: ownerPolicy}}
	client := startFakeHTTP(t, h, nil)
	ctx := context.Background()

	allowed, err := client.IsAllowed(ctx, NewPrincipal("bob", "user"), NewResource("post", "1"), "read")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = client.IsAllowed(ctx,
		NewPrincipal("bob", "user"),
		NewResource("post", "1").WithAttr("owner", "alice"),
		"update",
	)
	require.NoError(t, err)
	assert.False(t, allowed)

	got := h.fake.lastInput()
	require.NotNil(t, got)
	assert.Equal(t, "alice", got.Resources[0].Resource.Attributes["owner"])
	assert.NotEmpty(t, got.RequestID)
}

func TestHTTPClient_ServerInfo(t *testing.T) {
	t.Parallel()

	client := startFakeHTTP(t, &httpFake{fake: &fakeCerbos{policy: ownerPolicy}}, nil)

	info, err := client.ServerInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0.40.0", info.Version)
	assert.Equal(t, "abc123", info.Commit)
	assert.Equal(t, "2024-10-01", info.BuildDate)
}

func TestHTTPClient_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	h := &httpFake{fake: &fakeCerbos{policy: ownerPolicy}, failStatus: http.StatusServiceUnavailable}
	h.failures.Store(2)
	client := startFakeHTTP(t, h, &Config{Retry: fastRetry(3)})

	allowed, err := client.IsAllowed(context.Background(), NewPrincipal("bob", "user"), NewResource("post", "1"), "read")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, int32(3), h.fake.calls.Load())
}

func TestHTTPClient_UnavailableAfterRetries(t *testing.T) {
	t.Parallel()

	h := &httpFake{fake: &fakeCerbos{policy: ownerPolicy}, failStatus: http.StatusServiceUnavailable}
	h.failures.Store(10)
	client := startFakeHTTP(t, h, &Config{Retry: fastRetry(1)})

	_, err := client.IsAllowed(context.Background(), NewPrincipal("bob", "user"), NewResource("post", "1"), "read")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, ErrRemote)
	assert.Equal(t, int32(2), h.fake.calls.Load())
}

func TestHTTPClient_BadRequestIsRemoteError(t *testing.T) {
	t.Parallel()

	h := &httpFake{fake: &fakeCerbos{policy: ownerPolicy}, failStatus: http.StatusBadRequest}
	h.failures.Store(1)
	client := startFakeHTTP(t, h, &Config{Retry: fastRetry(3)})

	_, err := client.IsAllowed(context.Background(), NewPrincipal("bob", "user"), NewResource("post", "1"), "read")
	require.ErrorIs(t, err, ErrRemote)
	assert.NotErrorIs(t, err, ErrUnavailable)

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, http.StatusBadRequest, remote.StatusCode)
	assert.Equal(t, "injected failure", remote.Message)
	assert.Equal(t, int32(1), h.fake.calls.Load())
}

func TestHTTPClient_ConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	cfg := serverConfig(t, srv, &Config{Retry: fastRetry(0)})
	srv.Close()

	client, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = client.IsAllowed(context.Background(), NewPrincipal("bob", "user"), NewResource("post", "1"), "read")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestHTTPClient_WithHTTPClient(t *testing.T) {
	t.Parallel()

	h := &httpFake{fake: &fakeCerbos{policy: ownerPolicy}}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	client, err := New(serverConfig(t, srv, nil), WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	_, err = client.ServerInfo(context.Background())
	assert.NoError(t, err)
}

func TestKVFields(t *testing.T) {
	t.Parallel()

	fields := kvFields([]any{"method", "POST", 42, "answer", "dangling"})
	require.Len(t, fields, 2)
	assert.Equal(t, "method", fields[0].Key)
	assert.Equal(t, "42", fields[1].Key)
}
