package cerbos

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"gopkg.in/yaml.v3"

	"github.com/vyrodovalexey/gin-cerbos/internal/observability"
)

// Policy is a Cerbos policy document in its JSON/YAML object form.
type Policy map[string]any

// AdminClient talks to the Cerbos Admin API over HTTP with basic auth.
type AdminClient struct {
	client      *retryablehttp.Client
	baseURL     string
	credentials Credentials
	logger      observability.Logger
}

// NewAdminClient creates an admin client for cfg.AdminURL.
func NewAdminClient(cfg *Config, opts ...Option) (*AdminClient, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.AdminCredentials == nil || cfg.AdminCredentials.Username == "" {
		return nil, ErrNoAdminCredentials
	}

	o := buildOptions(opts)
	rc, err := newRetryableHTTPClient(cfg, o)
	if err != nil {
		return nil, err
	}

	return &AdminClient{
		client:      rc,
		baseURL:     cfg.AdminURL(),
		credentials: *cfg.AdminCredentials,
		logger:      o.logger,
	}, nil
}

// AddOrUpdatePolicies creates or replaces the given policies.
func (a *AdminClient) AddOrUpdatePolicies(ctx context.Context, policies ...Policy) error {
	if len(policies) == 0 {
		return nil
	}

	body, err := json.Marshal(map[string]any{"policies": policies})
	if err != nil {
		return fmt.Errorf("failed to marshal policies: %w", err)
	}

	err = doJSON(ctx, a.client, a.baseURL, http.MethodPost, pathAdminPolicy, body, nil,
		func(req *retryablehttp.Request) {
			req.SetBasicAuth(a.credentials.Username, a.credentials.Password)
		})
	if err != nil {
		return fmt.Errorf("failed to add or update policies: %w", err)
	}

	a.logger.Info("cerbos policies updated", observability.Int("count", len(policies)))
	return nil
}

// Close releases idle connections.
func (a *AdminClient) Close() error {
	a.client.HTTPClient.CloseIdleConnections()
	return nil
}

// ParsePolicies decodes one or more YAML documents into policies.
func ParsePolicies(r io.Reader) ([]Policy, error) {
	dec := yaml.NewDecoder(r)

	var policies []Policy
	for {
		var doc map[string]any
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse policy: %w", err)
		}
		if len(doc) == 0 {
			continue
		}
		policies = append(policies, Policy(doc))
	}
	return policies, nil
}

// LoadPolicies reads every .yaml, .yml and .json file in dir.
func LoadPolicies(dir string) ([]Policy, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml", ".json":
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var policies []Policy
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read policy %s: %w", name, err)
		}
		parsed, err := ParsePolicies(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		policies = append(policies, parsed...)
	}
	return policies, nil
}
