package cerbos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/vyrodovalexey/gin-cerbos/internal/observability"
)

// HTTP API paths.
const (
	pathCheckResources = "/api/check/resources"
	pathServerInfo     = "/api/server_info"
	pathAdminPolicy    = "/admin/policy"
)

const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"

	// maxErrorBody bounds how much of an error response is kept.
	maxErrorBody = 4096
)

// httpTransport calls the Cerbos HTTP API.
type httpTransport struct {
	client  *retryablehttp.Client
	baseURL string
	logger  observability.Logger
}

func newHTTPClient(cfg *Config, o *options) (Client, error) {
	rc, err := newRetryableHTTPClient(cfg, o)
	if err != nil {
		return nil, err
	}

	o.logger.Debug("cerbos HTTP client created", observability.String("target", cfg.Target()))

	return &client{
		cfg: cfg,
		transport: &httpTransport{
			client:  rc,
			baseURL: cfg.Target(),
			logger:  o.logger,
		},
		logger: o.logger,
		tracer: o.tracer,
	}, nil
}

// newRetryableHTTPClient builds the retrying HTTP client shared by the HTTP
// transport and the admin client.
func newRetryableHTTPClient(cfg *Config, o *options) (*retryablehttp.Client, error) {
	rc := retryablehttp.NewClient()
	rc.Logger = &leveledLogger{logger: o.logger}
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	retryCfg := cfg.retryConfig()
	rc.RetryMax = retryCfg.GetMaxRetries()
	rc.RetryWaitMin = retryCfg.GetInitialBackoff()
	rc.RetryWaitMax = retryCfg.GetMaxBackoff()

	if o.httpClient != nil {
		rc.HTTPClient = o.httpClient
		return rc, nil
	}

	tlsCfg, err := cfg.buildTLSConfig()
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		if tr, ok := rc.HTTPClient.Transport.(*http.Transport); ok {
			tr.TLSClientConfig = tlsCfg
		}
	}
	return rc, nil
}

func (t *httpTransport) name() string {
	return TransportHTTP
}

func (t *httpTransport) checkResources(ctx context.Context, input *CheckInput) (*CheckResult, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal check request: %w", err)
	}

	var result CheckResult
	if err := t.do(ctx, http.MethodPost, pathCheckResources, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (t *httpTransport) serverInfo(ctx context.Context) (*ServerInfo, error) {
	var info ServerInfo
	if err := t.do(ctx, http.MethodGet, pathServerInfo, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (t *httpTransport) do(ctx context.Context, method, path string, body []byte, out any) error {
	return doJSON(ctx, t.client, t.baseURL, method, path, body, out, nil)
}

func (t *httpTransport) close() error {
	t.client.HTTPClient.CloseIdleConnections()
	return nil
}

// doJSON sends a JSON request and decodes a JSON response into out.
func doJSON(
	ctx context.Context,
	rc *retryablehttp.Client,
	baseURL, method, path string,
	body []byte,
	out any,
	prepare func(*retryablehttp.Request),
) error {
	var rawBody any
	if body != nil {
		rawBody = body
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, baseURL+path, rawBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(headerAccept, contentTypeJSON)
	if body != nil {
		req.Header.Set(headerContentType, contentTypeJSON)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	if prepare != nil {
		prepare(req)
	}

	resp, err := rc.Do(req)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return &UnavailableError{Target: baseURL, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return httpRemoteError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode cerbos response: %w", err)
	}
	return nil
}

// httpRemoteError builds a RemoteError from a non-200 response. Cerbos
// reports errors as {"code": n, "message": "..."}.
func httpRemoteError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var payload struct {
		Message string `json:"message"`
	}
	message := string(raw)
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Message != "" {
		message = payload.Message
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	remoteErr := &RemoteError{
		Transport:  TransportHTTP,
		StatusCode: resp.StatusCode,
		Message:    message,
	}

	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		target := ""
		if resp.Request != nil {
			target = resp.Request.URL.Host
		}
		return &UnavailableError{Target: target, Cause: remoteErr}
	default:
		return remoteErr
	}
}

// leveledLogger adapts observability.Logger to retryablehttp.LeveledLogger.
type leveledLogger struct {
	logger observability.Logger
}

func (l *leveledLogger) Error(msg string, keysAndValues ...any) {
	l.logger.Error(msg, kvFields(keysAndValues)...)
}

func (l *leveledLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Info(msg, kvFields(keysAndValues)...)
}

func (l *leveledLogger) Debug(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, kvFields(keysAndValues)...)
}

func (l *leveledLogger) Warn(msg string, keysAndValues ...any) {
	l.logger.Warn(msg, kvFields(keysAndValues)...)
}

func kvFields(keysAndValues []any) []observability.Field {
	fields := make([]observability.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		fields = append(fields, observability.Any(key, keysAndValues[i+1]))
	}
	return fields
}

var _ retryablehttp.LeveledLogger = (*leveledLogger)(nil)
