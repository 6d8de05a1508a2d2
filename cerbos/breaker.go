package cerbos

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/gin-cerbos/internal/observability"
)

// Circuit breaker defaults.
const (
	DefaultBreakerThreshold = 5
	DefaultBreakerTimeout   = 30 * time.Second
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("cerbos circuit breaker is open")

// BreakerStateFunc is called on breaker state changes with the new state
// name ("closed", "half-open" or "open").
type BreakerStateFunc func(name, state string)

// BreakerConfig configures NewBreakerClient.
type BreakerConfig struct {
	// Name identifies the breaker in logs and callbacks.
	Name string

	// Threshold is the number of consecutive unavailability failures that
	// opens the breaker. It is also the number of probe calls allowed while
	// half-open.
	Threshold int

	// Timeout is how long the breaker stays open.
	Timeout time.Duration

	// OnStateChange is optional.
	OnStateChange BreakerStateFunc

	// Logger is optional.
	Logger *zap.Logger
}

// breakerClient guards a Client with a circuit breaker. Only ErrUnavailable
// failures count against the breaker; denials, validation errors and other
// remote errors pass through.
type breakerClient struct {
	next Client
	cb   *gobreaker.CircuitBreaker
	name string
}

// NewBreakerClient wraps next with a circuit breaker.
func NewBreakerClient(next Client, cfg BreakerConfig) Client {
	if cfg.Name == "" {
		cfg.Name = "cerbos"
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultBreakerThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultBreakerTimeout
	}
	logger := observability.FromZap(cfg.Logger)
	threshold := safeIntToUint32(cfg.Threshold)

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: threshold,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("cerbos circuit breaker state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, to.String())
			}
		},
	}

	return &breakerClient{
		next: next,
		cb:   gobreaker.NewCircuitBreaker(settings),
		name: cfg.Name,
	}
}

// IsAllowed implements Client.
func (b *breakerClient) IsAllowed(ctx context.Context, principal *Principal, resource *Resource, action string) (bool, error) {
	return isAllowed(ctx, b, principal, resource, action)
}

// CheckResources implements Client.
func (b *breakerClient) CheckResources(ctx context.Context, input *CheckInput) (*CheckResult, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.CheckResources(ctx, input)
	})
	if err != nil {
		return nil, b.wrap(err)
	}
	return result.(*CheckResult), nil
}

// ServerInfo implements Client.
func (b *breakerClient) ServerInfo(ctx context.Context) (*ServerInfo, error) {
	info, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.ServerInfo(ctx)
	})
	if err != nil {
		return nil, b.wrap(err)
	}
	return info.(*ServerInfo), nil
}

// Close implements Client.
func (b *breakerClient) Close() error {
	return b.next.Close()
}

func (b *breakerClient) wrap(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &UnavailableError{Target: b.name, Cause: ErrCircuitOpen}
	}
	return err
}

// safeIntToUint32 safely converts int to uint32.
func safeIntToUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	if n > int(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n) //nolint:gosec // bounds checked above
}
