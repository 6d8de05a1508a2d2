package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func fastConfig(retries int) *Config {
	return &Config{
		MaxRetries:     retries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		JitterFactor:   0,
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, time.Second, cfg.MaxBackoff)
	assert.Equal(t, 0.2, cfg.JitterFactor)
}

func TestConfig_Getters(t *testing.T) {
	t.Parallel()

	var nilCfg *Config
	assert.Equal(t, DefaultMaxRetries, nilCfg.GetMaxRetries())
	assert.Equal(t, DefaultInitialBackoff, nilCfg.GetInitialBackoff())
	assert.Equal(t, DefaultMaxBackoff, nilCfg.GetMaxBackoff())
	assert.Equal(t, DefaultJitterFactor, nilCfg.GetJitterFactor())

	cfg := &Config{MaxRetries: -3, JitterFactor: 4}
	assert.Equal(t, 0, cfg.GetMaxRetries())
	assert.Equal(t, MaxJitterFactor, cfg.GetJitterFactor())
	assert.Equal(t, DefaultInitialBackoff, cfg.GetInitialBackoff())
}

func TestDo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		retries     int
		failures    int
		shouldRetry ShouldRetryFunc
		wantCalls   int
		wantErr     bool
	}{
		{name: "first attempt succeeds", retries: 2, failures: 0, wantCalls: 1},
		{name: "succeeds after retries", retries: 2, failures: 2, wantCalls: 3},
		{name: "retries exhausted", retries: 2, failures: 5, wantCalls: 3, wantErr: true},
		{name: "retry disabled", retries: 0, failures: 1, wantCalls: 1, wantErr: true},
		{
			name:        "non retryable error stops",
			retries:     3,
			failures:    3,
			shouldRetry: func(error) bool { return false },
			wantCalls:   1,
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			calls := 0
			err := Do(context.Background(), fastConfig(tt.retries), func() error {
				calls++
				if calls <= tt.failures {
					return errTransient
				}
				return nil
			}, &Options{ShouldRetry: tt.shouldRetry})

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr {
				assert.ErrorIs(t, err, errTransient)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDo_OnRetryCallback(t *testing.T) {
	t.Parallel()

	var attempts []int
	err := Do(context.Background(), fastConfig(2), func() error {
		return errTransient
	}, &Options{OnRetry: func(attempt int, err error, _ time.Duration) {
		attempts = append(attempts, attempt)
		assert.ErrorIs(t, err, errTransient)
	}})

	require.Error(t, err)
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDo_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, fastConfig(3), func() error {
		calls++
		return nil
	}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestCalculateBackoff(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 10*time.Millisecond, CalculateBackoff(0, 10*time.Millisecond, time.Second, 0))
	assert.Equal(t, 40*time.Millisecond, CalculateBackoff(2, 10*time.Millisecond, time.Second, 0))
	assert.Equal(t, 50*time.Millisecond, CalculateBackoff(10, 10*time.Millisecond, 50*time.Millisecond, 0))

	withJitter := CalculateBackoff(1, 10*time.Millisecond, time.Second, 0.5)
	assert.GreaterOrEqual(t, withJitter, 20*time.Millisecond)
	assert.LessOrEqual(t, withJitter, 30*time.Millisecond)
}
