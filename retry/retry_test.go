package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"goa.design/planguard/model"
)

func TestIsRetryableProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("nil error is not retryable", prop.ForAll(
		func(_ int) bool {
			return !IsRetryable(nil)
		},
		gen.Int(),
	))

	properties.Property("context.Canceled is not retryable", prop.ForAll(
		func(_ int) bool {
			return !IsRetryable(context.Canceled)
		},
		gen.Int(),
	))

	properties.Property("context.DeadlineExceeded is retryable", prop.ForAll(
		func(_ int) bool {
			return IsRetryable(context.DeadlineExceeded)
		},
		gen.Int(),
	))

	properties.Property("rate-limited provider errors are retryable", prop.ForAll(
		func(msg string) bool {
			err := &model.ProviderError{Kind: model.ErrorKindRateLimited, Provider: "bedrock", Err: errors.New(msg)}
			return IsRetryable(err)
		},
		gen.AlphaString(),
	))

	properties.Property("transient provider errors are retryable", prop.ForAll(
		func(msg string) bool {
			err := &model.ProviderError{Kind: model.ErrorKindTransient, Provider: "bedrock", Err: errors.New(msg)}
			return IsRetryable(err)
		},
		gen.AlphaString(),
	))

	properties.Property("fatal provider errors are not retryable", prop.ForAll(
		func(msg string) bool {
			err := &model.ProviderError{Kind: model.ErrorKindFatal, Provider: "bedrock", Err: errors.New(msg)}
			return !IsRetryable(err)
		},
		gen.AlphaString(),
	))

	properties.Property("plain errors are not retryable", prop.ForAll(
		func(msg string) bool {
			return !IsRetryable(errors.New(msg))
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestRetryDoProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("successful operation returns nil", prop.ForAll(
		func(maxAttempts int) bool {
			cfg := Config{
				MaxAttempts:       maxAttempts,
				InitialBackoff:    time.Millisecond,
				MaxBackoff:        10 * time.Millisecond,
				BackoffMultiplier: 2.0,
			}
			return Do(context.Background(), cfg, func(_ context.Context) error {
				return nil
			}) == nil
		},
		gen.IntRange(1, 10),
	))

	properties.Property("non-retryable error returns after exactly one attempt", prop.ForAll(
		func(maxAttempts int) bool {
			cfg := Config{
				MaxAttempts:       maxAttempts,
				InitialBackoff:    time.Millisecond,
				MaxBackoff:        10 * time.Millisecond,
				BackoffMultiplier: 2.0,
			}
			fatal := &model.ProviderError{Kind: model.ErrorKindFatal, Provider: "bedrock", Err: errors.New("bad request")}
			attempts := 0
			err := Do(context.Background(), cfg, func(_ context.Context) error {
				attempts++
				return fatal
			})
			return attempts == 1 && errors.Is(err, fatal.Err)
		},
		gen.IntRange(2, 10),
	))

	properties.Property("retryable error exhausts all attempts", prop.ForAll(
		func(maxAttempts int) bool {
			cfg := Config{
				MaxAttempts:       maxAttempts,
				InitialBackoff:    time.Microsecond,
				MaxBackoff:        time.Millisecond,
				BackoffMultiplier: 2.0,
			}
			throttle := &model.ProviderError{Kind: model.ErrorKindRateLimited, Provider: "bedrock", Err: errors.New("throttled")}
			attempts := 0
			err := Do(context.Background(), cfg, func(_ context.Context) error {
				attempts++
				return throttle
			})
			var exhausted *ExhaustedError
			return attempts == maxAttempts && errors.As(err, &exhausted) && exhausted.Attempts == maxAttempts
		},
		gen.IntRange(1, 6),
	))

	properties.TestingRun(t)
}

func TestDoRecoversAfterTransientFailures(t *testing.T) {
	cfg := Config{
		MaxAttempts:       4,
		InitialBackoff:    time.Microsecond,
		MaxBackoff:        time.Millisecond,
		BackoffMultiplier: 2.0,
	}
	attempts := 0
	err := Do(context.Background(), cfg, func(_ context.Context) error {
		attempts++
		if attempts < 3 {
			return &model.ProviderError{Kind: model.ErrorKindTransient, Provider: "bedrock", Err: errors.New("unavailable")}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestDoStopsOnContextCancellation(t *testing.T) {
	cfg := Config{
		MaxAttempts:       5,
		InitialBackoff:    time.Hour,
		MaxBackoff:        time.Hour,
		BackoffMultiplier: 2.0,
	}
	ctx, cancel := context.WithCancel(context.Background())
	throttle := &model.ProviderError{Kind: model.ErrorKindRateLimited, Provider: "bedrock", Err: errors.New("throttled")}
	err := Do(ctx, cfg, func(_ context.Context) error {
		cancel()
		return throttle
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestExhaustedErrorUnwrap(t *testing.T) {
	throttle := &model.ProviderError{Kind: model.ErrorKindRateLimited, Provider: "bedrock", Err: errors.New("throttled")}
	exhausted := &ExhaustedError{Attempts: 3, TotalDuration: time.Second, LastError: throttle}
	require.ErrorIs(t, exhausted, model.ErrRateLimited)
}

func TestCalculateBackoffIsCapped(t *testing.T) {
	cfg := Config{
		InitialBackoff:    time.Second,
		MaxBackoff:        4 * time.Second,
		BackoffMultiplier: 10.0,
	}
	for attempt := 1; attempt <= 5; attempt++ {
		require.LessOrEqual(t, calculateBackoff(cfg, attempt), 4*time.Second)
	}
}
