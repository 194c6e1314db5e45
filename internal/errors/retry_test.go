package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetry_SucceedsAfterTransientError(t *testing.T) {
	// Given: a function that fails twice then succeeds
	attempts := 0
	fn := func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	}

	// When: retrying
	err := Retry(context.Background(), fastRetry(), fn)

	// Then: succeeds after 3 attempts
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_FailsAfterMaxRetries(t *testing.T) {
	// Given: a function that always fails
	attempts := 0
	fn := func() error {
		attempts++
		return errors.New("persistent error")
	}

	// When: retrying with limited retries
	err := Retry(context.Background(), fastRetry(), fn)

	// Then: fails with wrapped error
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 retries")
	assert.Equal(t, 3, attempts) // Initial + 2 retries
}

func TestRetry_ShouldRetryStopsOnPermanentError(t *testing.T) {
	// Given: a permanent error and a predicate that only retries retryable codes
	cfg := fastRetry()
	cfg.ShouldRetry = IsRetryable
	attempts := 0
	permanent := PathRejected("/x", "outside allowed roots")

	// When: retrying
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return permanent
	})

	// Then: one attempt, original error returned untouched
	assert.Equal(t, 1, attempts)
	assert.Same(t, permanent, err)
}

func TestRetry_RespectsContextCancellation(t *testing.T) {
	// Given: a cancelled context
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// When: retrying
	called := false
	err := Retry(ctx, fastRetry(), func() error {
		called = true
		return nil
	})

	// Then: returns context error without calling fn
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestRetryWithResult_ReturnsValue(t *testing.T) {
	attempts := 0
	v, err := RetryWithResult(context.Background(), fastRetry(), func() (int, error) {
		attempts++
		if attempts == 1 {
			return 0, errors.New("first")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestRetryConfig_Backoff(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 30 * time.Second, MaxDelay: 2 * time.Minute, Multiplier: 2}

	assert.Equal(t, time.Duration(0), cfg.Backoff(0))
	assert.Equal(t, 30*time.Second, cfg.Backoff(1))
	assert.Equal(t, 60*time.Second, cfg.Backoff(2))
	assert.Equal(t, 2*time.Minute, cfg.Backoff(3))
	assert.Equal(t, 2*time.Minute, cfg.Backoff(10))
}
