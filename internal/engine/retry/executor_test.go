// Package retry_test provides unit tests for the retry executor and its
// exponential backoff policy.
package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rookline/chessync/internal/engine/retry"
	"github.com/rookline/chessync/internal/metrics"
	"github.com/rookline/chessync/internal/support/exception"
)

func newTestExecutor(maxAttempts int) retry.Executor {
	policy := retry.NewExponentialPolicy(retry.ExponentialPolicyConfig{
		MaxAttempts:     maxAttempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     10 * time.Millisecond,
		Factor:          2.0,
		UnavailableWait: 5 * time.Millisecond,
	})
	return retry.NewExecutor(policy, metrics.NewNoOpMetricRecorder())
}

func TestExecute_SucceedsFirstAttempt(t *testing.T) {
	executor := newTestExecutor(3)
	calls := 0

	err := executor.Execute(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
	stats := executor.Stats()
	assert.Equal(t, 1, stats.TotalAttempts)
	assert.Equal(t, 0, stats.RecoveredRetries)
	assert.Equal(t, 0, stats.PermanentFailures)
}

func TestExecute_RetriesTransientUntilSuccess(t *testing.T) {
	executor := newTestExecutor(5)
	calls := 0

	err := executor.Execute(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return exception.NewTransientError("source", "flaky", nil)
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	stats := executor.Stats()
	assert.Equal(t, 3, stats.TotalAttempts)
	assert.Equal(t, 1, stats.RecoveredRetries)
	assert.Equal(t, 0, stats.PermanentFailures)
}

func TestExecute_PermanentErrorStopsImmediately(t *testing.T) {
	executor := newTestExecutor(5)
	calls := 0
	permanent := exception.NewPermanentError("transform", "bad payload", nil)

	err := executor.Execute(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return permanent
	})

	assert.Equal(t, permanent, err)
	assert.Equal(t, 1, calls)
	stats := executor.Stats()
	assert.Equal(t, 1, stats.TotalAttempts)
	assert.Equal(t, 1, stats.PermanentFailures)
}

func TestExecute_ExhaustsAttempts(t *testing.T) {
	executor := newTestExecutor(3)
	calls := 0
	transient := exception.NewTransientError("source", "still down", nil)

	err := executor.Execute(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return transient
	})

	assert.Equal(t, transient, err)
	assert.Equal(t, 3, calls)
	stats := executor.Stats()
	assert.Equal(t, 3, stats.TotalAttempts)
	assert.Equal(t, 0, stats.RecoveredRetries)
	assert.Equal(t, 1, stats.PermanentFailures)
}

func TestExecute_CancellationNotRetried(t *testing.T) {
	executor := newTestExecutor(5)
	calls := 0

	err := executor.Execute(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return exception.ErrSyncCancelled
	})

	assert.ErrorIs(t, err, exception.ErrSyncCancelled)
	assert.Equal(t, 1, calls)
}

func TestExecute_ContextCancelledWhileWaiting(t *testing.T) {
	policy := retry.NewExponentialPolicy(retry.ExponentialPolicyConfig{
		MaxAttempts:     3,
		InitialInterval: time.Hour, // long enough that cancellation always wins
		Factor:          2.0,
	})
	executor := retry.NewExecutor(policy, metrics.NewNoOpMetricRecorder())

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := executor.Execute(ctx, "op", func(ctx context.Context) error {
		calls++
		return exception.NewTransientError("source", "flaky", nil)
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestExecute_ContextAlreadyCancelled(t *testing.T) {
	executor := newTestExecutor(3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := executor.Execute(ctx, "op", func(ctx context.Context) error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestResetStats(t *testing.T) {
	executor := newTestExecutor(3)
	_ = executor.Execute(context.Background(), "op", func(ctx context.Context) error {
		return exception.NewPermanentError("m", "nope", nil)
	})
	assert.NotEqual(t, retry.Stats{}, executor.Stats())

	executor.ResetStats()
	assert.Equal(t, retry.Stats{}, executor.Stats())
}

func TestExponentialPolicy_Backoff(t *testing.T) {
	policy := retry.NewExponentialPolicy(retry.ExponentialPolicyConfig{
		MaxAttempts:     5,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		Factor:          2.0,
		UnavailableWait: 5 * time.Minute,
	})
	transient := exception.NewTransientError("source", "flaky", nil)

	assert.Equal(t, 100*time.Millisecond, policy.BackoffInterval(1, transient))
	assert.Equal(t, 200*time.Millisecond, policy.BackoffInterval(2, transient))
	assert.Equal(t, 400*time.Millisecond, policy.BackoffInterval(3, transient))
	assert.Equal(t, 800*time.Millisecond, policy.BackoffInterval(4, transient))
	// Growth is clamped at MaxInterval.
	assert.Equal(t, time.Second, policy.BackoffInterval(5, transient))
	assert.Equal(t, time.Second, policy.BackoffInterval(10, transient))
}

func TestExponentialPolicy_UnavailableUsesFixedWait(t *testing.T) {
	policy := retry.NewExponentialPolicy(retry.ExponentialPolicyConfig{
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		Factor:          2.0,
		UnavailableWait: 5 * time.Minute,
	})
	unavailable := exception.NewUnavailableError("source", "source down", nil)

	assert.Equal(t, 5*time.Minute, policy.BackoffInterval(1, unavailable))
	assert.Equal(t, 5*time.Minute, policy.BackoffInterval(3, unavailable))
}

func TestExponentialPolicy_ShouldRetry(t *testing.T) {
	policy := retry.NewExponentialPolicy(retry.ExponentialPolicyConfig{MaxAttempts: 3, Factor: 2.0})

	assert.True(t, policy.ShouldRetry(exception.NewTransientError("m", "msg", nil)))
	assert.True(t, policy.ShouldRetry(exception.NewUnavailableError("m", "msg", nil)))
	assert.False(t, policy.ShouldRetry(exception.NewPermanentError("m", "msg", nil)))
	assert.False(t, policy.ShouldRetry(exception.ErrSyncCancelled))
	assert.False(t, policy.ShouldRetry(context.Canceled))
	assert.False(t, policy.ShouldRetry(nil))
	assert.False(t, policy.ShouldRetry(errors.New("unknown plain error")))
}

func TestExponentialPolicy_DefensiveDefaults(t *testing.T) {
	policy := retry.NewExponentialPolicy(retry.ExponentialPolicyConfig{MaxAttempts: 0, Factor: 0})
	assert.Equal(t, 1, policy.MaxAttempts())
}
