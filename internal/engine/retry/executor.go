// Package retry provides the retry executor used around every interaction
// with the external data source and the database.
package retry

import (
	"context"
	"sync"
	"time"

	config "github.com/rookline/chessync/internal/config"
	metrics "github.com/rookline/chessync/internal/metrics"
	exception "github.com/rookline/chessync/internal/support/exception"
	logger "github.com/rookline/chessync/internal/support/logger"
)

// Operation is a unit of work the executor runs and possibly re-runs.
type Operation func(ctx context.Context) error

// Executor runs operations under a RetryPolicy.
type Executor interface {
	// Execute runs op, retrying transient failures according to the policy.
	// It returns nil on the first success, the last error once attempts are
	// exhausted or the error is classified permanent, and the context error
	// if ctx is cancelled while waiting between attempts.
	//
	// name: A short operation name used for logging and metrics.
	Execute(ctx context.Context, name string, op Operation) error

	// Stats returns the cumulative retry counters.
	Stats() Stats

	// ResetStats zeroes the counters without touching the policy.
	ResetStats()
}

// Stats holds cumulative retry counters. They feed observability only and
// never influence retry decisions.
type Stats struct {
	TotalAttempts     int // TotalAttempts counts every invocation of an operation, first tries included.
	RecoveredRetries  int // RecoveredRetries counts operations that succeeded after at least one retry.
	PermanentFailures int // PermanentFailures counts operations that gave up, non-retryable or exhausted.
}

// executor is the default Executor implementation.
type executor struct {
	policy   RetryPolicy
	recorder metrics.MetricRecorder

	mu    sync.Mutex
	stats Stats
}

// NewExecutor creates an Executor with the given policy.
func NewExecutor(policy RetryPolicy, recorder metrics.MetricRecorder) Executor {
	return &executor{policy: policy, recorder: recorder}
}

// NewExecutorFromConfig creates an Executor from the application retry configuration.
func NewExecutorFromConfig(cfg *config.RetryConfig, recorder metrics.MetricRecorder) Executor {
	policy := NewExponentialPolicy(ExponentialPolicyConfig{
		MaxAttempts:     cfg.MaxAttempts,
		InitialInterval: time.Duration(cfg.InitialInterval) * time.Millisecond,
		MaxInterval:     time.Duration(cfg.MaxInterval) * time.Millisecond,
		Factor:          cfg.Factor,
		UnavailableWait: time.Duration(cfg.UnavailableWait) * time.Millisecond,
	})
	return NewExecutor(policy, recorder)
}

// Execute implements Executor.
func (e *executor) Execute(ctx context.Context, name string, op Operation) error {
	var lastErr error

	for attempt := 1; attempt <= e.policy.MaxAttempts(); attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		e.countAttempt()
		lastErr = op(ctx)
		if lastErr == nil {
			if attempt > 1 {
				e.countRecovery()
				logger.Infof("Operation '%s' succeeded on attempt %d/%d.", name, attempt, e.policy.MaxAttempts())
			}
			return nil
		}

		if !e.policy.ShouldRetry(lastErr) {
			e.countPermanentFailure()
			logger.Debugf("Operation '%s' failed with non-retryable error: %v", name, lastErr)
			return lastErr
		}
		if attempt == e.policy.MaxAttempts() {
			break
		}

		wait := e.policy.BackoffInterval(attempt, lastErr)
		reason := exception.ExtractErrorMessage(lastErr)
		e.recorder.RecordRetry(ctx, name, reason)
		if exception.IsUnavailable(lastErr) {
			logger.Warnf("Operation '%s': source unavailable, waiting %s before attempt %d/%d.",
				name, wait, attempt+1, e.policy.MaxAttempts())
		} else {
			logger.Warnf("Operation '%s' failed on attempt %d/%d: %v. Retrying in %s.",
				name, attempt, e.policy.MaxAttempts(), lastErr, wait)
		}

		if err := sleepContext(ctx, wait); err != nil {
			// Context cancelled while waiting; report the cancellation,
			// not the operation error.
			return err
		}
	}

	e.countPermanentFailure()
	logger.Errorf("Operation '%s' exhausted %d attempts. Last error: %v", name, e.policy.MaxAttempts(), lastErr)
	return lastErr
}

// Stats implements Executor.
func (e *executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// ResetStats implements Executor.
func (e *executor) ResetStats() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats = Stats{}
}

func (e *executor) countAttempt() {
	e.mu.Lock()
	e.stats.TotalAttempts++
	e.mu.Unlock()
}

func (e *executor) countRecovery() {
	e.mu.Lock()
	e.stats.RecoveredRetries++
	e.mu.Unlock()
}

func (e *executor) countPermanentFailure() {
	e.mu.Lock()
	e.stats.PermanentFailures++
	e.mu.Unlock()
}

// sleepContext waits for d or until ctx is cancelled, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ Executor = (*executor)(nil)
