package retry

import (
	"time"

	"github.com/rookline/chessync/internal/support/exception"
)

// RetryPolicy is an interface that defines retry logic.
// It provides methods to determine if a specific error is retryable,
// and to determine the backoff interval between attempts.
type RetryPolicy interface {
	// ShouldRetry determines if a given error is retryable.
	// err: The error to evaluate.
	// Returns: true if the error is retryable, false otherwise.
	ShouldRetry(err error) bool
	// BackoffInterval returns the wait before the next attempt.
	// attempt: The number of attempts already made (starting from 1).
	// err: The error the last attempt failed with.
	// Returns: The waiting time until the next attempt.
	BackoffInterval(attempt int, err error) time.Duration
	// MaxAttempts returns the maximum number of attempts, including the first.
	MaxAttempts() int
}

// ExponentialPolicyConfig holds the parameters of the default policy.
type ExponentialPolicyConfig struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int
	// InitialInterval is the wait after the first failed attempt.
	InitialInterval time.Duration
	// MaxInterval caps the exponentially growing wait.
	MaxInterval time.Duration
	// Factor is the multiplier applied per failed attempt.
	Factor float64
	// UnavailableWait is the fixed wait used when the source is completely
	// unreachable, overriding the exponential schedule.
	UnavailableWait time.Duration
}

// NewExponentialPolicy creates the default exponential backoff policy.
func NewExponentialPolicy(cfg ExponentialPolicyConfig) RetryPolicy {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Factor < 1 {
		cfg.Factor = 2.0
	}
	return &exponentialPolicy{cfg: cfg}
}

// exponentialPolicy is the default implementation of RetryPolicy.
// The wait after attempt n is InitialInterval * Factor^(n-1), clamped to
// MaxInterval. Complete source unavailability switches to the fixed
// UnavailableWait instead.
type exponentialPolicy struct {
	cfg ExponentialPolicyConfig
}

// MaxAttempts returns the maximum number of attempts.
func (p *exponentialPolicy) MaxAttempts() int {
	return p.cfg.MaxAttempts
}

// ShouldRetry determines if an error is retryable.
// Cancellation is never retried; otherwise the error's transient
// classification decides.
func (p *exponentialPolicy) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if exception.IsCancellation(err) {
		return false
	}
	return exception.IsTransient(err)
}

// BackoffInterval returns the backoff interval for the given attempt number.
func (p *exponentialPolicy) BackoffInterval(attempt int, err error) time.Duration {
	if exception.IsUnavailable(err) {
		return p.cfg.UnavailableWait
	}
	interval := p.cfg.InitialInterval
	for i := 1; i < attempt; i++ {
		interval = time.Duration(float64(interval) * p.cfg.Factor)
		if p.cfg.MaxInterval > 0 && interval >= p.cfg.MaxInterval {
			return p.cfg.MaxInterval
		}
	}
	if p.cfg.MaxInterval > 0 && interval > p.cfg.MaxInterval {
		return p.cfg.MaxInterval
	}
	return interval
}

// Verify interfaces
var _ RetryPolicy = (*exponentialPolicy)(nil)
