// Package exception_test provides unit tests for error classification.
package exception_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rookline/chessync/internal/support/exception"
)

func TestSyncError_ErrorAndUnwrap(t *testing.T) {
	original := errors.New("connection reset by peer")
	err := exception.NewTransientError("source", "API call failed", original)

	assert.Equal(t, "[source] API call failed: connection reset by peer", err.Error())
	assert.Equal(t, original, errors.Unwrap(err))
	assert.Equal(t, exception.KindTransient, err.Kind())
	assert.NotEmpty(t, err.StackTrace)
}

func TestSyncError_WithoutOriginal(t *testing.T) {
	err := exception.NewPermanentError("transform", "player has no name", nil)
	assert.Equal(t, "[transform] player has no name", err.Error())
	assert.Nil(t, errors.Unwrap(err))
}

func TestIsTransient_Classification(t *testing.T) {
	assert.True(t, exception.IsTransient(exception.NewTransientError("source", "rate limited", nil)))
	assert.True(t, exception.IsTransient(exception.NewUnavailableError("source", "source down", nil)))
	assert.False(t, exception.IsTransient(exception.NewPermanentError("source", "bad payload", nil)))
	assert.False(t, exception.IsTransient(nil))
}

func TestIsTransient_PlainErrorHeuristics(t *testing.T) {
	assert.True(t, exception.IsTransient(errors.New("dial tcp: connection refused")))
	assert.True(t, exception.IsTransient(errors.New("read: unexpected EOF")))
	assert.True(t, exception.IsTransient(context.DeadlineExceeded))
	assert.False(t, exception.IsTransient(errors.New("invalid character '}' in JSON")))
}

func TestIsTransient_CancellationNeverRetried(t *testing.T) {
	assert.False(t, exception.IsTransient(exception.ErrSyncCancelled))
	assert.False(t, exception.IsTransient(context.Canceled))
	// Wrapped cancellation stays non-retryable even inside a transient SyncError.
	wrapped := fmt.Errorf("%w: stopping", exception.ErrSyncCancelled)
	assert.False(t, exception.IsTransient(wrapped))
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, exception.IsPermanent(exception.NewPermanentError("store", "constraint violated", nil)))
	assert.True(t, exception.IsPermanent(errors.New("invalid payload shape")))
	assert.False(t, exception.IsPermanent(exception.NewTransientError("source", "timeout", nil)))
	// Cancellation is terminal but reported separately from failure.
	assert.False(t, exception.IsPermanent(exception.ErrSyncCancelled))
	assert.False(t, exception.IsPermanent(context.Canceled))
	assert.False(t, exception.IsPermanent(nil))
}

func TestIsUnavailable(t *testing.T) {
	unavailable := exception.NewUnavailableError("source", "source unreachable", errors.New("dial timeout"))
	assert.True(t, exception.IsUnavailable(unavailable))
	// The sentinel is detectable through arbitrary wrapping.
	assert.True(t, exception.IsUnavailable(fmt.Errorf("fetch players: %w", unavailable)))
	assert.True(t, errors.Is(unavailable, exception.ErrSourceUnavailable))
	assert.False(t, exception.IsUnavailable(exception.NewTransientError("source", "single request failed", nil)))
	assert.False(t, exception.IsUnavailable(nil))
}

func TestIsCancellation(t *testing.T) {
	assert.True(t, exception.IsCancellation(exception.ErrSyncCancelled))
	assert.True(t, exception.IsCancellation(context.Canceled))
	assert.True(t, exception.IsCancellation(fmt.Errorf("%w: context done", exception.ErrSyncCancelled)))
	assert.False(t, exception.IsCancellation(errors.New("some failure")))
	assert.False(t, exception.IsCancellation(nil))
}

func TestIsSyncError(t *testing.T) {
	assert.True(t, exception.IsSyncError(exception.NewTransientError("m", "msg", nil)))
	assert.True(t, exception.IsSyncError(fmt.Errorf("wrapped: %w", exception.NewPermanentError("m", "msg", nil))))
	assert.False(t, exception.IsSyncError(errors.New("plain")))
	assert.False(t, exception.IsSyncError(nil))
}

func TestExtractErrorMessage(t *testing.T) {
	assert.Equal(t, "", exception.ExtractErrorMessage(nil))
	assert.Equal(t, "plain failure", exception.ExtractErrorMessage(errors.New("plain failure")))

	se := exception.NewPermanentError("store", "failed to upsert batch", errors.New("UNIQUE constraint failed"))
	assert.Equal(t, "failed to upsert batch", exception.ExtractErrorMessage(se))
	assert.Equal(t, "failed to upsert batch", exception.ExtractErrorMessage(fmt.Errorf("outer: %w", se)))
}

func TestErrorKind_String(t *testing.T) {
	assert.Equal(t, "TRANSIENT", exception.KindTransient.String())
	assert.Equal(t, "PERMANENT", exception.KindPermanent.String())
	assert.Equal(t, "UNAVAILABLE", exception.KindUnavailable.String())
}
