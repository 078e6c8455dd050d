package gmail

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"

	"github.com/mikey/inbox-sweeper/internal/core"
)

// RetryPolicy wraps remote calls in bounded exponential backoff with jitter.
// Rate limiting (429) and server errors (500, 503) are retried; auth failures
// are classified and never retried.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration

	logger *zap.Logger
}

// NewRetryPolicy creates a retry policy.
func NewRetryPolicy(maxAttempts int, initial, maxBackoff time.Duration, logger *zap.Logger) *RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RetryPolicy{
		MaxAttempts:     maxAttempts,
		InitialInterval: initial,
		MaxInterval:     maxBackoff,
		logger:          logger,
	}
}

// Do runs fn until it succeeds, fails permanently or the attempt budget is
// spent. The returned error is the last one fn produced, with 401/403
// responses converted to AuthError.
func (p *RetryPolicy) Do(ctx context.Context, op string, fn func() error) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if auth := classifyAuth(err); auth != nil {
			return backoff.Permanent(auth)
		}
		if !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialInterval
	bo.MaxInterval = p.MaxInterval
	bo.MaxElapsedTime = 0

	notify := func(err error, next time.Duration) {
		p.logger.Warn("Retrying remote call",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", next),
			zap.Error(err))
	}

	return backoff.RetryNotify(operation,
		backoff.WithContext(backoff.WithMaxRetries(bo, uint64(p.MaxAttempts-1)), ctx),
		notify)
}

// classifyAuth converts 401/403 responses into AuthError. Everything else
// passes through unchanged.
func classifyAuth(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return &core.AuthError{
				Reason:      gerr.Message,
				Remediation: "run 'inbox-sweeper auth' to re-authorize access",
				Err:         err,
			}
		}
	}
	return nil
}

// isRetryable reports whether the error is worth another attempt: rate
// limiting, server-side errors and transport failures. Context cancellation
// and other API responses are not.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
			return true
		}
		return false
	}
	// No structured response means the transport failed; retry.
	return true
}
