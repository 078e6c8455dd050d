package gmail

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"

	"github.com/mikey/inbox-sweeper/internal/core"
)

func testPolicy(maxAttempts int) *RetryPolicy {
	return NewRetryPolicy(maxAttempts, time.Millisecond, 5*time.Millisecond, zap.NewNop())
}

func apiError(code int) error {
	return &googleapi.Error{Code: code, Message: http.StatusText(code)}
}

func TestRetrySucceedsAfterServerErrors(t *testing.T) {
	p := testPolicy(3)
	attempts := 0

	err := p.Do(context.Background(), "list", func() error {
		attempts++
		if attempts < 3 {
			return apiError(http.StatusServiceUnavailable)
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryBudgetExhausted(t *testing.T) {
	p := testPolicy(3)
	attempts := 0

	err := p.Do(context.Background(), "list", func() error {
		attempts++
		return apiError(http.StatusInternalServerError)
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)

	var gerr *googleapi.Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, http.StatusInternalServerError, gerr.Code)
}

func TestRetryAuthErrorNotRetried(t *testing.T) {
	for _, code := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			p := testPolicy(3)
			attempts := 0

			err := p.Do(context.Background(), "fetch", func() error {
				attempts++
				return apiError(code)
			})

			require.Error(t, err)
			assert.Equal(t, 1, attempts, "auth failures burn a single attempt")
			assert.True(t, core.IsAuthError(err))

			var auth *core.AuthError
			require.ErrorAs(t, err, &auth)
			assert.Contains(t, auth.Remediation, "auth")
		})
	}
}

func TestRetryNonRetryableAPIError(t *testing.T) {
	p := testPolicy(3)
	attempts := 0

	err := p.Do(context.Background(), "trash", func() error {
		attempts++
		return apiError(http.StatusNotFound)
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.False(t, core.IsAuthError(err))

	var gerr *googleapi.Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, http.StatusNotFound, gerr.Code)
}

func TestRetryRateLimitIsRetried(t *testing.T) {
	p := testPolicy(2)
	attempts := 0

	err := p.Do(context.Background(), "list", func() error {
		attempts++
		if attempts == 1 {
			return apiError(http.StatusTooManyRequests)
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRetryTransportErrorIsRetried(t *testing.T) {
	p := testPolicy(3)
	attempts := 0
	cause := errors.New("connection reset by peer")

	err := p.Do(context.Background(), "fetch", func() error {
		attempts++
		return cause
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.ErrorIs(t, err, cause)
}

func TestRetryStopsOnCanceledContext(t *testing.T) {
	p := testPolicy(5)
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	err := p.Do(ctx, "list", func() error {
		attempts++
		cancel()
		return ctx.Err()
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts, "cancellation must not be retried")
}

func TestNewRetryPolicyFloorsAttempts(t *testing.T) {
	p := testPolicy(0)
	attempts := 0

	err := p.Do(context.Background(), "list", func() error {
		attempts++
		return apiError(http.StatusServiceUnavailable)
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}
