package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRetrier(max int) *Retrier {
	return &Retrier{MaxRetries: max, BackoffBase: time.Millisecond}
}

func TestRetryDoTransientThenSuccess(t *testing.T) {
	calls := 0
	v, err := RetryDo(context.Background(), testRetrier(3), "plan", func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &RateLimitError{StatusCode: 429, Message: "slow down"}
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
}

func TestRetryDoFatalNoRetry(t *testing.T) {
	fatal := errors.New("invalid api key")
	calls := 0
	_, err := RetryDo(context.Background(), testRetrier(5), "ocr", func(ctx context.Context) (string, error) {
		calls++
		return "", fatal
	})
	require.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestRetryDoExhaustsRetries(t *testing.T) {
	calls := 0
	_, err := RetryDo(context.Background(), testRetrier(2), "tts", func(ctx context.Context) (int, error) {
		calls++
		return 0, &RateLimitError{StatusCode: 503, Message: "overloaded"}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "retries exhausted")

	var rle *RateLimitError
	assert.True(t, errors.As(err, &rle))
}

func TestRetryDoHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &Retrier{MaxRetries: 3, BackoffBase: time.Hour}
	_, err := RetryDo(ctx, r, "plan", func(ctx context.Context) (string, error) {
		return "", &RateLimitError{StatusCode: 429}
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestTransientHTTPStatus(t *testing.T) {
	assert.True(t, TransientHTTPStatus(429))
	assert.True(t, TransientHTTPStatus(502))
	assert.False(t, TransientHTTPStatus(401))
	assert.False(t, TransientHTTPStatus(400))
}
