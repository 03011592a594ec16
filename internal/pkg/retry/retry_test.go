package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type httpError struct {
	status int
	msg    string
}

func (e *httpError) Error() string   { return fmt.Sprintf("status %d: %s", e.status, e.msg) }
func (e *httpError) HTTPStatus() int { return e.status }

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	base := 10 * time.Millisecond
	calls := 0

	start := time.Now()
	out, err := Do(context.Background(), "test.op", Config{MaxAttempts: 3, BaseDelay: base}, func() (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("connection reset")
		}
		return "ok", nil
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, calls)
	// Sleeps base*1 then base*2 between the three attempts.
	assert.GreaterOrEqual(t, elapsed, 3*base)
	assert.Less(t, elapsed, 30*base)
}

func TestDoExhaustsAttemptsAndReturnsLastError(t *testing.T) {
	lastErr := errors.New("boom")
	calls := 0

	_, err := Do(context.Background(), "test.op", Config{MaxAttempts: 3, BaseDelay: time.Millisecond}, func() (int, error) {
		calls++
		return 0, lastErr
	})

	assert.Equal(t, 3, calls)
	// Surfaced unchanged, no wrapping.
	assert.Equal(t, lastErr, err)
}

func TestDoDoesNotRetryNotFound(t *testing.T) {
	for _, status := range []int{403, 404} {
		calls := 0
		orig := &httpError{status: status, msg: "gone"}

		_, err := Do(context.Background(), "test.op", Config{MaxAttempts: 5, BaseDelay: time.Millisecond}, func() (int, error) {
			calls++
			return 0, orig
		})

		assert.Equal(t, 1, calls, "status %d must not be retried", status)
		assert.Equal(t, orig, err)
	}
}

func TestDoResetsAuthOn401(t *testing.T) {
	resets := 0
	calls := 0

	out, err := Do(context.Background(), "test.op", Config{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		AuthReset:   func() { resets++ },
	}, func() (string, error) {
		calls++
		if calls == 1 {
			return "", &httpError{status: 401, msg: "token expired"}
		}
		return "fresh", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "fresh", out)
	assert.Equal(t, 1, resets)
	assert.Equal(t, 2, calls)
}

func TestDoHonoursContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := Do(ctx, "test.op", Config{MaxAttempts: 10, BaseDelay: 50 * time.Millisecond}, func() (int, error) {
		calls++
		return 0, errors.New("still down")
	})

	require.Error(t, err)
	assert.LessOrEqual(t, calls, 2)
}
