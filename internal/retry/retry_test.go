package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(retries int) Config {
	return Config{MaxRetries: retries, InitialBackoff: time.Millisecond}
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	called := 0
	err := Do(context.Background(), fastConfig(5), func() error {
		called++
		if called < 3 {
			return errors.New("temporary error")
		}
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 3, called)
}

func TestDo_ExhaustedRetries(t *testing.T) {
	called := 0
	testErr := errors.New("persistent error")
	err := Do(context.Background(), fastConfig(3), func() error {
		called++
		return testErr
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 3, called)
	assert.ErrorIs(t, err, testErr)
	assert.Contains(t, err.Error(), "failed after 3 retries")
}

func TestDo_NonRetryableError(t *testing.T) {
	fatal := errors.New("fatal")
	called := 0
	err := Do(context.Background(), fastConfig(5), func() error {
		called++
		if called == 2 {
			return fatal
		}
		return errors.New("retryable")
	}, func(err error) bool {
		return !errors.Is(err, fatal)
	})

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 2, called)
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := Config{MaxRetries: 10, InitialBackoff: 50 * time.Millisecond}
	called := 0
	err := Do(ctx, cfg, func() error {
		called++
		if called == 2 {
			cancel()
		}
		return errors.New("error")
	}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, called, 3)
}

func TestUntil(t *testing.T) {
	t.Run("becomes ready", func(t *testing.T) {
		polls := 0
		err := Until(context.Background(), fastConfig(5), func() (bool, error) {
			polls++
			return polls == 3, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, polls)
	})

	t.Run("never ready", func(t *testing.T) {
		err := Until(context.Background(), fastConfig(2), func() (bool, error) {
			return false, nil
		})
		assert.ErrorIs(t, err, ErrNotReady)
	})

	t.Run("condition error aborts", func(t *testing.T) {
		boom := errors.New("stat failed")
		polls := 0
		err := Until(context.Background(), fastConfig(5), func() (bool, error) {
			polls++
			return false, boom
		})
		assert.Equal(t, boom, err)
		assert.Equal(t, 1, polls)
	})
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		attempt  int
		expected time.Duration
	}{
		{"first", Config{InitialBackoff: 10 * time.Millisecond, MaxRetries: 5}, 1, 10 * time.Millisecond},
		{"exponential", Config{InitialBackoff: 10 * time.Millisecond, MaxRetries: 5}, 4, 80 * time.Millisecond},
		{"capped", Config{InitialBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond, MaxRetries: 5}, 5, 50 * time.Millisecond},
		{"jitter", Config{InitialBackoff: 100 * time.Millisecond, MaxRetries: 5, Jitter: 0.5}, 2, 240 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, calculateBackoff(tt.cfg, tt.attempt))
		})
	}
}
