package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsAfterRetries(t *testing.T) {
	p := Policy{MaxAttempts: 3, Base: 2, Factor: time.Millisecond, Min: time.Millisecond, Max: 5 * time.Millisecond}
	attempts := 0
	err := Do(context.Background(), p, nil, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	p := Policy{MaxAttempts: 2, Base: 2, Factor: time.Millisecond, Min: time.Millisecond, Max: 5 * time.Millisecond}
	attempts := 0
	err := Do(context.Background(), p, nil, func(ctx context.Context) error {
		attempts++
		return errors.New("permanent")
	})
	require.Error(t, err)
	assert.Equal(t, 2, attempts)
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	p := DefaultPolicy()
	attempts := 0
	err := Do(context.Background(), p, func(error) bool { return false }, func(ctx context.Context) error {
		attempts++
		return errors.New("fatal")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_CancellationPropagates(t *testing.T) {
	p := Policy{MaxAttempts: 5, Base: 2, Factor: time.Second, Min: time.Second, Max: 10 * time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, p, nil, func(ctx context.Context) error {
			attempts++
			return errors.New("transient")
		})
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	err := <-done
	require.Error(t, err)
	assert.GreaterOrEqual(t, attempts, 1)
}
