package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWithRetryRecovers(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), 3, time.Millisecond, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestWithRetryGivesUp(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := WithRetry(context.Background(), 2, time.Millisecond, func(context.Context) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 3, calls)
}

func TestWithRetryStopsOnPermanent(t *testing.T) {
	calls := 0
	reverted := errors.New("execution reverted")
	err := WithRetry(context.Background(), 5, time.Millisecond, func(context.Context) error {
		calls++
		return Permanent(reverted)
	})
	require.Equal(t, reverted, err)
	require.Equal(t, 1, calls)
}

func TestWithRetryHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithRetry(ctx, 5, time.Hour, func(context.Context) error {
		return errors.New("unavailable")
	})
	require.ErrorIs(t, err, context.Canceled)
}
