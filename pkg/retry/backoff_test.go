package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errBoom = errors.New("boom")

func fast(attempts int) Policy {
	return Policy{Attempts: attempts, Base: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2}
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast(5), zaptest.NewLogger(t), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_GivesUp(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast(2), zaptest.NewLogger(t), "op", func(context.Context) error {
		calls++
		return errBoom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "op failed after 2 attempts")
	assert.Equal(t, 2, calls)
}

func TestDo_Permanent(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast(5), zaptest.NewLogger(t), "op", func(context.Context) error {
		calls++
		return Permanent(errBoom)
	})
	assert.Equal(t, errBoom, err, "permanent errors come back unwrapped")
	assert.Equal(t, 1, calls)
	assert.Nil(t, Permanent(nil))
}

func TestDo_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Do(ctx, fast(3), zaptest.NewLogger(t), "op", func(context.Context) error {
		calls++
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{Base: time.Second, Max: 3 * time.Second, Factor: 2}
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 3*time.Second, p.Delay(5))

	flat := Policy{Base: time.Second}
	assert.Equal(t, time.Second, flat.Delay(4), "factor below 1 keeps the delay flat")

	jittered := Startup()
	for attempt := 1; attempt <= 6; attempt++ {
		d := jittered.Delay(attempt)
		assert.LessOrEqual(t, d, time.Duration(float64(jittered.Max)*1.15))
		assert.Greater(t, d, time.Duration(0))
	}
}
