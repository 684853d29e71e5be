package extract

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterExhaustsAndRefills(t *testing.T) {
	r := NewRateLimiter(2, 50*time.Millisecond)

	assert.True(t, r.tryTake())
	assert.True(t, r.tryTake())
	assert.False(t, r.tryTake())

	time.Sleep(60 * time.Millisecond)
	assert.True(t, r.tryTake())
}

func TestRateLimiterCapsAtMaxTokens(t *testing.T) {
	r := NewRateLimiter(2, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	assert.True(t, r.tryTake())
	assert.True(t, r.tryTake())
	assert.False(t, r.tryTake())
}

func TestRateLimiterWaitHonorsCancellation(t *testing.T) {
	r := NewRateLimiter(1, time.Hour)
	require.NoError(t, r.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.Wait(ctx), context.Canceled)
}
