package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacer_FixedDelay(t *testing.T) {
	p := NewPacer(20*time.Millisecond, 20*time.Millisecond)

	start := time.Now()
	require.NoError(t, p.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestPacer_JitterStaysInRange(t *testing.T) {
	p := NewPacer(10*time.Millisecond, 30*time.Millisecond)

	for i := 0; i < 100; i++ {
		d := p.nextDelay()
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.Less(t, d, 30*time.Millisecond)
	}
}

func TestPacer_MaxBelowMinIsClamped(t *testing.T) {
	p := NewPacer(50*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, 50*time.Millisecond, p.nextDelay())
}

func TestPacer_ZeroDelay(t *testing.T) {
	p := NewPacer(0, 0)

	start := time.Now()
	require.NoError(t, p.Wait(context.Background()))
	assert.Less(t, time.Since(start), 10*time.Millisecond)
}

func TestPacer_Cancelled(t *testing.T) {
	p := NewPacer(time.Hour, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPacer_SetDelay(t *testing.T) {
	p := NewPacer(time.Second, time.Second)
	p.SetDelay(5*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, 5*time.Millisecond, p.nextDelay())
}

func TestNoWait(t *testing.T) {
	var l RateLimiter = NoWait{}
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Wait(ctx), context.Canceled)
}
