package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

type RateLimiter interface {
	Wait(ctx context.Context) error
	SetDelay(min, max time.Duration)
}

// Pacer sleeps a delay drawn from [min, max) on every Wait. With min == max
// the delay is fixed.
type Pacer struct {
	minDelay time.Duration
	maxDelay time.Duration
	mu       sync.Mutex
	rnd      *rand.Rand
}

func NewPacer(minDelay, maxDelay time.Duration) *Pacer {
	p := &Pacer{
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	p.SetDelay(minDelay, maxDelay)
	return p
}

func (p *Pacer) Wait(ctx context.Context) error {
	delay := p.nextDelay()
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *Pacer) SetDelay(min, max time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if max < min {
		max = min
	}
	p.minDelay = min
	p.maxDelay = max
}

func (p *Pacer) nextDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.minDelay == p.maxDelay {
		return p.minDelay
	}

	delta := p.maxDelay - p.minDelay
	return p.minDelay + time.Duration(p.rnd.Int63n(int64(delta)))
}

// NoWait never blocks. Used by tests and for pacing disabled via config.
type NoWait struct{}

func (NoWait) Wait(ctx context.Context) error { return ctx.Err() }
func (NoWait) SetDelay(_, _ time.Duration) {}
