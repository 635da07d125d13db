// Package ratelimit paces repeated probes such as DOM selector polls.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Interval lets one probe through per interval. The first Wait returns
// immediately so a poll checks its condition before sleeping.
type Interval struct {
	limiter *rate.Limiter
	mu      sync.RWMutex
}

// NewInterval creates an Interval. A non-positive interval disables pacing.
func NewInterval(every time.Duration) *Interval {
	return &Interval{
		limiter: rate.NewLimiter(limitFor(every), 1),
	}
}

func limitFor(every time.Duration) rate.Limit {
	if every <= 0 {
		return rate.Inf
	}
	return rate.Every(every)
}

// Wait blocks until the next probe is allowed or ctx is done.
func (i *Interval) Wait(ctx context.Context) error {
	i.mu.RLock()
	limiter := i.limiter
	i.mu.RUnlock()
	return limiter.Wait(ctx)
}

// SetInterval changes the pacing of subsequent probes.
func (i *Interval) SetInterval(every time.Duration) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.limiter.SetLimit(limitFor(every))
}

// Poll calls probe once per interval until it reports done or timeout
// elapses. When the next interval would land past the timeout, probe runs a
// last time at the deadline. Probe errors do not stop the poll; the last one
// is returned if the condition never held. Cancellation of ctx is returned
// as ctx's error.
func Poll(ctx context.Context, every, timeout time.Duration, probe func(ctx context.Context) (bool, error)) (bool, error) {
	deadline := time.Now().Add(timeout)
	pollCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	pacer := NewInterval(every)
	var lastErr error
	for {
		if err := pacer.Wait(pollCtx); err != nil {
			// The limiter refuses a token it could only grant after the
			// deadline.
			if !sleepUntil(ctx, deadline) {
				break
			}
			ok, err := probe(ctx)
			if ok {
				return true, nil
			}
			if err != nil {
				lastErr = err
			}
			break
		}
		ok, err := probe(pollCtx)
		if ok {
			return true, nil
		}
		if err != nil {
			lastErr = err
		}
		if pollCtx.Err() != nil {
			break
		}
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return false, lastErr
}

func sleepUntil(ctx context.Context, t time.Time) bool {
	timer := time.NewTimer(time.Until(t))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
