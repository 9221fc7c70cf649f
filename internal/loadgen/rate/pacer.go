// Package rate paces iteration starts for arrival-rate executors.
package rate

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// MinRate is the lowest rate, in iterations per second, the pacer will
// release at. Lower targets pause releases instead; config validation
// rejects configured rates that are positive but below it (0.6 per minute).
const MinRate = 0.01

// recheck bounds how long Wait sleeps before looking at the rate again.
const recheck = 100 * time.Millisecond

// Pacer releases iterations at a target rate.
//
// It is a token bucket with a burst of one: changing the rate never releases
// a backlog of accumulated tokens, so ramping down or recovering from a
// stall does not produce a burst. The first Wait returns immediately.
type Pacer struct {
	limiter *rate.Limiter
	target  atomic.Uint64
}

// NewPacer creates a pacer releasing perSecond iterations per second.
func NewPacer(perSecond float64) *Pacer {
	p := &Pacer{limiter: rate.NewLimiter(rate.Limit(clamp(perSecond)), 1)}
	p.target.Store(math.Float64bits(perSecond))
	return p
}

// Wait blocks until the next iteration may start or ctx is done.
//
// A release further away than 100ms is not held: Wait sleeps in short
// slices and reserves again, so a rate raised by SetRate takes effect on
// the waiting caller. While the pacer is paused Wait releases nothing.
func (p *Pacer) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if p.Paused() {
			if err := sleep(ctx, recheck); err != nil {
				return err
			}
			continue
		}

		r := p.limiter.Reserve()
		delay := r.Delay()
		if delay <= recheck {
			if err := sleep(ctx, delay); err != nil {
				r.Cancel()
				return err
			}
			return nil
		}

		r.Cancel()
		if err := sleep(ctx, recheck); err != nil {
			return err
		}
	}
}

// SetRate changes the release rate. It takes effect for the next Wait.
func (p *Pacer) SetRate(perSecond float64) {
	p.target.Store(math.Float64bits(perSecond))
	p.limiter.SetLimit(rate.Limit(clamp(perSecond)))
}

// Rate returns the requested rate in iterations per second.
func (p *Pacer) Rate() float64 {
	return math.Float64frombits(p.target.Load())
}

// Paused reports whether the requested rate is below MinRate.
func (p *Pacer) Paused() bool {
	return p.Rate() < MinRate
}

func clamp(perSecond float64) float64 {
	if perSecond < MinRate {
		return MinRate
	}
	return perSecond
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
