// Package replay paces the day-by-day playback of a simulation so a client
// can watch it unfold in real time.
package replay

import (
	"context"

	"golang.org/x/time/rate"
)

// Pacer releases at most speed bars per second. A zero or negative speed
// disables pacing (as fast as possible). One Pacer belongs to one request.
type Pacer struct {
	limiter *rate.Limiter
	started bool
}

// NewPacer creates a pacer for the given playback speed in bars per second.
func NewPacer(speed float64) *Pacer {
	if speed <= 0 {
		return &Pacer{}
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Limit(speed), 1)}
}

// Wait blocks until the next bar may be emitted or ctx is done.
// The first call returns immediately; later calls are spaced 1/speed apart.
func (p *Pacer) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.limiter == nil {
		return nil
	}
	if !p.started {
		// consume the initial burst token so the next Wait is a full interval away
		p.started = true
		p.limiter.Allow()
		return nil
	}
	return p.limiter.Wait(ctx)
}
