package broadcast

import (
	"context"
	"time"
)

// Sleeper blocks for d or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

// Pacer throttles the gap between two consecutive sends of one run.
type Pacer interface {
	Pace(ctx context.Context) error
}

// FixedPacer waits a constant delay.
type FixedPacer struct {
	Delay   time.Duration
	Sleeper Sleeper
}

func (p FixedPacer) Pace(ctx context.Context) error {
	s := p.Sleeper
	if s == nil {
		s = realSleeper{}
	}
	return s.Sleep(ctx, p.Delay)
}

// FloodController owns both the proactive pacing and the reactive wait
// mandated by a flood-wait answer.
type FloodController struct {
	pacer   Pacer
	sleeper Sleeper
}

func NewFloodController(pacer Pacer, sleeper Sleeper) *FloodController {
	if sleeper == nil {
		sleeper = realSleeper{}
	}
	if pacer == nil {
		pacer = FixedPacer{Delay: defaultPacingDelay, Sleeper: sleeper}
	}
	return &FloodController{pacer: pacer, sleeper: sleeper}
}

func (f *FloodController) Pace(ctx context.Context) error { return f.pacer.Pace(ctx) }

// Wait suspends for exactly the platform-mandated duration.
func (f *FloodController) Wait(ctx context.Context, retryAfter time.Duration) error {
	return f.sleeper.Sleep(ctx, retryAfter)
}
