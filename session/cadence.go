package session

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
)

// Cadence schedules loop iterations. Wait returns when the next frame is
// due, or with ctx's error once the loop is halted.
type Cadence interface {
	Wait(ctx context.Context) error
}

// Refresh paces the loop at a display refresh rate. A frame that overruns
// its slot starts the next one immediately instead of queueing ticks.
type Refresh struct {
	period time.Duration
	clock  clock.Clock
	next   time.Time
}

func NewRefresh(hz int, c clock.Clock) *Refresh {
	if hz <= 0 {
		hz = 60
	}
	if c == nil {
		c = clock.New()
	}
	return &Refresh{period: time.Second / time.Duration(hz), clock: c}
}

func (r *Refresh) Wait(ctx context.Context) error {
	now := r.clock.Now()
	if r.next.IsZero() || r.next.Before(now) {
		r.next = now
	}
	d := r.next.Sub(now)
	r.next = r.next.Add(r.period)
	return sleep(ctx, r.clock, d)
}

// Interval sleeps a fixed delay after each frame.
type Interval struct {
	delay time.Duration
	clock clock.Clock
}

func NewInterval(d time.Duration, c clock.Clock) *Interval {
	if c == nil {
		c = clock.New()
	}
	return &Interval{delay: d, clock: c}
}

func (i *Interval) Wait(ctx context.Context) error {
	return sleep(ctx, i.clock, i.delay)
}

func sleep(ctx context.Context, c clock.Clock, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	t := c.Timer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NewCadence builds the named cadence, "refresh" or "interval".
func NewCadence(kind string, hz int, interval time.Duration, c clock.Clock) (Cadence, error) {
	switch kind {
	case "", "refresh":
		return NewRefresh(hz, c), nil
	case "interval":
		return NewInterval(interval, c), nil
	}
	return nil, fmt.Errorf("unknown cadence %q", kind)
}
