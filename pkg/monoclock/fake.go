package monoclock

import (
	"sync"
	"time"
)

// FakeClock is a deterministic Clock for tests. Time only advances when
// Advance is called; AfterFunc/NewPeriodic callbacks run synchronously on
// the calling goroutine during Advance, in fire-time order.
type FakeClock struct {
	mu       sync.Mutex
	nowMs    int64
	pending  []*fakeTimer
	periodic []*fakePeriodic
	seq      int
}

// NewFakeClock returns a FakeClock starting at the given millisecond epoch.
func NewFakeClock(startMs int64) *FakeClock {
	return &FakeClock{nowMs: startMs}
}

type fakeTimer struct {
	fireAt  int64
	seq     int
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	already := t.stopped
	t.stopped = true
	return !already
}

type fakePeriodic struct {
	interval int64
	nextFire int64
	fn       func()
	stopped  bool
}

func (p *fakePeriodic) Stop() {
	p.stopped = true
}

// NowMs implements Clock.
func (c *FakeClock) NowMs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowMs
}

// AfterFunc implements Clock.
func (c *FakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{fireAt: c.nowMs + d.Milliseconds(), seq: c.seq, fn: fn}
	c.pending = append(c.pending, t)
	return t
}

// NewPeriodic implements Clock.
func (c *FakeClock) NewPeriodic(d time.Duration, fn func()) PeriodicTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := &fakePeriodic{interval: d.Milliseconds(), nextFire: c.nowMs + d.Milliseconds(), fn: fn}
	c.periodic = append(c.periodic, p)
	return p
}

// Advance moves the fake clock forward by d, running every timer/periodic
// callback whose fire time falls within the new window, in fire-time order.
func (c *FakeClock) Advance(d time.Duration) {
	target := c.NowMs() + d.Milliseconds()

	for {
		c.mu.Lock()
		var due *fakeTimer
		dueIdx := -1
		for i, t := range c.pending {
			if t.stopped {
				continue
			}
			if t.fireAt > target {
				continue
			}
			if due == nil || t.fireAt < due.fireAt || (t.fireAt == due.fireAt && t.seq < due.seq) {
				due = t
				dueIdx = i
			}
		}

		var duePeriodic *fakePeriodic
		for _, p := range c.periodic {
			if p.stopped {
				continue
			}
			if p.nextFire > target {
				continue
			}
			if duePeriodic == nil || p.nextFire < duePeriodic.nextFire {
				duePeriodic = p
			}
		}

		switch {
		case due != nil && (duePeriodic == nil || due.fireAt <= duePeriodic.nextFire):
			c.pending = append(c.pending[:dueIdx], c.pending[dueIdx+1:]...)
			due.stopped = true
			c.nowMs = due.fireAt
			fn := due.fn
			c.mu.Unlock()
			if fn != nil {
				fn()
			}
		case duePeriodic != nil:
			c.nowMs = duePeriodic.nextFire
			duePeriodic.nextFire += duePeriodic.interval
			fn := duePeriodic.fn
			c.mu.Unlock()
			if fn != nil {
				fn()
			}
		default:
			c.nowMs = target
			c.mu.Unlock()
			return
		}
	}
}

var _ Clock = (*FakeClock)(nil)
