package monoclock

import "time"

// Timer is a cancellable one-shot timer handle.
type Timer interface {
	// Stop prevents the timer from firing. Returns false if it already fired
	// or was already stopped.
	Stop() bool
}

// PeriodicTimer is a cancellable repeating timer handle.
type PeriodicTimer interface {
	// Stop halts the periodic timer. Safe to call more than once.
	Stop()
}

// Clock is the monotonic time and timer dependency described in spec §6.
// The scanner never calls time.Now/time.AfterFunc/time.NewTicker directly;
// every call site goes through a Clock so tests can substitute FakeClock.
type Clock interface {
	// NowMs returns a monotonically non-decreasing millisecond timestamp.
	// Only differences between two NowMs() calls are meaningful.
	NowMs() int64

	// AfterFunc arranges for fn to run once after d elapses.
	AfterFunc(d time.Duration, fn func()) Timer

	// NewPeriodic arranges for fn to run repeatedly every d, starting after
	// the first interval elapses.
	NewPeriodic(d time.Duration, fn func()) PeriodicTimer
}

// SystemClock is the production Clock backed by the time package.
type SystemClock struct{}

// NewSystemClock returns the production Clock implementation.
func NewSystemClock() SystemClock { return SystemClock{} }

// systemClockEpoch anchors SystemClock.NowMs; time.Since reads the monotonic
// clock, so NowMs does not jump when the wall clock is adjusted.
var systemClockEpoch = time.Now()

// NowMs implements Clock.
func (SystemClock) NowMs() int64 {
	return time.Since(systemClockEpoch).Milliseconds()
}

// AfterFunc implements Clock.
func (SystemClock) AfterFunc(d time.Duration, fn func()) Timer {
	return realTimer{t: time.AfterFunc(d, fn)}
}

// NewPeriodic implements Clock.
func (SystemClock) NewPeriodic(d time.Duration, fn func()) PeriodicTimer {
	ticker := time.NewTicker(d)
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				fn()
			case <-stop:
				return
			}
		}
	}()
	return &realPeriodic{ticker: ticker, stop: stop}
}

type realTimer struct {
	t *time.Timer
}

func (r realTimer) Stop() bool { return r.t.Stop() }

type realPeriodic struct {
	ticker *time.Ticker
	stop   chan struct{}
	closed bool
}

func (r *realPeriodic) Stop() {
	if r.closed {
		return
	}
	r.closed = true
	r.ticker.Stop()
	close(r.stop)
}
