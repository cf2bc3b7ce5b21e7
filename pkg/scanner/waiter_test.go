package scanner

import (
	"testing"
	"time"

	"github.com/matterctl/mdnsscan/pkg/monoclock"
)

func TestWaiterRegistryFinishResolves(t *testing.T) {
	clock := monoclock.NewFakeClock(0)
	r := NewWaiterRegistry(clock)

	w := r.Register("q1", 0, false, true)
	r.Finish("q1", true, false)

	select {
	case <-w.Chan():
	default:
		t.Fatal("channel not closed after Finish(resolve=true)")
	}
	if r.Has("q1") {
		t.Error("entry still present after Finish")
	}
}

func TestWaiterRegistryFinishFalseAbandonsWithoutSignal(t *testing.T) {
	clock := monoclock.NewFakeClock(0)
	r := NewWaiterRegistry(clock)

	w := r.Register("q1", 0, false, true)
	r.Finish("q1", false, false)

	select {
	case <-w.Chan():
		t.Fatal("channel closed after Finish(resolve=false), want abandoned")
	default:
	}
	if r.Has("q1") {
		t.Error("entry still present after Finish")
	}
}

func TestWaiterRegistryFinishIsUpdatedRecordNoOpForStreaming(t *testing.T) {
	clock := monoclock.NewFakeClock(0)
	r := NewWaiterRegistry(clock)

	w := r.Register("q1", 0, false, false) // streaming: resolveOnUpdatedRecords=false
	r.Finish("q1", true, true)             // a refresh of an already-seen device

	select {
	case <-w.Chan():
		t.Fatal("channel closed on isUpdatedRecord finish, want no-op")
	default:
	}
	if !r.Has("q1") {
		t.Error("entry removed on no-op finish, want retained")
	}
}

func TestWaiterRegistryRegisterReplacesPrevious(t *testing.T) {
	clock := monoclock.NewFakeClock(0)
	r := NewWaiterRegistry(clock)

	first := r.Register("q1", 0, false, true)
	second := r.Register("q1", 0, false, true)

	r.Finish("q1", true, false)

	select {
	case <-second.Chan():
	default:
		t.Fatal("second waiter not resolved")
	}
	select {
	case <-first.Chan():
		t.Fatal("first (replaced) waiter was resolved, want abandoned")
	default:
	}
}

func TestWaiterRegistryTimeoutResolves(t *testing.T) {
	clock := monoclock.NewFakeClock(0)
	r := NewWaiterRegistry(clock)

	w := r.Register("q1", 5*time.Second, true, true)
	clock.Advance(5 * time.Second)

	select {
	case <-w.Chan():
	default:
		t.Fatal("timeout did not resolve waiter")
	}
	if r.Has("q1") {
		t.Error("entry still present after timeout")
	}
}

func TestWaiterRegistryStaleTimerDoesNotFireReplacedWaiter(t *testing.T) {
	clock := monoclock.NewFakeClock(0)
	r := NewWaiterRegistry(clock)

	first := r.Register("q1", 1*time.Second, true, true)
	_ = first
	second := r.Register("q1", 5*time.Second, true, true)

	clock.Advance(1 * time.Second)

	select {
	case <-second.Chan():
		t.Fatal("stale timer resolved the replacement waiter")
	default:
	}
	if !r.Has("q1") {
		t.Error("replacement waiter entry missing after stale timer fire")
	}
}

func TestWaiterRegistryFinishAllResolvesTimedOnlyLeavesAbandoned(t *testing.T) {
	clock := monoclock.NewFakeClock(0)
	r := NewWaiterRegistry(clock)

	timed := r.Register("with-timeout", 10*time.Second, true, true)
	untimed := r.Register("without-timeout", 0, false, true)

	r.FinishAll()

	select {
	case <-timed.Chan():
	default:
		t.Error("timed waiter not resolved by FinishAll")
	}
	select {
	case <-untimed.Chan():
		t.Error("untimed waiter resolved by FinishAll, want abandoned")
	default:
	}
}
