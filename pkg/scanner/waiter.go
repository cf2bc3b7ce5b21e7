package scanner

import (
	"time"

	"github.com/matterctl/mdnsscan/pkg/monoclock"
)

// Waiter is a one-shot future cell plus an optional timeout timer (spec §3,
// §9 "Optional observers"). The channel returned by Chan is closed to wake
// the caller; a Waiter that
// is finished with resolve=false is removed from the registry without its
// channel ever being closed, so a caller blocked on it without its own
// cancellation path is abandoned per spec §5.
type Waiter struct {
	queryId                 string
	ch                      chan struct{}
	resolveOnUpdatedRecords bool
	timer                   monoclock.Timer
}

// Chan returns the channel that closes when the waiter is resolved.
func (w *Waiter) Chan() <-chan struct{} { return w.ch }

// WaiterRegistry implements spec §4.4. Like RecordCache, it owns no lock of
// its own.
type WaiterRegistry struct {
	clock   monoclock.Clock
	entries map[string]*Waiter
}

// NewWaiterRegistry constructs an empty registry.
func NewWaiterRegistry(clock monoclock.Clock) *WaiterRegistry {
	return &WaiterRegistry{clock: clock, entries: map[string]*Waiter{}}
}

// Has reports whether queryId currently has a pending waiter.
func (r *WaiterRegistry) Has(queryId string) bool {
	_, ok := r.entries[queryId]
	return ok
}

// Register creates exactly one pending future for queryId, per spec §4.4.
// A second Register for the same queryId replaces the previous one; the
// prior Waiter's channel is never closed, matching the registry's
// documented replace-without-signal semantics.
func (r *WaiterRegistry) Register(queryId string, timeout time.Duration, hasTimeout bool, resolveOnUpdatedRecords bool) *Waiter {
	w := &Waiter{
		queryId:                 queryId,
		ch:                      make(chan struct{}),
		resolveOnUpdatedRecords: resolveOnUpdatedRecords,
	}
	if hasTimeout {
		w.timer = r.clock.AfterFunc(timeout, func() {
			r.onTimerFire(w)
		})
	}
	r.entries[queryId] = w
	return w
}

// onTimerFire is the AfterFunc callback: it resolves the future currently
// registered for w.queryId, but only if it is still w — a later Register
// call may have already replaced it, in which case this fire is stale and
// must not touch the new entry.
func (r *WaiterRegistry) onTimerFire(w *Waiter) {
	if r.entries[w.queryId] != w {
		return
	}
	r.finishWaiter(w.queryId, w, true, false)
}

// Finish implements spec §4.4 finish(queryId, resolve, isUpdatedRecord).
func (r *WaiterRegistry) Finish(queryId string, resolve bool, isUpdatedRecord bool) {
	w, ok := r.entries[queryId]
	if !ok {
		return
	}
	r.finishWaiter(queryId, w, resolve, isUpdatedRecord)
}

func (r *WaiterRegistry) finishWaiter(queryId string, w *Waiter, resolve bool, isUpdatedRecord bool) {
	if isUpdatedRecord && !w.resolveOnUpdatedRecords {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	delete(r.entries, queryId)
	if resolve {
		close(w.ch)
	}
}

// FinishAll drains every pending waiter for Close() (spec §5): waiters that
// had a timeout are resolved, waiters with none are abandoned unsignaled.
func (r *WaiterRegistry) FinishAll() {
	for queryId, w := range r.entries {
		resolve := w.timer != nil
		r.finishWaiter(queryId, w, resolve, false)
	}
}
