// Package monoclock provides the monotonic time and timer collaborator the
// scanner core uses instead of touching time.Now/time.AfterFunc directly.
//
// SystemClock runs timer callbacks on their own goroutines; FakeClock runs
// them synchronously on the goroutine that calls Advance. Neither takes any
// lock of the caller's: the scanner wraps every callback it schedules so
// that it runs under the scanner's own mutex.
package monoclock
