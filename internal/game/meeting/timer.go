package meeting

import (
	"sync"
	"time"
)

// DeadlineTimer fires a callback once after a duration unless stopped.
// It is safe for concurrent use.
type DeadlineTimer struct {
	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
	fired   bool
}

// NewDeadlineTimer creates and starts a timer that calls onFire after d.
// onFire is called in a separate goroutine.
//
// Precondition: d > 0; onFire must not be nil.
// Postcondition: onFire will be called exactly once unless Stop is called first.
func NewDeadlineTimer(d time.Duration, onFire func()) *DeadlineTimer {
	dt := &DeadlineTimer{}
	dt.mu.Lock()
	defer dt.mu.Unlock()
	dt.timer = time.AfterFunc(d, func() {
		dt.mu.Lock()
		if dt.stopped || dt.fired {
			dt.mu.Unlock()
			return
		}
		dt.fired = true
		dt.mu.Unlock()
		onFire()
	})
	return dt
}

// Stop prevents the callback from firing. Safe to call multiple times and
// after the timer has already fired.
//
// Postcondition: onFire will not start after Stop returns.
func (dt *DeadlineTimer) Stop() {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	dt.stopped = true
	dt.timer.Stop()
}

// Fired reports whether the callback has been started.
func (dt *DeadlineTimer) Fired() bool {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	return dt.fired
}
