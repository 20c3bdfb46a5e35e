package room

import (
	"log"
	"sync"
	"time"
)

// CloseGracePeriod is how long a room may sit at one or zero participants
// before an observing client ends it.
const CloseGracePeriod = 5 * time.Second

// CloseWatcher implements the client-elected close-grace timer. Every client
// observing a room runs one; whichever watcher's timer fires first ends the
// room. This is deliberately not a single authoritative timer — the
// designated closer may itself disconnect mid-countdown, and EndRoom is
// idempotent, so letting any surviving participant fire it removes the
// single point of failure.
type CloseWatcher struct {
	mu     sync.Mutex
	grace  time.Duration
	timer  *time.Timer
	closed bool
	endFn  func() // invokes the idempotent EndRoom
}

// NewCloseWatcher creates a watcher that calls endFn when the grace period
// elapses with the room at one or zero participants.
func NewCloseWatcher(endFn func()) *CloseWatcher {
	return &CloseWatcher{grace: CloseGracePeriod, endFn: endFn}
}

// NewCloseWatcherGrace is NewCloseWatcher with an explicit grace period.
func NewCloseWatcherGrace(grace time.Duration, endFn func()) *CloseWatcher {
	return &CloseWatcher{grace: grace, endFn: endFn}
}

// Observe reacts to a participant-count change. A drop to <=1 arms the
// timer; a recovery above 1 disarms it. Repeated observations at the same
// level leave an armed timer running rather than restarting the countdown.
func (w *CloseWatcher) Observe(participantCount int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	if participantCount > 1 {
		w.disarmLocked()
		return
	}

	if w.timer != nil {
		return // already counting down
	}
	w.timer = time.AfterFunc(w.grace, w.fire)
}

// fire runs on the timer goroutine once the grace period elapses.
func (w *CloseWatcher) fire() {
	w.mu.Lock()
	if w.closed || w.timer == nil {
		w.mu.Unlock()
		return
	}
	w.timer = nil
	w.mu.Unlock()

	log.Printf("[room] close grace elapsed, ending room")
	w.endFn()
}

// Stop tears the watcher down synchronously. After Stop returns, the timer
// can no longer fire — a client leaving a room must not later end a room it
// no longer belongs to.
func (w *CloseWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.disarmLocked()
}

// Armed reports whether the countdown is currently running.
func (w *CloseWatcher) Armed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timer != nil
}

func (w *CloseWatcher) disarmLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
