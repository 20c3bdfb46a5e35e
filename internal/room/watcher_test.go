package room

import (
	"sync/atomic"
	"testing"
	"time"
)

const testGrace = 30 * time.Millisecond

func TestCloseWatcher_FiresAfterGrace(t *testing.T) {
	var fired atomic.Int32
	w := NewCloseWatcherGrace(testGrace, func() { fired.Add(1) })

	w.Observe(1)
	if !w.Armed() {
		t.Fatal("expected countdown to be armed at one participant")
	}

	time.Sleep(3 * testGrace)
	if got := fired.Load(); got != 1 {
		t.Errorf("expected endFn to fire once, fired %d times", got)
	}
	if w.Armed() {
		t.Error("expected watcher to disarm after firing")
	}
}

func TestCloseWatcher_RecoveryDisarms(t *testing.T) {
	var fired atomic.Int32
	w := NewCloseWatcherGrace(testGrace, func() { fired.Add(1) })

	w.Observe(1)
	w.Observe(2)
	if w.Armed() {
		t.Fatal("expected recovery above one participant to disarm")
	}

	time.Sleep(3 * testGrace)
	if got := fired.Load(); got != 0 {
		t.Errorf("expected endFn not to fire, fired %d times", got)
	}
}

func TestCloseWatcher_RepeatedObservationsKeepCountdown(t *testing.T) {
	var fired atomic.Int32
	w := NewCloseWatcherGrace(testGrace, func() { fired.Add(1) })

	// Repeated low observations must not restart the countdown; otherwise a
	// chatty publisher could postpone the close indefinitely.
	w.Observe(1)
	time.Sleep(testGrace / 2)
	w.Observe(0)
	time.Sleep(testGrace)

	if got := fired.Load(); got != 1 {
		t.Errorf("expected endFn to fire once, fired %d times", got)
	}
}

func TestCloseWatcher_ZeroParticipantsArms(t *testing.T) {
	var fired atomic.Int32
	w := NewCloseWatcherGrace(testGrace, func() { fired.Add(1) })

	w.Observe(0)
	if !w.Armed() {
		t.Fatal("expected countdown to be armed at zero participants")
	}
}

func TestCloseWatcher_StopPreventsFiring(t *testing.T) {
	var fired atomic.Int32
	w := NewCloseWatcherGrace(testGrace, func() { fired.Add(1) })

	w.Observe(1)
	w.Stop()

	time.Sleep(3 * testGrace)
	if got := fired.Load(); got != 0 {
		t.Errorf("expected endFn not to fire after Stop, fired %d times", got)
	}

	// Observations after Stop are ignored.
	w.Observe(1)
	if w.Armed() {
		t.Error("expected stopped watcher to ignore observations")
	}
}
