package client

import "time"

// Scheduler runs a deferred flush callback. Schedule arms fn to run once,
// shortly, and returns a cancel func that prevents the run if it has not
// fired yet.
type Scheduler interface {
	Schedule(fn func()) (cancel func())
}

// TimerScheduler coalesces flushes on a short timer, roughly one display
// frame.
type TimerScheduler struct {
	Interval time.Duration
}

func (s TimerScheduler) Schedule(fn func()) func() {
	iv := s.Interval
	if iv <= 0 {
		iv = 16 * time.Millisecond
	}
	t := time.AfterFunc(iv, fn)
	return func() { t.Stop() }
}
