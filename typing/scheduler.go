package typing

import "time"

// Timer is a fire-once handle that can be stopped before it fires.
type Timer interface {
	Stop() bool
}

// Scheduler arms fire-once timers. Abstracted so the coordinator's debounce
// and expiry behavior is testable without real time.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

type wallScheduler struct{}

func (wallScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// WallClock schedules on real time.
func WallClock() Scheduler { return wallScheduler{} }
