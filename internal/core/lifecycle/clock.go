package lifecycle

import "time"

// Timer is a pending single-shot callback.
type Timer interface {
	Stop() bool
}

// Clock supplies time and single-shot timers to a Manager.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

// RealClock is the wall clock.
var RealClock Clock = realClock{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
