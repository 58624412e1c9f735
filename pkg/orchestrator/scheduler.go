package orchestrator

import "time"

// Timer is a pending scheduled call.
type Timer interface {
	// Stop prevents the call from running. It returns false if the call
	// already ran or was stopped.
	Stop() bool
}

// Scheduler runs f after d. Tests substitute a manual clock.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealScheduler schedules on the wall clock.
func RealScheduler() Scheduler { return realScheduler{} }
