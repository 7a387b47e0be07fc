package core

import "time"

// Clock abstracts wall-clock reads so that time-dependent rules
// (code expiry, same-day checks) stay testable.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func NewClock() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now().UTC()
}
