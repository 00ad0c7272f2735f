package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock abstracts time for anything schedule- or expiry-sensitive so tests
// can drive it with FakeClock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// NewSystemClock returns the wall clock in UTC.
func NewSystemClock() Clock {
	return systemClock{}
}

var Module = fx.Module("clock",
	fx.Provide(NewSystemClock),
)
