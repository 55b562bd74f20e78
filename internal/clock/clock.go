package clock

import "time"

// Clock abstracts wall-clock reads so expiry and due-date logic can be
// driven deterministically in tests. All times are UTC.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// System returns the real clock.
func System() Clock {
	return systemClock{}
}

// Fixed is a settable clock for tests.
type Fixed struct {
	Current time.Time
}

func (f *Fixed) Now() time.Time {
	return f.Current.UTC()
}

// Advance moves the fixed clock forward.
func (f *Fixed) Advance(d time.Duration) {
	f.Current = f.Current.Add(d)
}
