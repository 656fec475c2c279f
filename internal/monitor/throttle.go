package monitor

import "time"

// Throttle limits an action to at most once per wall-clock interval. Time
// that passes between checks accumulates, so a check that comes late is
// not followed by a burst.
type Throttle struct {
	interval    time.Duration
	accumulator time.Duration
	last        time.Time
	now         func() time.Time
}

// NewThrottle returns a throttle that is ready on its first check. A
// non-positive interval makes every check ready.
func NewThrottle(interval time.Duration) *Throttle {
	t := &Throttle{now: time.Now}
	t.SetInterval(interval)
	t.accumulator = t.interval
	return t
}

// SetInterval changes the interval.
func (t *Throttle) SetInterval(interval time.Duration) {
	t.interval = max(interval, 0)
}

// Interval returns the configured interval.
func (t *Throttle) Interval() time.Duration { return t.interval }

// Ready reports whether an interval has elapsed since the last ready check.
func (t *Throttle) Ready() bool {
	now := t.now()
	if t.last.IsZero() {
		t.last = now
	}
	t.accumulator += now.Sub(t.last)
	t.last = now
	if t.accumulator >= t.interval {
		t.accumulator = 0
		return true
	}
	return false
}
