package triage

import "time"

// Throttle suppresses repeat notices for the same identity within a cool-down.
// It is not synchronized; State guards it.
type Throttle struct {
	cooldown time.Duration
	last     map[string]time.Time
}

func NewThrottle(cooldown time.Duration) *Throttle {
	return &Throttle{cooldown: cooldown, last: make(map[string]time.Time)}
}

// Allow reports whether a notice for name may go out at now, and if so records it.
func (t *Throttle) Allow(name string, now time.Time) bool {
	if last, ok := t.last[name]; ok && now.Sub(last) <= t.cooldown {
		return false
	}
	t.last[name] = now
	return true
}
