package triage

import "time"

// Counter numbers candidates per local calendar day.
type Counter struct {
	y     int
	m     time.Month
	d     int
	value int
}

// Roll resets the counter when now falls on a different local date than the
// last call. Returns true if it reset.
func (c *Counter) Roll(now time.Time) bool {
	y, m, d := now.Date()
	if y == c.y && m == c.m && d == c.d {
		return false
	}
	c.y, c.m, c.d = y, m, d
	c.value = 0
	return true
}

// Next rolls if needed and returns the next sequence number for today, starting at 1.
func (c *Counter) Next(now time.Time) int {
	c.Roll(now)
	c.value++
	return c.value
}

// Value returns the last number handed out today.
func (c *Counter) Value() int { return c.value }
