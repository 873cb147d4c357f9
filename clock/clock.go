// Package clock tracks the two nanosecond timelines of a guest: host time,
// which advances with real ticks, and guest time, which advances when the
// guest sleeps.
//
// The guest is always at or ahead of the host between ticks. A tick runs the
// guest until guest time catches up with host time again.
package clock

import "math"

const nanosPerSecond = 1_000_000_000

// Clock is not safe for concurrent use. Callers serialise access.
type Clock struct {
	host       uint64
	guest      uint64
	overridden bool
}

// Host returns the accumulated host time.
func (c *Clock) Host() uint64 { return c.host }

// Guest returns the time the guest has slept through.
func (c *Clock) Guest() uint64 { return c.guest }

// Behind reports whether the guest still owes execution for this tick.
func (c *Clock) Behind() bool { return c.guest < c.host }

// Lead is how far guest time is ahead of host time, zero when behind.
func (c *Clock) Lead() uint64 {
	if c.guest <= c.host {
		return 0
	}
	return c.guest - c.host
}

// Observed is the time the guest sees: host time while an override is active,
// guest time otherwise.
func (c *Clock) Observed() uint64 {
	if c.overridden {
		return c.host
	}
	return c.guest
}

// Overridden reports whether an override is active.
func (c *Clock) Overridden() bool { return c.overridden }

// AdvanceHost adds ns to host time, saturating at the maximum.
func (c *Clock) AdvanceHost(ns uint64) uint64 {
	c.host = saturatingAdd(c.host, ns)
	return c.host
}

// AdvanceGuest adds ns to guest time, saturating at the maximum.
func (c *Clock) AdvanceGuest(ns uint64) uint64 {
	c.guest = saturatingAdd(c.guest, ns)
	return c.guest
}

// Override switches Observed to host time and returns it.
func (c *Clock) Override() uint64 {
	c.overridden = true
	return c.host
}

// Restore ends an override and returns guest time.
func (c *Clock) Restore() uint64 {
	c.overridden = false
	return c.guest
}

// Reset zeroes both timelines.
func (c *Clock) Reset() {
	*c = Clock{}
}

// Split breaks ns into whole seconds and the nanosecond remainder.
func Split(ns uint64) (sec, nsec uint64) {
	return ns / nanosPerSecond, ns % nanosPerSecond
}

// Join is the inverse of Split.
func Join(sec, nsec uint64) uint64 {
	if sec > (math.MaxUint64-nsec)/nanosPerSecond {
		return math.MaxUint64
	}
	return sec*nanosPerSecond + nsec
}

func saturatingAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
