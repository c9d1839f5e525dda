package rotation

import "time"

// TimeUnitPolicy maps a rotation interval expressed in days onto real
// durations, and snaps "now" to the sweep's rotation boundary. The
// production policy uses whole days; the development policy compresses
// days to seconds so a full rotation cycle is observable in a test
// session.
type TimeUnitPolicy interface {
	// Interval converts a configured interval in days to a duration.
	Interval(days int) time.Duration

	// RotateBy returns the boundary timestamp: every resource whose
	// next rotation falls at or before it is considered due.
	RotateBy(now time.Time) time.Time
}

// DayPolicy is the production policy: days mean days, and the sweep
// boundary snaps forward to the next UTC midnight so resources due
// later the same day rotate in this sweep rather than the next one.
type DayPolicy struct{}

func (DayPolicy) Interval(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}

func (DayPolicy) RotateBy(now time.Time) time.Time {
	utc := now.UTC()
	midnight := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	return midnight.Add(24 * time.Hour)
}

// SecondPolicy is the development policy: a "day" lasts one second
// and the boundary is simply now.
type SecondPolicy struct{}

func (SecondPolicy) Interval(days int) time.Duration {
	return time.Duration(days) * time.Second
}

func (SecondPolicy) RotateBy(now time.Time) time.Time {
	return now.UTC()
}

// PolicyForMode selects the policy for a configuration mode.
func PolicyForMode(development bool) TimeUnitPolicy {
	if development {
		return SecondPolicy{}
	}
	return DayPolicy{}
}
