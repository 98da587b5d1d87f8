package schema

import "time"

// Repeat is a recurrence rule for a task's due date.
type Repeat string

const (
	RepeatNone     Repeat = ""
	RepeatDaily    Repeat = "daily"
	RepeatWeekdays Repeat = "weekdays"
	RepeatWeekly   Repeat = "weekly"
	RepeatMonthly  Repeat = "monthly"
	RepeatYearly   Repeat = "yearly"
)

// Valid reports whether r is a known rule. The empty rule is valid.
func (r Repeat) Valid() bool {
	switch r {
	case RepeatNone, RepeatDaily, RepeatWeekdays, RepeatWeekly, RepeatMonthly, RepeatYearly:
		return true
	}
	return false
}

// Next returns the first occurrence strictly after from. The empty rule
// returns from unchanged.
func (r Repeat) Next(from time.Time) time.Time {
	switch r {
	case RepeatDaily:
		return from.AddDate(0, 0, 1)
	case RepeatWeekdays:
		next := from.AddDate(0, 0, 1)
		for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
			next = next.AddDate(0, 0, 1)
		}
		return next
	case RepeatWeekly:
		return from.AddDate(0, 0, 7)
	case RepeatMonthly:
		return from.AddDate(0, 1, 0)
	case RepeatYearly:
		return from.AddDate(1, 0, 0)
	}
	return from
}
