package schedule

import "time"

// NextDue returns the instant the activity governed by rule is next due.
//
// With no previous occurrence it is the first occurrence at or after ref; a
// reference exactly on an occurrence counts as due. Otherwise it is the most
// recent occurrence at or before ref if that is later than last (any number
// of missed occurrences collapse into this one), or else the first
// occurrence strictly after last.
//
// The result is in the rule's location.
func NextDue(rule Rule, ref time.Time, last *time.Time) time.Time {
	if last == nil {
		return rule.atOrAfter(ref)
	}
	if p, ok := rule.atOrBefore(ref); ok && p.After(*last) {
		return p
	}
	return rule.atOrAfter(last.Add(time.Nanosecond))
}

// on returns the occurrence instant on the calendar day offset days from
// the date of ref. time.Date normalises day overflow so month, year and
// week boundaries need no special casing.
func (r Rule) on(ref time.Time, offset int) time.Time {
	y, m, d := ref.Date()
	return time.Date(y, m, d+offset, r.At.Hour, r.At.Minute, r.At.Second, 0, r.location())
}

// atOrAfter returns the first occurrence >= t. A week plus one day covers
// every allowed weekday, including t's own day after its occurrence passed.
func (r Rule) atOrAfter(t time.Time) time.Time {
	t = t.In(r.location())
	for i := 0; i <= 7; i++ {
		o := r.on(t, i)
		if r.allows(o.Weekday()) && !o.Before(t) {
			return o
		}
	}
	// Unreachable for a validated rule.
	return r.on(t, 7)
}

// atOrBefore returns the last occurrence <= t.
func (r Rule) atOrBefore(t time.Time) (time.Time, bool) {
	t = t.In(r.location())
	for i := 0; i >= -7; i-- {
		o := r.on(t, i)
		if r.allows(o.Weekday()) && !o.After(t) {
			return o, true
		}
	}
	return time.Time{}, false
}

// Previous returns the latest occurrence at or before ref.
func Previous(rule Rule, ref time.Time) time.Time {
	p, _ := rule.atOrBefore(ref)
	return p
}
