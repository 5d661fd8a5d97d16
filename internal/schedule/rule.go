// Package schedule contains the pure recurrence calculator.
// This package does no I/O (no GPIO, storage, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Kind distinguishes the recurrence variants.
type Kind int

const (
	KindDaily Kind = iota + 1
	KindWeekly
)

func (k Kind) String() string {
	switch k {
	case KindDaily:
		return "daily"
	case KindWeekly:
		return "weekly"
	}
	return "unknown"
}

// TimeOfDay is a wall-clock time within a day.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

func (t TimeOfDay) String() string {
	if t.Second != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
	}
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

func (t TimeOfDay) valid() bool {
	return t.Hour >= 0 && t.Hour < 24 &&
		t.Minute >= 0 && t.Minute < 60 &&
		t.Second >= 0 && t.Second < 60
}

// Rule is an immutable recurrence rule. Build it with Daily or Weekly.
type Rule struct {
	Kind Kind
	At   TimeOfDay
	// Weekday is the single allowed day of a weekly rule.
	Weekday time.Weekday
	// days is a bitmask of allowed weekdays (bit n = time.Weekday(n)).
	days uint8
	// Location is the zone At is interpreted in. Nil means time.Local.
	Location *time.Location
}

const everyDay uint8 = 1<<7 - 1

// Daily returns a rule firing at at every day, or only on the given weekdays.
func Daily(at TimeOfDay, weekdays ...time.Weekday) Rule {
	r := Rule{Kind: KindDaily, At: at, days: everyDay}
	if len(weekdays) > 0 {
		r.days = 0
		for _, d := range weekdays {
			r.days |= 1 << uint(d)
		}
	}
	return r
}

// Weekly returns a rule firing once a week on day at at.
func Weekly(day time.Weekday, at TimeOfDay) Rule {
	return Rule{Kind: KindWeekly, At: at, Weekday: day, days: 1 << uint(day)}
}

// In returns a copy of r interpreted in loc.
func (r Rule) In(loc *time.Location) Rule {
	r.Location = loc
	return r
}

// Weekdays returns the allowed weekdays in Sunday-first order.
func (r Rule) Weekdays() []time.Weekday {
	var out []time.Weekday
	for d := time.Sunday; d <= time.Saturday; d++ {
		if r.allows(d) {
			out = append(out, d)
		}
	}
	return out
}

func (r Rule) allows(d time.Weekday) bool {
	return r.days&(1<<uint(d)) != 0
}

func (r Rule) location() *time.Location {
	if r.Location == nil {
		return time.Local
	}
	return r.Location
}

// Validate reports whether the rule can produce occurrences.
func (r Rule) Validate() error {
	if !r.At.valid() {
		return errors.Newf("invalid time of day %s", r.At)
	}
	switch r.Kind {
	case KindDaily:
		if r.days == 0 {
			return errors.New("daily rule has no weekdays")
		}
	case KindWeekly:
		if r.Weekday < time.Sunday || r.Weekday > time.Saturday {
			return errors.Newf("invalid weekday %d", r.Weekday)
		}
	default:
		return errors.Newf("unknown rule kind %d", r.Kind)
	}
	return nil
}

func (r Rule) String() string {
	switch r.Kind {
	case KindWeekly:
		return fmt.Sprintf("weekly %s %s", dayName(r.Weekday), r.At)
	case KindDaily:
		if r.days == everyDay {
			return fmt.Sprintf("daily %s", r.At)
		}
		names := make([]string, 0, 7)
		for _, d := range r.Weekdays() {
			names = append(names, dayName(d))
		}
		return fmt.Sprintf("daily %s %s", strings.Join(names, ","), r.At)
	}
	return "invalid"
}

var dayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

func dayName(d time.Weekday) string {
	return strings.ToLower(d.String()[:3])
}

// ParseWeekday accepts full or three-letter English day names.
func ParseWeekday(s string) (time.Weekday, error) {
	d, ok := dayNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, errors.Newf("unknown weekday %q", s)
	}
	return d, nil
}

// ParseTimeOfDay parses HH:MM or HH:MM:SS.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return TimeOfDay{}, errors.Newf("invalid time of day %q (expected HH:MM)", s)
	}
	var vals [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return TimeOfDay{}, errors.Wrapf(err, "invalid time of day %q", s)
		}
		vals[i] = n
	}
	t := TimeOfDay{Hour: vals[0], Minute: vals[1], Second: vals[2]}
	if !t.valid() {
		return TimeOfDay{}, errors.Newf("time of day %q out of range", s)
	}
	return t, nil
}

// ParseRule parses the configuration form of a rule:
//
//	daily 08:00
//	daily sat,sun 06:30
//	weekly mon 09:00
func ParseRule(s string) (Rule, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return Rule{}, errors.New("empty schedule")
	}
	switch strings.ToLower(fields[0]) {
	case "daily":
		switch len(fields) {
		case 2:
			at, err := ParseTimeOfDay(fields[1])
			if err != nil {
				return Rule{}, err
			}
			return Daily(at), nil
		case 3:
			var days []time.Weekday
			for _, name := range strings.Split(fields[1], ",") {
				d, err := ParseWeekday(name)
				if err != nil {
					return Rule{}, err
				}
				days = append(days, d)
			}
			at, err := ParseTimeOfDay(fields[2])
			if err != nil {
				return Rule{}, err
			}
			return Daily(at, days...), nil
		}
	case "weekly":
		if len(fields) == 3 {
			d, err := ParseWeekday(fields[1])
			if err != nil {
				return Rule{}, err
			}
			at, err := ParseTimeOfDay(fields[2])
			if err != nil {
				return Rule{}, err
			}
			return Weekly(d, at), nil
		}
	}
	return Rule{}, errors.Newf("invalid schedule %q", s)
}
