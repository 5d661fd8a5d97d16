package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// This is annoying to think about so here's a calendar for Jan 2020
//
//	     Mon Tue Wed Thu Fri Sat Sun
//	Wk1          01  02  03  04  05
//	Wk2  06  07  08  09  10  11  12
//	Wk3  13  14  15  16  17  18  19
func at(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.ParseInLocation("2006-01-02T15:04:05", s, time.UTC)
	require.NoError(t, err)
	return v
}

func ptr(v time.Time) *time.Time { return &v }

func hm(h, m int) TimeOfDay { return TimeOfDay{Hour: h, Minute: m} }

func TestDailySameDay(t *testing.T) {
	rule := Daily(hm(9, 0)).In(time.UTC)
	got := NextDue(rule, at(t, "2020-01-01T08:00:00"), nil)
	assert.Equal(t, at(t, "2020-01-01T09:00:00"), got)
}

func TestDailyNextDay(t *testing.T) {
	rule := Daily(hm(9, 0)).In(time.UTC)
	got := NextDue(rule, at(t, "2020-01-01T10:00:00"), nil)
	assert.Equal(t, at(t, "2020-01-02T09:00:00"), got)
}

func TestDailyNextDayWeekBoundary(t *testing.T) {
	rule := Daily(hm(9, 0)).In(time.UTC)
	got := NextDue(rule, at(t, "2020-01-05T10:00:00"), nil)
	assert.Equal(t, at(t, "2020-01-06T09:00:00"), got)
}

func TestDailyYearBoundary(t *testing.T) {
	rule := Daily(hm(6, 0)).In(time.UTC)
	got := NextDue(rule, at(t, "2019-12-31T23:59:59"), nil)
	assert.Equal(t, at(t, "2020-01-01T06:00:00"), got)
}

func TestDailyTieCountsAsDue(t *testing.T) {
	rule := Daily(hm(8, 0)).In(time.UTC)
	now := at(t, "2020-01-01T08:00:00")
	assert.Equal(t, now, NextDue(rule, now, nil))
}

func TestDailyBeforeAndAfterProperty(t *testing.T) {
	for h := 0; h < 24; h++ {
		rule := Daily(hm(h, 30)).In(time.UTC)
		day := at(t, "2020-03-10T00:00:00")
		due := day.Add(time.Duration(h)*time.Hour + 30*time.Minute)

		for ref := day; ref.Before(day.Add(24 * time.Hour)); ref = ref.Add(17 * time.Minute) {
			got := NextDue(rule, ref, nil)
			if ref.After(due) {
				assert.Equal(t, due.AddDate(0, 0, 1), got, "ref=%s", ref)
			} else {
				assert.Equal(t, due, got, "ref=%s", ref)
			}
		}
	}
}

func TestDailyWeekdaysSameWeek(t *testing.T) {
	now := at(t, "2020-01-01T10:00:00")
	require.Equal(t, time.Wednesday, now.Weekday())

	// Next trigger is in the same week but earlier
	rule := Daily(hm(8, 0), time.Friday).In(time.UTC)
	assert.Equal(t, at(t, "2020-01-03T08:00:00"), NextDue(rule, now, nil))

	// Next trigger is in the same week but later
	rule = Daily(hm(10, 0), time.Friday).In(time.UTC)
	assert.Equal(t, at(t, "2020-01-03T10:00:00"), NextDue(rule, now, nil))
}

func TestDailyWeekdaysNextWeek(t *testing.T) {
	now := at(t, "2020-01-01T10:00:00")

	rule := Daily(hm(8, 0), time.Tuesday).In(time.UTC)
	assert.Equal(t, at(t, "2020-01-07T08:00:00"), NextDue(rule, now, nil))

	rule = Daily(hm(10, 0), time.Tuesday).In(time.UTC)
	assert.Equal(t, at(t, "2020-01-07T10:00:00"), NextDue(rule, now, nil))
}

func TestDailyWithLastOnPriorDate(t *testing.T) {
	rule := Daily(hm(8, 0)).In(time.UTC)
	last := ptr(at(t, "2020-01-01T08:00:05"))

	// Today's occurrence has not passed yet.
	assert.Equal(t, at(t, "2020-01-02T08:00:00"),
		NextDue(rule, at(t, "2020-01-02T07:00:00"), last))

	// Today's occurrence has passed and is outstanding.
	assert.Equal(t, at(t, "2020-01-02T08:00:00"),
		NextDue(rule, at(t, "2020-01-02T11:00:00"), last))
}

func TestDailyCompletedToday(t *testing.T) {
	rule := Daily(hm(8, 0)).In(time.UTC)
	last := ptr(at(t, "2020-01-02T08:00:05"))
	assert.Equal(t, at(t, "2020-01-03T08:00:00"),
		NextDue(rule, at(t, "2020-01-02T11:00:00"), last))
}

func TestDailyCompletedExactlyAtOccurrence(t *testing.T) {
	rule := Daily(hm(8, 0)).In(time.UTC)
	last := ptr(at(t, "2020-01-02T08:00:00"))
	assert.Equal(t, at(t, "2020-01-03T08:00:00"),
		NextDue(rule, at(t, "2020-01-02T08:00:00"), last))
}

func TestLargeGapCollapsesToSingleOccurrence(t *testing.T) {
	rule := Daily(hm(8, 0)).In(time.UTC)
	last := ptr(at(t, "2020-01-01T08:00:05"))
	ref := at(t, "2020-02-03T12:00:00")

	got := NextDue(rule, ref, last)
	assert.Equal(t, at(t, "2020-02-03T08:00:00"), got)

	// Completing it moves on to the next future occurrence, no backlog.
	got = NextDue(rule, ref, ptr(ref))
	assert.Equal(t, at(t, "2020-02-04T08:00:00"), got)
}

func TestWeeklySundayNightBeforeMonday(t *testing.T) {
	rule := Weekly(time.Monday, hm(9, 0)).In(time.UTC)
	ref := at(t, "2020-01-05T23:59:00")
	require.Equal(t, time.Sunday, ref.Weekday())

	assert.Equal(t, at(t, "2020-01-06T09:00:00"), NextDue(rule, ref, nil))
}

func TestWeeklyRollsOverWeekBoundary(t *testing.T) {
	// Saturday is the final weekday before the Sunday-first boundary.
	rule := Weekly(time.Saturday, hm(6, 0)).In(time.UTC)

	assert.Equal(t, at(t, "2020-01-04T06:00:00"), NextDue(rule, at(t, "2020-01-04T05:00:00"), nil))
	assert.Equal(t, at(t, "2020-01-11T06:00:00"), NextDue(rule, at(t, "2020-01-04T06:00:01"), nil))
	assert.Equal(t, at(t, "2020-01-11T06:00:00"), NextDue(rule, at(t, "2020-01-05T00:00:00"), nil))
}

func TestWeeklyJustBeforeAndAfter(t *testing.T) {
	rule := Weekly(time.Wednesday, hm(8, 0)).In(time.UTC)

	assert.Equal(t, at(t, "2020-01-15T08:00:00"), NextDue(rule, at(t, "2020-01-15T06:00:00"), nil))
	assert.Equal(t, at(t, "2020-01-15T08:00:00"), NextDue(rule, at(t, "2020-01-15T08:00:00"), nil))
	assert.Equal(t, at(t, "2020-01-22T08:00:00"), NextDue(rule, at(t, "2020-01-15T08:00:01"), nil))
	assert.Equal(t, at(t, "2020-01-15T08:00:00"), NextDue(rule, at(t, "2020-01-13T06:00:00"), nil))
}

func TestWeeklyWithLast(t *testing.T) {
	rule := Weekly(time.Wednesday, hm(8, 0)).In(time.UTC)
	last := ptr(at(t, "2020-01-01T09:00:00"))

	// Several weeks unseen: only the latest occurrence is due.
	assert.Equal(t, at(t, "2020-02-12T08:00:00"),
		NextDue(rule, at(t, "2020-02-13T06:00:00"), last))

	// Completed this week: next week.
	assert.Equal(t, at(t, "2020-01-08T08:00:00"),
		NextDue(rule, at(t, "2020-01-03T06:00:00"), last))
}

func TestWeeklyNeverMoreThanSevenDaysAhead(t *testing.T) {
	start := at(t, "2020-01-01T00:00:00")
	for day := time.Sunday; day <= time.Saturday; day++ {
		rule := Weekly(day, hm(9, 15)).In(time.UTC)
		for ref := start; ref.Before(start.AddDate(0, 0, 15)); ref = ref.Add(97 * time.Minute) {
			got := NextDue(rule, ref, nil)
			assert.False(t, got.Before(ref), "due %s before ref %s", got, ref)
			assert.LessOrEqual(t, got.Sub(ref), 7*24*time.Hour)
			assert.Equal(t, day, got.Weekday())
			assert.Equal(t, 9, got.Hour())
			assert.Equal(t, 15, got.Minute())
		}
	}
}

func TestNextDueIdempotent(t *testing.T) {
	rules := []Rule{
		Daily(hm(8, 0)).In(time.UTC),
		Daily(hm(6, 0), time.Saturday).In(time.UTC),
		Weekly(time.Monday, hm(9, 0)).In(time.UTC),
	}
	ref := at(t, "2020-01-05T23:59:00")
	last := ptr(at(t, "2019-12-20T10:00:00"))
	for _, r := range rules {
		assert.Equal(t, NextDue(r, ref, nil), NextDue(r, ref, nil), r.String())
		assert.Equal(t, NextDue(r, ref, last), NextDue(r, ref, last), r.String())
	}
}

func TestNextDueInLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	rule := Daily(hm(8, 0)).In(loc)
	// 05:00 UTC is 07:00 local, so today's 08:00 local is still ahead.
	got := NextDue(rule, at(t, "2020-01-01T05:00:00"), nil)
	assert.True(t, got.Equal(at(t, "2020-01-01T06:00:00")), "got %s", got)
}

func TestPrevious(t *testing.T) {
	rule := Weekly(time.Monday, hm(9, 0)).In(time.UTC)
	assert.Equal(t, at(t, "2020-01-06T09:00:00"), Previous(rule, at(t, "2020-01-06T09:00:00")))
	assert.Equal(t, at(t, "2019-12-30T09:00:00"), Previous(rule, at(t, "2020-01-06T08:59:59")))

	daily := Daily(hm(8, 0)).In(time.UTC)
	assert.Equal(t, at(t, "2020-01-01T08:00:00"), Previous(daily, at(t, "2020-01-01T08:30:00")))
}
