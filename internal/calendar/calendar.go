// Package calendar decides when messages are due and whose birthday falls on
// a given day. All comparisons use normalized civil dates rather than
// formatted strings.
package calendar

import (
	"time"

	"github.com/LeventeLantos/congregation-messaging/internal/model"
)

const dateKeyLayout = "2006-01-02"

// LatestOccurrence returns the most recent occurrence of a schedule at or
// before now. It returns false when the first occurrence is still ahead.
func LatestOccurrence(schedule time.Time, freq model.Frequency, now time.Time) (time.Time, bool) {
	if schedule.After(now) {
		return time.Time{}, false
	}

	switch freq {
	case model.Daily:
		return stepDays(schedule, now, 1), true
	case model.Weekly:
		return stepDays(schedule, now, 7), true
	case model.Monthly:
		at := schedule.In(now.Location())
		k := (now.Year()-at.Year())*12 + int(now.Month()) - int(at.Month())
		for k > 0 && AddMonths(schedule, k).After(now) {
			k--
		}
		return AddMonths(schedule, k), true
	default:
		return schedule, true
	}
}

func stepDays(schedule, now time.Time, step int) time.Time {
	k := int(now.Sub(schedule)/(24*time.Hour)) / step
	for k > 0 && schedule.AddDate(0, 0, k*step).After(now) {
		k--
	}
	for !schedule.AddDate(0, 0, (k+1)*step).After(now) {
		k++
	}
	return schedule.AddDate(0, 0, k*step)
}

// AddMonths adds n months keeping the day of month, clamped to the last day
// of the target month (Jan 31 + 1 month is Feb 28 or 29).
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first.Year(), first.Month()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// IsDue reports whether a scheduled (non-birthday) message should be sent at now.
func IsDue(m model.Message, now time.Time) bool {
	if !m.Eligible(now) {
		return false
	}
	if !m.IsRecurring() {
		return true
	}
	if Expired(m, now) {
		return false
	}
	occ, ok := LatestOccurrence(m.ScheduleTime, m.Frequency, now)
	if !ok {
		return false
	}
	if m.LastSentAt == nil {
		return true
	}
	return m.LastSentAt.Before(occ)
}

// Expired reports whether a recurring message has passed its end date.
func Expired(m model.Message, now time.Time) bool {
	return m.IsRecurring() && m.EndDate != nil && now.After(*m.EndDate)
}

// BirthdayMatches reports whether a member born on dob should be greeted on
// today, daysBefore days ahead of the birthday. The year of birth is ignored.
// A Feb 29 birthday is observed on Feb 28 in non-leap years.
func BirthdayMatches(dob, today time.Time, daysBefore int) bool {
	if daysBefore < 0 {
		daysBefore = 0
	}
	y, m, d := today.Date()
	target := time.Date(y, m, d+daysBefore, 0, 0, 0, 0, time.UTC)

	om, od := observedBirthday(dob, target.Year())
	return target.Month() == om && target.Day() == od
}

func observedBirthday(dob time.Time, year int) (time.Month, int) {
	_, m, d := dob.Date()
	if m == time.February && d == 29 && !isLeap(year) {
		return time.February, 28
	}
	return m, d
}

// DateKey is the calendar day of t in loc, used to key same-day dedup.
func DateKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(dateKeyLayout)
}

// Today returns midnight of the calendar day containing now in loc.
func Today(now time.Time, loc *time.Location) time.Time {
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
