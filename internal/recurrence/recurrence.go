// Package recurrence decides when a reminder should be called.
//
// All calendar comparisons happen in the location of the instant passed as
// now, which is the deployment's local timezone when driven by the scheduler.
package recurrence

import (
	"time"

	"github.com/pathakanu/callMemo/internal/model"
)

// IsDue reports whether the reminder should be executed at the minute containing now.
func IsDue(r model.Reminder, now time.Time) bool {
	if !r.IsActive {
		return false
	}
	if now.Hour() != r.ScheduledHour || now.Minute() != r.ScheduledMinute {
		return false
	}
	return periodElapsed(r, now)
}

// periodElapsed applies the recurrence rules independently of the wall-clock match.
func periodElapsed(r model.Reminder, now time.Time) bool {
	if r.LastExecutedAt == nil {
		return true
	}

	last := r.LastExecutedAt.In(now.Location())
	today := dateOf(now)

	switch r.Recurrence {
	case model.RecurrenceDaily:
		return dateOf(last).Before(today)
	case model.RecurrenceWeekly:
		return !dateOf(last).After(today.AddDate(0, 0, -7))
	case model.RecurrenceMonthly:
		return last.Year() != now.Year() || last.Month() != now.Month()
	default:
		// one-time and unrecognised values never repeat.
		return false
	}
}

// NeedsDeactivation reports a one-time reminder that already ran but is still active.
func NeedsDeactivation(r model.Reminder) bool {
	return r.IsActive && r.Recurrence == model.RecurrenceOneTime && r.LastExecutedAt != nil
}

// NextOccurrence returns the first instant at or after now whose wall clock
// matches the reminder's scheduled hour and minute.
func NextOccurrence(r model.Reminder, now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), r.ScheduledHour, r.ScheduledMinute, 0, 0, now.Location())
	if next.Before(now.Truncate(time.Minute)) {
		next = followingDay(r, next)
	}
	return next
}

// UpcomingWithin returns the first occurrence within window of now at which
// the reminder would be due. Occurrences it would not be due at are skipped.
func UpcomingWithin(r model.Reminder, now time.Time, window time.Duration) (time.Time, bool) {
	if !r.IsActive {
		return time.Time{}, false
	}
	limit := now.Add(window)
	for next := NextOccurrence(r, now); !next.After(limit); next = followingDay(r, next) {
		if IsDue(r, next) {
			return next, true
		}
	}
	return time.Time{}, false
}

func followingDay(r model.Reminder, t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+1, r.ScheduledHour, r.ScheduledMinute, 0, 0, t.Location())
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
