// Package schedule computes the next eligible run time for a template's
// recurrence rule. Pure functions only; both the registry and the scheduler
// loop rely on it.
package schedule

import (
	"time"

	"github.com/clinicore/report-exporter/internal/errors"
	"github.com/clinicore/report-exporter/internal/model"
)

// quarterAnchors are the first months of the calendar quarters quarterly
// schedules step through.
var quarterAnchors = []time.Month{time.January, time.April, time.July, time.October}

// NextRun returns the next run time strictly after ref. The result is always
// in the future relative to ref, regardless of how far in the past ref lies;
// recomputing from the previous finish time rather than the scheduled slot is
// what keeps missed runs from piling into a backlog.
func NextRun(s *model.Schedule, ref time.Time) (time.Time, error) {
	if s == nil {
		return time.Time{}, errors.Validation("schedule is nil",
			errors.WithID("schedule.next_run.nil"))
	}
	if err := s.Validate(); err != nil {
		return time.Time{}, err
	}
	hour, min := s.TimeOfDayClock()

	switch s.Frequency {
	case model.FrequencyDaily:
		next := ref.AddDate(0, 0, 1)
		return at(next, hour, min), nil

	case model.FrequencyWeekly:
		want := time.Weekday(*s.DayOfWeek)
		for d := 0; d <= 7; d++ {
			candidate := at(ref.AddDate(0, 0, d), hour, min)
			if candidate.Weekday() == want && candidate.After(ref) {
				return candidate, nil
			}
		}
		// Unreachable: a weekday recurs within any 8-day window.
		return time.Time{}, errors.Internal("weekly schedule did not converge",
			errors.WithID("schedule.next_run.weekly"))

	case model.FrequencyMonthly:
		year, month := ref.Year(), ref.Month()
		for i := 0; i < 2; i++ {
			candidate := onClampedDay(year, month, *s.DayOfMonth, hour, min, ref.Location())
			if candidate.After(ref) {
				return candidate, nil
			}
			year, month = nextMonth(year, month, 1)
		}
		return time.Time{}, errors.Internal("monthly schedule did not converge",
			errors.WithID("schedule.next_run.monthly"))

	case model.FrequencyQuarterly:
		year, month := ref.Year(), nextQuarterAnchor(ref.Month())
		if month < ref.Month() {
			year++
		}
		for i := 0; i < 2; i++ {
			candidate := onClampedDay(year, month, *s.DayOfMonth, hour, min, ref.Location())
			if candidate.After(ref) {
				return candidate, nil
			}
			year, month = nextMonth(year, month, 3)
		}
		return time.Time{}, errors.Internal("quarterly schedule did not converge",
			errors.WithID("schedule.next_run.quarterly"))
	}

	return time.Time{}, errors.Validation("unknown frequency: "+string(s.Frequency),
		errors.WithID("schedule.next_run.frequency"))
}

// at normalizes a date to the schedule's time of day.
func at(t time.Time, hour, min int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, min, 0, 0, t.Location())
}

// onClampedDay builds the run time for a month, clamping day-of-month 29..31
// to the last day of shorter months instead of wrapping into the next one.
func onClampedDay(year int, month time.Month, day, hour, min int, loc *time.Location) time.Time {
	if last := daysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, hour, min, 0, 0, loc)
}

func daysIn(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func nextMonth(year int, month time.Month, step int) (int, time.Month) {
	m := int(month) + step
	for m > 12 {
		m -= 12
		year++
	}
	return year, time.Month(m)
}

// nextQuarterAnchor returns the first anchor month >= m, wrapping to January.
func nextQuarterAnchor(m time.Month) time.Month {
	for _, anchor := range quarterAnchors {
		if anchor >= m {
			return anchor
		}
	}
	return time.January
}
