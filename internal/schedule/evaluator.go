// Package schedule evaluates business-hours schedules. Evaluation is a
// pure function of (schedule, instant): no clock, no I/O, no ambient state.
package schedule

import (
	"fmt"
	"sort"
	"time"

	"github.com/greenfieldtech-nirs/opbx-sub005/internal/database/models"
)

// Status is the open/closed outcome of an evaluation.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Result is the outcome of evaluating a schedule at an instant.
type Result struct {
	Status Status

	// Reason is a human-readable explanation for operators and logs.
	Reason string

	// ExceptionApplied is true when a date exception decided the status.
	ExceptionApplied bool

	// NextTransition is the next time the status changes, when it can be
	// determined within the lookahead window. Display only: it never
	// affects the status decision.
	NextTransition *time.Time
}

// nextTransitionLookahead bounds the scan for the next open/close boundary.
const nextTransitionLookahead = 8 // days

// dateLayout formats calendar dates the way exceptions store them.
const dateLayout = "2006-01-02"

// Evaluate determines whether the schedule is open at the given instant.
// The instant is converted to civil time in the schedule's timezone, so
// daylight-saving transitions are honored for the named zone. Range bounds
// are start-inclusive, end-exclusive.
func Evaluate(s *models.BusinessHoursSchedule, at time.Time) (Result, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return Result{}, fmt.Errorf("loading timezone %q: %w", s.Timezone, err)
	}

	if s.Status != models.ScheduleActive {
		return Result{
			Status: StatusClosed,
			Reason: "schedule is inactive",
		}, nil
	}

	local := at.In(loc)
	date := local.Format(dateLayout)
	minute := local.Hour()*60 + local.Minute()

	res := evaluateAt(s, local.Weekday(), date, minute)
	res.NextTransition = nextTransition(s, local, res.Status)
	return res, nil
}

// evaluateAt decides the status for a local calendar date and minute of day.
func evaluateAt(s *models.BusinessHoursSchedule, weekday time.Weekday, date string, minute int) Result {
	if ex := exceptionFor(s, date); ex != nil {
		switch ex.Kind {
		case models.ExceptionClosed:
			return Result{
				Status:           StatusClosed,
				Reason:           exceptionReason(ex, "closed"),
				ExceptionApplied: true,
			}
		case models.ExceptionSpecialHours:
			if containsMinute(MergeRanges(ex.Ranges), minute) {
				return Result{
					Status:           StatusOpen,
					Reason:           exceptionReason(ex, "special hours"),
					ExceptionApplied: true,
				}
			}
			return Result{
				Status:           StatusClosed,
				Reason:           exceptionReason(ex, "outside special hours"),
				ExceptionApplied: true,
			}
		}
		// Unknown exception kinds are ignored rather than failing the call.
	}

	day := dayFor(s, weekday)
	if day == nil || !day.Enabled || len(day.Ranges) == 0 {
		return Result{
			Status: StatusClosed,
			Reason: fmt.Sprintf("%s is not a working day", weekday),
		}
	}

	if containsMinute(MergeRanges(day.Ranges), minute) {
		return Result{
			Status: StatusOpen,
			Reason: fmt.Sprintf("within %s working hours", weekday),
		}
	}
	return Result{
		Status: StatusClosed,
		Reason: fmt.Sprintf("outside %s working hours", weekday),
	}
}

// exceptionFor returns the exception for a calendar date, or nil. At most
// one exception exists per date (enforced by the data layer).
func exceptionFor(s *models.BusinessHoursSchedule, date string) *models.ScheduleException {
	for i := range s.Exceptions {
		if s.Exceptions[i].Date == date {
			return &s.Exceptions[i]
		}
	}
	return nil
}

// dayFor returns the weekly entry for a weekday, or nil.
func dayFor(s *models.BusinessHoursSchedule, weekday time.Weekday) *models.ScheduleDay {
	for i := range s.Days {
		if s.Days[i].Weekday == weekday {
			return &s.Days[i]
		}
	}
	return nil
}

func exceptionReason(ex *models.ScheduleException, what string) string {
	if ex.Name != "" {
		return fmt.Sprintf("%s: %s", ex.Name, what)
	}
	return fmt.Sprintf("date exception: %s", what)
}

// MergeRanges sorts ranges by start and merges overlapping or adjacent
// intervals into a union of coverage. Overlaps are merged, not rejected.
func MergeRanges(ranges []models.TimeRange) []models.TimeRange {
	if len(ranges) <= 1 {
		return ranges
	}

	sorted := make([]models.TimeRange, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].StartMin < sorted[j].StartMin
	})

	merged := sorted[:1]
	for _, r := range sorted[1:] {
		last := &merged[len(merged)-1]
		if r.StartMin <= last.EndMin {
			if r.EndMin > last.EndMin {
				last.EndMin = r.EndMin
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// containsMinute reports whether the minute of day falls inside any of the
// merged ranges. Start is inclusive, end exclusive: a call at exactly the
// end minute is outside the range.
func containsMinute(merged []models.TimeRange, minute int) bool {
	for _, r := range merged {
		if minute >= r.StartMin && minute < r.EndMin {
			return true
		}
	}
	return false
}

// nextTransition scans forward for the next status boundary, checking the
// remainder of today and then subsequent days within the lookahead window.
// Returns nil when no boundary is found.
func nextTransition(s *models.BusinessHoursSchedule, local time.Time, current Status) *time.Time {
	minute := local.Hour()*60 + local.Minute()

	for offset := 0; offset < nextTransitionLookahead; offset++ {
		day := local.AddDate(0, 0, offset)
		date := day.Format(dateLayout)
		startMinute := -1
		if offset == 0 {
			startMinute = minute
		}

		for _, boundary := range boundariesFor(s, day.Weekday(), date) {
			if boundary <= startMinute {
				continue
			}
			status := evaluateAt(s, day.Weekday(), date, boundary).Status
			if status != current {
				t := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location()).
					Add(time.Duration(boundary) * time.Minute)
				return &t
			}
		}
	}
	return nil
}

// boundariesFor returns the sorted candidate transition minutes for a
// calendar date: the merged range starts and ends of whichever rule set
// (exception or weekly) governs that date, plus midnight.
func boundariesFor(s *models.BusinessHoursSchedule, weekday time.Weekday, date string) []int {
	var ranges []models.TimeRange
	if ex := exceptionFor(s, date); ex != nil {
		ranges = ex.Ranges
	} else if day := dayFor(s, weekday); day != nil && day.Enabled {
		ranges = day.Ranges
	}

	bounds := []int{0}
	for _, r := range MergeRanges(ranges) {
		bounds = append(bounds, r.StartMin, r.EndMin)
	}
	sort.Ints(bounds)
	return bounds
}
